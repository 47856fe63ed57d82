// Command chatbot is the Telegram webhook fan-in: it validates the shared
// secret header, parses the command grammar, and makes the service's two
// fan-in calls into the core — the KV-backed watchlist and the analysis
// responder's HTTP endpoint (spec.md §1 "the chat-bot command grammar beyond
// its two fan-in calls into the core" is explicitly out of scope). Exposes
// POST /telegram.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"marketfusion/internal/config"
	"marketfusion/internal/httpserver"
	"marketfusion/internal/kv"
	"marketfusion/internal/logging"
	"marketfusion/internal/oracle"
)

func main() {
	logger, err := logging.New("chatbot")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("chatbot exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rdb, err := kv.New(kv.Config{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB, PoolSize: cfg.Redis.PoolSize}, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	bot := &bot{
		cfg:    cfg,
		store:  rdb,
		logger: logger,
		client: &http.Client{Timeout: time.Duration(cfg.Chatbot.RequestTimeoutSec) * time.Second},
	}

	e := httpserver.New(logger, httpserver.RateLimitConfig{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	e.POST("/telegram", bot.handleTelegram)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		if err := e.Start(addr); err != nil {
			logger.Info("http server stopped", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()
	return httpserver.Shutdown(e, 10*time.Second)
}

type bot struct {
	cfg    *config.Config
	store  *kv.Store
	logger *zap.Logger
	client *http.Client
}

// telegramUpdate is the minimal slice of the Telegram Bot API update payload
// this service reads, grounded on telegram-command-bot/src/main.py's
// handle_telegram.
type telegramUpdate struct {
	Message       *telegramMessage `json:"message"`
	EditedMessage *telegramMessage `json:"edited_message"`
}

type telegramMessage struct {
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

// handleTelegram validates the webhook secret header then dispatches the
// parsed command, grounded on telegram-command-bot/src/main.py's
// handle_telegram / get_secret_header.
func (b *bot) handleTelegram(c echo.Context) error {
	if b.cfg.TelegramSecretTok != "" {
		hdr := c.Request().Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if hdr != b.cfg.TelegramSecretTok {
			b.logger.Warn("rejecting telegram webhook with invalid secret token")
			return c.NoContent(http.StatusUnauthorized)
		}
	}

	var update telegramUpdate
	if err := c.Bind(&update); err != nil {
		return httpserver.Dropped(c)
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat.ID == 0 {
		return httpserver.Dropped(c)
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	cmd, args := parseCommand(msg.Text)

	ctx := c.Request().Context()
	switch cmd {
	case "/start", "/help":
		b.send(ctx, chatID, helpText)
	case "/watch":
		b.handleWatch(ctx, chatID, args)
	case "/watchlist":
		b.handleWatchlist(ctx, chatID)
	case "/analyze":
		b.handleAnalyze(ctx, chatID, args)
	}

	return c.NoContent(http.StatusNoContent)
}

const helpText = "<b>Market Fusion Assistant</b>\n\n" +
	"/watch SYMBOL - follow a symbol\n" +
	"/watchlist - show your followed symbols\n" +
	"/analyze SYMBOL [timeframe] - run a Triple Fusion analysis"

// parseCommand splits a Telegram message's text into a lower-cased command
// (stripping any @botname suffix) and its arguments, grounded on
// telegram-command-bot/src/main.py's parse_command.
func parseCommand(text string) (string, []string) {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "/") {
		return "", nil
	}
	fields := strings.Fields(t)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	return cmd, fields[1:]
}

func (b *bot) handleWatch(ctx context.Context, chatID string, args []string) {
	if len(args) < 1 {
		b.send(ctx, chatID, "Usage: /watch SYMBOL")
		return
	}
	symbol := strings.ToUpper(args[0])
	if err := b.store.AddWatch(ctx, chatID, symbol); err != nil {
		b.logger.Warn("add watch failed", zap.String("chat_id", chatID), zap.Error(err))
		b.send(ctx, chatID, "Could not update watchlist, try again later.")
		return
	}
	b.send(ctx, chatID, fmt.Sprintf("Added <b>%s</b> to watchlist.", symbol))
}

func (b *bot) handleWatchlist(ctx context.Context, chatID string) {
	symbols, err := b.store.Watchlist(ctx, chatID)
	if err != nil {
		b.logger.Warn("fetch watchlist failed", zap.String("chat_id", chatID), zap.Error(err))
		b.send(ctx, chatID, "Could not fetch watchlist, try again later.")
		return
	}
	if len(symbols) == 0 {
		b.send(ctx, chatID, "Watchlist is empty. Use /watch SYMBOL to add one.")
		return
	}
	var lines strings.Builder
	lines.WriteString("<b>Your watchlist:</b>\n")
	for _, s := range symbols {
		fmt.Fprintf(&lines, "- %s\n", s)
	}
	b.send(ctx, chatID, lines.String())
}

func (b *bot) handleAnalyze(ctx context.Context, chatID string, args []string) {
	if len(args) < 1 {
		b.send(ctx, chatID, "Usage: /analyze SYMBOL [timeframe]")
		return
	}
	symbol := strings.ToUpper(args[0])
	timeframe := "1m"
	if len(args) >= 2 {
		timeframe = args[1]
	}

	if b.cfg.Chatbot.AnalysisResponderURL == "" {
		b.send(ctx, chatID, "Analysis is not configured.")
		return
	}

	answer, err := b.callAnalyze(ctx, symbol, timeframe)
	if err != nil {
		b.logger.Warn("analyze call failed", zap.String("symbol", symbol), zap.Error(err))
		b.send(ctx, chatID, fmt.Sprintf("Analysis failed for %s: %v", symbol, err))
		return
	}
	b.send(ctx, chatID, formatAnalyzeResult(symbol, answer))
}

// callAnalyze is the chat-bot's second fan-in call into the core: a plain
// HTTP POST to the analysis responder's /analyze endpoint.
func (b *bot) callAnalyze(ctx context.Context, symbol, timeframe string) (oracle.Answer, error) {
	body, err := json.Marshal(map[string]string{"symbol": symbol, "timeframe": timeframe})
	if err != nil {
		return oracle.Answer{}, err
	}

	url := strings.TrimRight(b.cfg.Chatbot.AnalysisResponderURL, "/") + "/analyze"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return oracle.Answer{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return oracle.Answer{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return oracle.Answer{}, fmt.Errorf("analysis responder returned status %d", resp.StatusCode)
	}

	var answer oracle.Answer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return oracle.Answer{}, fmt.Errorf("decode analyze response: %w", err)
	}
	return answer, nil
}

// formatAnalyzeResult renders an oracle.Answer as a Telegram HTML message,
// grounded on telegram-command-bot/src/main.py's format_analyze_result.
func formatAnalyzeResult(symbol string, a oracle.Answer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s Analysis</b>\n", symbol)
	fmt.Fprintf(&b, "Price: %.4f | Trend: %s | Vol: %s\n", a.Snapshot.LatestPrice, a.MarketStructure.Trend, a.Snapshot.VolatilityRegime)
	fmt.Fprintf(&b, "\n<b>Action: %s</b>\n", a.SuggestedAction.Action)
	fmt.Fprintf(&b, "Confidence: %d%%\n", a.SuggestedAction.Confidence)
	fmt.Fprintf(&b, "Timing: %s\n", a.SuggestedAction.TimingWindow)

	if len(a.SuggestedAction.RiskFlags) > 0 {
		fmt.Fprintf(&b, "Risks: %s\n", strings.Join(a.SuggestedAction.RiskFlags, ", "))
	}
	if len(a.Catalysts.NewsTop3) > 0 {
		b.WriteString("\nNews:\n")
		for _, n := range a.Catalysts.NewsTop3 {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	if len(a.Catalysts.SocialTop3) > 0 {
		b.WriteString("\nSocial:\n")
		for _, s := range a.Catalysts.SocialTop3 {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("\n<i>Decision support only, not financial advice.</i>")
	return b.String()
}

// send posts a message to the given chat via the Telegram Bot API, grounded
// on telegram-command-bot/src/tg_api.py's send_message.
func (b *bot) send(ctx context.Context, chatID, text string) {
	if b.cfg.TelegramBotToken == "" || chatID == "" {
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", b.cfg.TelegramBotToken)
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		b.logger.Error("marshal telegram payload failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		b.logger.Error("build telegram request failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error("telegram send failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.logger.Warn("telegram returned non-2xx", zap.Int("status", resp.StatusCode))
	}
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		execPath, _ := os.Executable()
		path = filepath.Join(filepath.Dir(execPath), "configs", "config.yaml")
	}
	return config.NewConfigLoader().LoadConfig(path)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
}
