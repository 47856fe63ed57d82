// Command newsingestor polls financial news (Finnhub + RSS) and social
// platforms (Reddit) on a schedule, republishes raw records onto news.raw /
// social.raw, and writes extracted-symbol evidence directly into the
// evidence buffer (spec.md §2 "news ingestor -> evidence buffer" and
// "social ingestor -> evidence buffer"). Grounded on original_source's
// news-collector/src/main.py (Finnhub + RSS fetch, POST /run trigger,
// redis_dedup.py's seen/mark dedup) and social-worker/src/adapters.py's
// RedditAdapter (the one platform needing no API credential).
package main

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"marketfusion/internal/bus"
	"marketfusion/internal/config"
	"marketfusion/internal/evidence"
	"marketfusion/internal/fusion"
	"marketfusion/internal/httpserver"
	"marketfusion/internal/kv"
	"marketfusion/internal/logging"
	"marketfusion/internal/metrics"
	"marketfusion/pkg/events"
)

func main() {
	logger, err := logging.New("newsingestor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("newsingestor exited with error", zap.Error(err))
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

	b := bus.New(rdb.Raw(), logger)
	ev := evidence.New(rdb, logger, cfg.Evidence.MaxItems)

	m := metrics.New(logger)
	m.Start(cfg.Metrics.Port)
	defer m.Stop()
	go m.RunUptimeLoop(ctx, "newsingestor", 10*time.Second)

	watch := watchSet(cfg.Watchlist)
	retention := time.Duration(cfg.Evidence.RetentionSec) * time.Second
	httpClient := &http.Client{Timeout: 15 * time.Second}

	collector := &collector{
		cfg:        cfg,
		bus:        b,
		evidence:   ev,
		store:      rdb,
		logger:     logger,
		metrics:    m,
		watch:      watch,
		retention:  retention,
		httpClient: httpClient,
	}

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, _, err := collector.collect(ctx); err != nil {
					logger.Warn("scheduled news/social collection failed", zap.Error(err))
				}
			}
		}
	}()

	e := httpserver.New(logger, httpserver.RateLimitConfig{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	e.POST("/run", func(c echo.Context) error {
		published, skipped, err := collector.collect(c.Request().Context())
		if err != nil {
			return httpserver.Retryable(c, err)
		}
		return c.JSON(http.StatusOK, map[string]int{"published": published, "skipped": skipped})
	})

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

// collector bundles the dependencies one collection pass needs.
type collector struct {
	cfg        *config.Config
	bus        *bus.Bus
	evidence   *evidence.Buffer
	store      *kv.Store
	logger     *zap.Logger
	metrics    *metrics.Metrics
	watch      map[string]struct{}
	retention  time.Duration
	httpClient *http.Client
}

// collect runs one full news + social poll, mirroring handle_run in
// news-collector/src/main.py: fetch, dedupe, publish, extract symbols,
// buffer evidence. Never returns a partial-fetch error as fatal — each
// source is best-effort.
func (c *collector) collect(ctx context.Context) (published, skipped int, err error) {
	newsItems := c.fetchFinnhub(ctx)
	newsItems = append(newsItems, c.fetchRSS(ctx)...)

	for _, item := range newsItems {
		if item.URL == "" {
			continue
		}
		isNew, derr := c.store.Dedupe(ctx, "news", hashOf(item.URL), time.Duration(c.cfg.News.DedupTTLSec)*time.Second)
		if derr != nil {
			c.logger.Warn("news dedup check failed, publishing anyway", zap.Error(derr))
			isNew = true
		}
		if !isNew {
			skipped++
			continue
		}

		if perr := c.bus.PublishRaw(ctx, bus.TopicNewsRaw, item); perr != nil {
			c.logger.Warn("failed to publish news item", zap.String("url", item.URL), zap.Error(perr))
		}
		c.metrics.NewsIngested.WithLabelValues(item.Source).Inc()

		symbols := fusion.ExtractSymbols(item.ProviderSymbolList, item.Headline, c.watch)
		now := time.Now().Unix()
		for _, symbol := range symbols {
			c.evidence.AppendNews(ctx, symbol, events.NewsEvidenceItem{
				Symbol:         symbol,
				Headline:       item.Headline,
				URL:            item.URL,
				Source:         item.Source,
				Summary:        truncate(item.Summary, 400),
				IngestedAtUnix: now,
			}, c.retention)
		}
		published++
	}

	socialItems := c.fetchReddit(ctx)
	for _, item := range socialItems {
		if item.URL == "" {
			continue
		}
		isNew, derr := c.store.Dedupe(ctx, "social", hashOf(item.URL), time.Duration(c.cfg.Social.DedupTTLSec)*time.Second)
		if derr != nil {
			c.logger.Warn("social dedup check failed, publishing anyway", zap.Error(derr))
			isNew = true
		}
		if !isNew {
			skipped++
			continue
		}

		if perr := c.bus.PublishRaw(ctx, bus.TopicSocialRaw, item); perr != nil {
			c.logger.Warn("failed to publish social item", zap.String("url", item.URL), zap.Error(perr))
		}
		c.metrics.SocialIngested.WithLabelValues(item.Platform).Inc()

		symbols := fusion.ExtractSymbols(nil, item.Title, c.watch)
		now := time.Now().Unix()
		for _, symbol := range symbols {
			c.evidence.AppendSocial(ctx, symbol, events.SocialEvidenceItem{
				Symbol:         symbol,
				Title:          item.Title,
				Platform:       item.Platform,
				URL:            item.URL,
				Engagement:     item.Engagement,
				IngestedAtUnix: now,
			}, c.retention)
		}
		published++
	}

	c.logger.Info("collection pass complete", zap.Int("published", published), zap.Int("skipped", skipped))
	return published, skipped, nil
}

// finnhubItem is the wire shape of https://finnhub.io/api/v1/news.
type finnhubItem struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Related  string `json:"related"`
}

func (c *collector) fetchFinnhub(ctx context.Context) []events.NewsRaw {
	if c.cfg.FinnhubAPIKey == "" {
		return nil
	}
	url := fmt.Sprintf("https://finnhub.io/api/v1/news?category=general&token=%s", c.cfg.FinnhubAPIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Warn("finnhub request build failed", zap.Error(err))
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("finnhub fetch failed", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("finnhub returned non-200", zap.Int("status", resp.StatusCode))
		return nil
	}

	var raw []finnhubItem
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		c.logger.Warn("finnhub decode failed", zap.Error(err))
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	items := make([]events.NewsRaw, 0, len(raw))
	for _, it := range raw {
		if it.URL == "" {
			continue
		}
		var symbols []string
		if it.Related != "" {
			symbols = strings.Split(it.Related, ",")
		}
		items = append(items, events.NewsRaw{
			Headline:           it.Headline,
			URL:                it.URL,
			Source:             "finnhub",
			Summary:            it.Summary,
			IngestedAtISO:      now,
			ProviderSymbolList: symbols,
			ProviderCategory:   it.Category,
		})
	}
	return items
}

// rssFeed/rssItem decode a generic RSS 2.0 document with encoding/xml — the
// feed format is simple enough that no third-party feed-parsing library is
// warranted (see DESIGN.md).
type rssFeed struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
}

func (c *collector) fetchRSS(ctx context.Context) []events.NewsRaw {
	var items []events.NewsRaw
	now := time.Now().UTC().Format(time.RFC3339)

	for _, feedURL := range c.cfg.News.RSSFeedURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			c.logger.Warn("rss request build failed", zap.String("feed", feedURL), zap.Error(err))
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("rss fetch failed", zap.String("feed", feedURL), zap.Error(err))
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			c.logger.Warn("rss read failed", zap.String("feed", feedURL), zap.Error(err))
			continue
		}

		var feed rssFeed
		if err := xml.Unmarshal(body, &feed); err != nil {
			c.logger.Warn("rss parse failed", zap.String("feed", feedURL), zap.Error(err))
			continue
		}

		source := feed.Channel.Title
		if source == "" {
			source = feedURL
		}

		n := 0
		for _, entry := range feed.Channel.Items {
			if entry.Link == "" || n >= 50 {
				continue
			}
			items = append(items, events.NewsRaw{
				Headline:      entry.Title,
				URL:           entry.Link,
				Source:        source,
				Summary:       truncate(entry.Description, 400),
				IngestedAtISO: now,
			})
			n++
		}
	}
	return items
}

// redditListing is the wire shape of reddit.com/r/{sub}/new.json.
type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID          string `json:"id"`
				Title       string `json:"title"`
				Selftext    string `json:"selftext"`
				Permalink   string `json:"permalink"`
				Ups         int64  `json:"ups"`
				NumComments int64  `json:"num_comments"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (c *collector) fetchReddit(ctx context.Context) []events.SocialRaw {
	var items []events.SocialRaw
	now := time.Now().UTC().Format(time.RFC3339)

	for _, sub := range c.cfg.Social.Subreddits {
		url := fmt.Sprintf("https://www.reddit.com/r/%s/new.json?limit=25&raw_json=1", sub)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		req.Header.Set("User-Agent", "marketfusion-newsingestor/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("reddit fetch failed", zap.String("subreddit", sub), zap.Error(err))
			continue
		}

		var listing redditListing
		derr := json.NewDecoder(resp.Body).Decode(&listing)
		resp.Body.Close()
		if derr != nil {
			c.logger.Warn("reddit decode failed", zap.String("subreddit", sub), zap.Error(derr))
			continue
		}

		for _, child := range listing.Data.Children {
			post := child.Data
			if post.Permalink == "" {
				continue
			}
			items = append(items, events.SocialRaw{
				Title:    post.Title,
				Text:     truncate(post.Selftext, 1000),
				Platform: "reddit",
				URL:      "https://reddit.com" + post.Permalink,
				Engagement: map[string]int64{
					"likes":    post.Ups,
					"comments": post.NumComments,
				},
				IngestedAtISO: now,
			})
		}
	}
	return items
}

func hashOf(s string) string {
	sum := sha1.Sum([]byte(s))
	return fmt.Sprintf("%x", sum)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func watchSet(symbols []string) map[string]struct{} {
	if len(symbols) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		out[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return out
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
