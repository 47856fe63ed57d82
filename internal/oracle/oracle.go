// Package oracle models the generative reasoning layer as an opaque
// capability reason(skill_contract, context) -> JSON document (spec.md §9),
// with a REST client grounded on trade-planner-worker's gemini_client.py and
// a validator that enforces the Answer schema from spec.md §4.6.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Answer is the normative analysis-responder output contract (spec.md §4.6).
// The prompt text / skill contract itself is explicitly out of scope.
type Answer struct {
	Snapshot        Snapshot        `json:"snapshot"`
	Catalysts       Catalysts       `json:"catalysts"`
	MarketStructure MarketStructure `json:"market_structure"`
	Scenarios       Scenarios       `json:"scenarios"`
	SuggestedAction SuggestedAction `json:"suggested_action"`
	Disclosures     []string        `json:"disclosures"`
}

type Snapshot struct {
	Symbol           string  `json:"symbol"`
	Timeframe        string  `json:"timeframe"`
	LatestPrice      float64 `json:"latest_price"`
	VolatilityRegime string  `json:"volatility_regime"`
}

type Catalysts struct {
	NewsTop3   []string `json:"news_top3"`
	SocialTop3 []string `json:"social_top3"`
}

type MarketStructure struct {
	Trend      string    `json:"trend"`
	Support    []float64 `json:"support"`
	Resistance []float64 `json:"resistance"`
	VolumeNote string    `json:"volume_note"`
}

type Scenario struct {
	Narrative   string `json:"narrative"`
	Probability int    `json:"probability"`
}

type Scenarios struct {
	Base Scenario `json:"base"`
	Bull Scenario `json:"bull"`
	Bear Scenario `json:"bear"`
}

type SuggestedAction struct {
	Action             string   `json:"action"` // WATCH | BUY_ZONE | REDUCE | HEDGE | AVOID
	TimingWindow       string   `json:"timing_window"`
	Confidence         int      `json:"confidence"`
	InvalidationRules  []string `json:"invalidation_rules"`
	RiskFlags          []string `json:"risk_flags"`
}

// Reasoner is the single-method oracle capability. Implementations may be
// injected with a stub in tests (spec.md §9).
type Reasoner interface {
	Reason(ctx context.Context, skillContract, context_ string) (Answer, error)
}

// Client is a minimal REST client for a Gemini-compatible generateContent
// endpoint, grounded on gemini_client.py's request/response shape.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

func NewClient(apiKey, endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{apiKey: apiKey, endpoint: endpoint, client: &http.Client{Timeout: timeout}, logger: logger}
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Reason sends skillContract + context to the oracle and parses its JSON
// reply into an Answer. It does not validate the contract — that is
// Validate's job, invoked by the analysis responder.
func (c *Client) Reason(ctx context.Context, skillContract, context_ string) (Answer, error) {
	reqBody := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: skillContract + "\n\n" + context_}}}},
		GenerationConfig: generationConfig{Temperature: 0.2, ResponseMimeType: "application/json"},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Answer{}, fmt.Errorf("marshal oracle request: %w", err)
	}

	url := fmt.Sprintf("%s?key=%s", c.endpoint, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Answer{}, fmt.Errorf("build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Answer{}, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Answer{}, fmt.Errorf("read oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Answer{}, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Answer{}, fmt.Errorf("parse oracle envelope: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Answer{}, fmt.Errorf("oracle returned no candidates")
	}

	var answer Answer
	if err := json.Unmarshal([]byte(parsed.Candidates[0].Content.Parts[0].Text), &answer); err != nil {
		return Answer{}, fmt.Errorf("parse oracle answer json: %w", err)
	}
	return answer, nil
}

// Validate enforces the normative schema from spec.md §4.6: the three
// scenario probabilities must sum to 100 and there must be at least 2
// invalidation rules. The oracle must never return a bare directive without
// invalidation rules — this is the check that catches that violation.
func Validate(a Answer) error {
	sum := a.Scenarios.Base.Probability + a.Scenarios.Bull.Probability + a.Scenarios.Bear.Probability
	if sum != 100 {
		return fmt.Errorf("scenario probabilities sum to %d, want 100", sum)
	}
	if len(a.SuggestedAction.InvalidationRules) < 2 {
		return fmt.Errorf("suggested_action has %d invalidation rules, want >= 2", len(a.SuggestedAction.InvalidationRules))
	}
	if len(a.Disclosures) == 0 {
		return fmt.Errorf("disclosures must be non-empty")
	}
	switch a.SuggestedAction.Action {
	case "WATCH", "BUY_ZONE", "REDUCE", "HEDGE", "AVOID":
	default:
		return fmt.Errorf("suggested_action.action %q is not a recognized directive", a.SuggestedAction.Action)
	}
	return nil
}
