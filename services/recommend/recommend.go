// Package recommend maps a free-text description of a saver's goals to a
// strategy from the shared strategy table.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/httputil"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/strategy"
)

const (
	SourceModel    = "model"
	SourceFallback = "fallback"

	DefaultModel  = "gpt-4o-mini"
	maxPromptSize = 2000
)

// Recommendation is the best-fit strategy for a prompt.
type Recommendation struct {
	StrategyID   uint8   `json:"strategyId"`
	StrategyName string  `json:"strategyName"`
	APY          float64 `json:"apy"`
	Rationale    string  `json:"rationale"`
	Source       string  `json:"source"`
}

// Service produces recommendations.
type Service struct {
	table  *strategy.Table
	client *httputil.ServiceClient
	model  string
	logger *logging.Logger
}

// Config configures the recommender. An empty BaseURL or APIKey disables the
// remote model and every request is answered by the keyword fallback.
type Config struct {
	Strategies *strategy.Table
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	Client     *httputil.ServiceClient
	Logger     *logging.Logger
}

// New creates a recommender.
func New(cfg Config) *Service {
	table := cfg.Strategies
	if table == nil {
		table = strategy.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	client := cfg.Client
	if client == nil && cfg.BaseURL != "" && cfg.APIKey != "" {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL:     cfg.BaseURL,
			BearerToken: cfg.APIKey,
			Timeout:     timeout,
			MaxRetries:  1,
		})
	}

	return &Service{table: table, client: client, model: model, logger: logger}
}

// Strategies returns the table the recommender chooses from.
func (s *Service) Strategies() *strategy.Table {
	return s.table
}

// Recommend returns the best-fit strategy for prompt. Upstream failures never
// fail the request.
func (s *Service) Recommend(ctx context.Context, prompt string) (*Recommendation, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, svcerrors.InvalidField("prompt", "required")
	}
	if len(prompt) > maxPromptSize {
		return nil, svcerrors.InvalidField("prompt", fmt.Sprintf("must be at most %d bytes", maxPromptSize))
	}

	if s.client != nil {
		rec, err := s.ask(ctx, prompt)
		if err == nil {
			return rec, nil
		}
		s.logger.Warn(ctx, "recommendation model unavailable, using fallback", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return s.fallback(prompt), nil
}

// =============================================================================
// Remote model
// =============================================================================

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type modelReply struct {
	StrategyID json.Number `json:"strategyId"`
	Rationale  string      `json:"rationale"`
}

func (s *Service) ask(ctx context.Context, prompt string) (*Recommendation, error) {
	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: s.systemPrompt()},
			{Role: "user", Content: prompt},
		},
	}

	var resp chatResponse
	if err := s.client.PostJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	reply, err := parseReply(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseUint(reply.StrategyID.String(), 10, 8)
	if err != nil {
		return nil, fmt.Errorf("model named invalid strategy %q", reply.StrategyID)
	}
	st, ok := s.table.Lookup(uint8(id))
	if !ok {
		return nil, fmt.Errorf("model named unknown strategy %d", id)
	}

	rationale := strings.TrimSpace(reply.Rationale)
	if rationale == "" {
		rationale = st.Description
	}
	return &Recommendation{
		StrategyID:   st.ID,
		StrategyName: st.Name,
		APY:          st.APY,
		Rationale:    rationale,
		Source:       SourceModel,
	}, nil
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// parseReply accepts a bare JSON object or one wrapped in prose or a code fence.
func parseReply(content string) (*modelReply, error) {
	raw := jsonObject.FindString(content)
	if raw == "" {
		return nil, fmt.Errorf("model reply is not JSON")
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var reply modelReply
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	if reply.StrategyID == "" {
		return nil, fmt.Errorf("model reply missing strategyId")
	}
	return &reply, nil
}

func (s *Service) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You recommend a savings strategy. Choose exactly one of the strategies below.\n")
	for _, st := range s.table.All() {
		fmt.Fprintf(&b, "- id %d: %s, %.1f%% APY, %s risk. %s\n", st.ID, st.Name, st.APY*100, st.Risk, st.Description)
	}
	b.WriteString(`Reply with JSON only: {"strategyId": <id>, "rationale": "<one or two sentences>"}`)
	return b.String()
}

// =============================================================================
// Keyword fallback
// =============================================================================

// fallback scores each strategy by keyword hits. Ties and prompts with no hits
// resolve to the lowest-risk strategy among the best scores.
func (s *Service) fallback(prompt string) *Recommendation {
	text := strings.ToLower(prompt)
	strategies := s.table.All()

	best := strategies[0]
	bestScore := -1
	for _, st := range strategies {
		score := 0
		for _, kw := range st.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = st, score
		}
	}

	return &Recommendation{
		StrategyID:   best.ID,
		StrategyName: best.Name,
		APY:          best.APY,
		Rationale:    fallbackRationale(best, bestScore),
		Source:       SourceFallback,
	}
}

func fallbackRationale(best strategy.Strategy, score int) string {
	if score <= 0 {
		return fmt.Sprintf("No clear preference found; %s is the default. %s", best.Name, best.Description)
	}
	return fmt.Sprintf("Your goals match the %s strategy. %s", best.Name, best.Description)
}
