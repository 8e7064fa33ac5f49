package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ConversationStage is a coarse classification of where in the shopping
// journey a session currently sits. It is derived by the state manager and
// never set directly by callers.
type ConversationStage string

const (
	StageInitial     ConversationStage = "initial"
	StageExploring   ConversationStage = "exploring"
	StageNarrowing   ConversationStage = "narrowing"
	StageDeciding    ConversationStage = "deciding"
	StageTransacting ConversationStage = "transacting"
	StageFollowUp    ConversationStage = "follow_up"
)

// ParseConversationStage validates a stored stage tag.
func ParseConversationStage(s string) (ConversationStage, error) {
	switch stage := ConversationStage(s); stage {
	case StageInitial, StageExploring, StageNarrowing, StageDeciding, StageTransacting, StageFollowUp:
		return stage, nil
	}
	return "", fmt.Errorf("conversation: unknown conversation stage %q", s)
}

// UnmarshalJSON fails loudly on unrecognized tags so a corrupt persisted
// context is rejected instead of silently defaulted.
func (s *ConversationStage) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("conversation: decode conversation stage: %w", err)
	}
	stage, err := ParseConversationStage(raw)
	if err != nil {
		return err
	}
	*s = stage
	return nil
}

// IntentEvolution describes how a user's intent changes across consecutive
// turns.
type IntentEvolution string

const (
	EvolutionStable    IntentEvolution = "stable"
	EvolutionNarrowing IntentEvolution = "narrowing"
	EvolutionExpanding IntentEvolution = "expanding"
	EvolutionSwitching IntentEvolution = "switching"
	// EvolutionDeepening is a legal stored value kept for compatibility with
	// previously persisted contexts; the classifier no longer emits it.
	EvolutionDeepening IntentEvolution = "deepening"
)

// ParseIntentEvolution validates a stored evolution tag.
func ParseIntentEvolution(s string) (IntentEvolution, error) {
	switch p := IntentEvolution(s); p {
	case EvolutionStable, EvolutionNarrowing, EvolutionExpanding, EvolutionSwitching, EvolutionDeepening:
		return p, nil
	}
	return "", fmt.Errorf("conversation: unknown intent evolution pattern %q", s)
}

func (p *IntentEvolution) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("conversation: decode intent evolution pattern: %w", err)
	}
	pattern, err := ParseIntentEvolution(raw)
	if err != nil {
		return err
	}
	*p = pattern
	return nil
}

// Device types derived from the session user agent.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceDesktop = "desktop"
)

// DeriveDeviceType classifies a user agent by substring match. Checks run in
// a fixed order; the first match wins.
func DeriveDeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") ||
		strings.Contains(ua, "iphone") || strings.Contains(ua, "ipod"):
		return DeviceMobile
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return DeviceTablet
	case strings.Contains(ua, "bot") || strings.Contains(ua, "crawler"):
		return DeviceBot
	default:
		return DeviceDesktop
	}
}

// IntentAnalysis is the output of the external intent-classification
// collaborator for a single user query. Missing confidence is treated as
// 0.0 and missing entities as an empty list; the state manager clamps
// confidence into [0, 1] but performs no further validation.
type IntentAnalysis struct {
	Intent        string            `json:"intent"`
	Confidence    float64           `json:"confidence"`
	Entities      []string          `json:"entities"`
	MarketContext map[string]string `json:"market_context"`
}

// ConversationTurn is the immutable record of one query/response exchange.
// RecommendationsProvided is the authoritative record of products already
// shown in this turn, consumed by the recommendation engine for
// diversification.
type ConversationTurn struct {
	TurnID                  string            `json:"turn_id"`
	TurnNumber              int               `json:"turn_number"`
	Timestamp               int64             `json:"timestamp"`
	UserQuery               string            `json:"user_query"`
	UserIntent              string            `json:"user_intent"`
	IntentConfidence        float64           `json:"intent_confidence"`
	IntentEntities          []string          `json:"intent_entities"`
	AIResponse              string            `json:"ai_response"`
	RecommendationsProvided []string          `json:"recommendations_provided"`
	MarketContext           map[string]string `json:"market_context,omitempty"`
	ProcessingTimeMS        float64           `json:"processing_time_ms"`
}

// IntentRecord is the per-turn summary appended to the context's intent
// history and consumed by the evolution classifier.
type IntentRecord struct {
	Turn       int      `json:"turn"`
	Timestamp  int64    `json:"timestamp"`
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities"`
}

// UserMarketPreferences is the per-user, per-market derived profile. It is
// persisted independently of any session so it outlives individual
// conversations.
type UserMarketPreferences struct {
	MarketID           string             `json:"market_id"`
	CurrencyPreference string             `json:"currency_preference"`
	LanguagePreference string             `json:"language_preference"`
	PriceSensitivity   float64            `json:"price_sensitivity"`
	BrandAffinities    []string           `json:"brand_affinities"`
	CategoryInterests  map[string]float64 `json:"category_interests"`
	UpdatedAt          int64              `json:"updated_at"`
}

// NewUserMarketPreferences returns a neutral profile for a market the user
// has not been seen in before.
func NewUserMarketPreferences(marketID string) *UserMarketPreferences {
	return &UserMarketPreferences{
		MarketID:          marketID,
		PriceSensitivity:  0.5,
		BrandAffinities:   []string{},
		CategoryInterests: map[string]float64{},
		UpdatedAt:         time.Now().Unix(),
	}
}

// Clone returns an independent copy whose maps and slices share no storage
// with the receiver.
func (p *UserMarketPreferences) Clone() *UserMarketPreferences {
	if p == nil {
		return nil
	}
	out := *p
	out.BrandAffinities = append([]string{}, p.BrandAffinities...)
	out.CategoryInterests = make(map[string]float64, len(p.CategoryInterests))
	for category, score := range p.CategoryInterests {
		out.CategoryInterests[category] = score
	}
	return &out
}

// RecordCategoryInterest bumps the interest score for a mentioned category
// by 0.1, capped at 1.0.
func (p *UserMarketPreferences) RecordCategoryInterest(category string, now time.Time) {
	if category == "" {
		return
	}
	if p.CategoryInterests == nil {
		p.CategoryInterests = map[string]float64{}
	}
	score := p.CategoryInterests[category] + 0.1
	if score > 1.0 {
		score = 1.0
	}
	p.CategoryInterests[category] = score
	p.UpdatedAt = now.Unix()
}

func marshalMarketPreferences(p *UserMarketPreferences) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal market preferences %s: %w", p.MarketID, err)
	}
	return data, nil
}

func unmarshalMarketPreferences(data []byte) (*UserMarketPreferences, error) {
	var p UserMarketPreferences
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("conversation: malformed market preferences: %w", err)
	}
	if p.MarketID == "" {
		return nil, fmt.Errorf("conversation: malformed market preferences: missing market_id")
	}
	return &p, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
