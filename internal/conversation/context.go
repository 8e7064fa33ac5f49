package conversation

import (
	"encoding/json"
	"fmt"
)

// MCPConversationContext is the aggregate root for one session: the full
// turn history plus the derived signals recomputed after every turn. Only
// the state manager mutates it; turns never reference the context back and
// nothing in here is shared between sessions except the market preference
// working snapshots.
type MCPConversationContext struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	CreatedAt   int64  `json:"created_at"`
	LastUpdated int64  `json:"last_updated"`

	Stage      ConversationStage  `json:"conversation_stage"`
	TotalTurns int                `json:"total_turns"`
	Turns      []ConversationTurn `json:"turns"`

	// IntentHistory is an append-only summary log parallel to Turns. It is
	// not truncated in lockstep with Turns unless MaxIntentHistory is
	// configured on the manager.
	IntentHistory    []IntentRecord  `json:"intent_history"`
	PrimaryIntent    string          `json:"primary_intent"`
	EvolutionPattern IntentEvolution `json:"intent_evolution_pattern"`

	// MarketPreferences holds working snapshots keyed by market ID, loaded
	// at context creation. The persisted per-market record is the source of
	// truth across sessions and may drift ahead within a long session.
	MarketPreferences map[string]*UserMarketPreferences `json:"market_preferences"`

	AvgResponseTime      float64 `json:"avg_response_time"`
	ConversationVelocity float64 `json:"conversation_velocity"`
	EngagementScore      float64 `json:"engagement_score"`

	UserAgent       string `json:"user_agent"`
	InitialMarketID string `json:"initial_market_id"`
	CurrentMarketID string `json:"current_market_id"`
	DeviceType      string `json:"device_type"`
}

// CurrentMarketPreferences returns the working snapshot for the session's
// current market, creating a neutral one if the market has not been seen.
func (c *MCPConversationContext) CurrentMarketPreferences() *UserMarketPreferences {
	if c.MarketPreferences == nil {
		c.MarketPreferences = map[string]*UserMarketPreferences{}
	}
	prefs, ok := c.MarketPreferences[c.CurrentMarketID]
	if !ok {
		prefs = NewUserMarketPreferences(c.CurrentMarketID)
		c.MarketPreferences[c.CurrentMarketID] = prefs
	}
	return prefs
}

// ShownProducts returns the union of product IDs recommended across all
// retained turns, in first-shown order. The recommendation engine uses this
// as its diversification exclusion set.
func (c *MCPConversationContext) ShownProducts() []string {
	seen := make(map[string]struct{})
	var products []string
	for _, turn := range c.Turns {
		for _, id := range turn.RecommendationsProvided {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			products = append(products, id)
		}
	}
	return products
}

// Marshal serializes the context to its persisted JSON form. Enums
// serialize to their string values.
func (c *MCPConversationContext) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal context %s: %w", c.SessionID, err)
	}
	return data, nil
}

// UnmarshalContext reconstructs a persisted context. Unknown enum tags and
// missing required identity fields fail loudly: derived metrics computed
// over a partially reconstructed context silently corrupt the session, so a
// malformed blob is an error, never a default.
func UnmarshalContext(data []byte) (*MCPConversationContext, error) {
	var c MCPConversationContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("conversation: malformed context state: %w", err)
	}
	if c.SessionID == "" {
		return nil, fmt.Errorf("conversation: malformed context state: missing session_id")
	}
	if c.UserID == "" {
		return nil, fmt.Errorf("conversation: malformed context state: missing user_id")
	}
	if _, err := ParseConversationStage(string(c.Stage)); err != nil {
		return nil, err
	}
	if _, err := ParseIntentEvolution(string(c.EvolutionPattern)); err != nil {
		return nil, err
	}
	return &c, nil
}
