package conversation

// LegacyContext is the simplified shape consumed by the prompt-construction
// layer: flattened message history plus summary signals. It is a pure
// projection and must never be persisted or treated as a source of truth.
type LegacyContext struct {
	SessionID         string                `json:"session_id"`
	UserID            string                `json:"user_id"`
	Messages          []LegacyMessage       `json:"messages"`
	MarketPreferences UserMarketPreferences `json:"market_preferences"`
	UserProfile       LegacyUserProfile     `json:"user_profile"`
	IntentSignals     LegacyIntentSignals   `json:"intent_signals"`
}

// LegacyMessage is one entry in the alternating user/assistant transcript.
type LegacyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	LegacyRoleUser      = "user"
	LegacyRoleAssistant = "assistant"
)

// LegacyUserProfile summarizes the session for prompt construction.
type LegacyUserProfile struct {
	DeviceType      string  `json:"device_type"`
	Stage           string  `json:"conversation_stage"`
	EngagementScore float64 `json:"engagement_score"`
	TotalTurns      int     `json:"total_turns"`
	PreferredMarket string  `json:"preferred_market"`
}

// LegacyIntentSignals summarizes the intent history for prompt
// construction.
type LegacyIntentSignals struct {
	PrimaryIntent    string  `json:"primary_intent"`
	EvolutionPattern string  `json:"evolution_pattern"`
	AvgConfidence    float64 `json:"avg_confidence"`
}

// ConvertToLegacyContext flattens a context into the legacy shape: turn
// history becomes an alternating user/assistant message list, the current
// market's preferences are selected (neutral defaults if none recorded),
// and the derived signals are packaged into summary records. The embedded
// preferences are a deep copy; consumers mutating the projection cannot
// write through to the aggregate.
func ConvertToLegacyContext(c *MCPConversationContext) LegacyContext {
	messages := make([]LegacyMessage, 0, len(c.Turns)*2)
	for _, turn := range c.Turns {
		messages = append(messages,
			LegacyMessage{Role: LegacyRoleUser, Content: turn.UserQuery},
			LegacyMessage{Role: LegacyRoleAssistant, Content: turn.AIResponse},
		)
	}

	prefs := NewUserMarketPreferences(c.CurrentMarketID)
	if c.MarketPreferences != nil {
		if current, ok := c.MarketPreferences[c.CurrentMarketID]; ok && current != nil {
			prefs = current.Clone()
		}
	}

	var avgConfidence float64
	if len(c.IntentHistory) > 0 {
		var total float64
		for _, rec := range c.IntentHistory {
			total += rec.Confidence
		}
		avgConfidence = total / float64(len(c.IntentHistory))
	}

	return LegacyContext{
		SessionID:         c.SessionID,
		UserID:            c.UserID,
		Messages:          messages,
		MarketPreferences: *prefs,
		UserProfile: LegacyUserProfile{
			DeviceType:      c.DeviceType,
			Stage:           string(c.Stage),
			EngagementScore: c.EngagementScore,
			TotalTurns:      c.TotalTurns,
			PreferredMarket: c.CurrentMarketID,
		},
		IntentSignals: LegacyIntentSignals{
			PrimaryIntent:    c.PrimaryIntent,
			EvolutionPattern: string(c.EvolutionPattern),
			AvgConfidence:    avgConfidence,
		},
	}
}
