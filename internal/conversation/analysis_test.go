package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func historyOf(intents ...string) []IntentRecord {
	records := make([]IntentRecord, 0, len(intents))
	for i, intent := range intents {
		records = append(records, IntentRecord{
			Turn:       i + 1,
			Timestamp:  int64(1700000000 + i*30),
			Intent:     intent,
			Confidence: 0.8,
			Entities:   []string{},
		})
	}
	return records
}

func TestClassifyEvolution(t *testing.T) {
	tests := []struct {
		name    string
		intents []string
		want    IntentEvolution
		ok      bool
	}{
		{"too short", []string{"browse"}, "", false},
		{"empty", nil, "", false},
		{"stable", []string{"browse", "browse", "browse"}, EvolutionStable, true},
		{"stable pair", []string{"details", "details"}, EvolutionStable, true},
		{"narrowing", []string{"browse", "browse", "purchase"}, EvolutionNarrowing, true},
		{"narrowing pair", []string{"explore", "compare"}, EvolutionNarrowing, true},
		{"expanding", []string{"purchase", "browse"}, EvolutionExpanding, true},
		{"switching", []string{"browse", "purchase", "support"}, EvolutionSwitching, true},
		{"only last three considered", []string{"purchase", "browse", "browse", "purchase"}, EvolutionNarrowing, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := classifyEvolution(historyOf(tt.intents...))
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPrimaryIntent(t *testing.T) {
	require.Equal(t, "unknown", primaryIntent(nil))
	require.Equal(t, "browse", primaryIntent(historyOf("browse")))
	require.Equal(t, "purchase", primaryIntent(historyOf("browse", "purchase", "purchase")))
	// Ties break toward the first-encountered intent.
	require.Equal(t, "browse", primaryIntent(historyOf("browse", "purchase")))
	require.Equal(t, "compare", primaryIntent(historyOf("compare", "browse", "compare", "browse")))
}

func turnsWithIntents(intents ...string) []ConversationTurn {
	turns := make([]ConversationTurn, 0, len(intents))
	for i, intent := range intents {
		turns = append(turns, ConversationTurn{
			TurnNumber: i + 1,
			Timestamp:  int64(1700000000 + i*30),
			UserIntent: intent,
		})
	}
	return turns
}

func TestClassifyStage(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		pattern IntentEvolution
		intents []string
		want    ConversationStage
	}{
		{"zero turns", 0, EvolutionStable, nil, StageInitial},
		{"one turn", 1, EvolutionStable, []string{"browse"}, StageInitial},
		{"three turns", 3, EvolutionStable, []string{"browse", "browse", "browse"}, StageExploring},
		{"narrowing precedes follow-up", 15, EvolutionNarrowing, []string{"browse", "compare"}, StageNarrowing},
		{"purchase in last two turns", 6, EvolutionStable, []string{"browse", "purchase"}, StageTransacting},
		{"purchase substring matches", 6, EvolutionStable, []string{"browse", "purchase_intent"}, StageTransacting},
		{"purchase earlier than last two ignored", 6, EvolutionStable, []string{"purchase", "browse", "browse"}, StageDeciding},
		{"long conversation", 12, EvolutionStable, []string{"browse", "browse"}, StageFollowUp},
		{"mid conversation", 6, EvolutionSwitching, []string{"browse", "compare"}, StageDeciding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &MCPConversationContext{
				TotalTurns:       tt.total,
				EvolutionPattern: tt.pattern,
				Turns:            turnsWithIntents(tt.intents...),
			}
			require.Equal(t, tt.want, classifyStage(c))
		})
	}
}

func TestUpdateEngagementMetricsKnownValue(t *testing.T) {
	// Two turns, 50-char queries, confidences 0.5/0.7, 60s apart:
	// query factor 1.0, confidence 0.6, velocity 2 turns/min -> 0.2,
	// turn count 2/20 -> 0.1. Weighted sum = 0.59.
	query := make([]byte, 50)
	for i := range query {
		query[i] = 'q'
	}
	c := &MCPConversationContext{
		EngagementScore: 0.5,
		Turns: []ConversationTurn{
			{Timestamp: 1700000000, UserQuery: string(query), IntentConfidence: 0.5, ProcessingTimeMS: 100},
			{Timestamp: 1700000060, UserQuery: string(query), IntentConfidence: 0.7, ProcessingTimeMS: 300},
		},
	}
	updateEngagementMetrics(c)
	require.InDelta(t, 2.0, c.ConversationVelocity, 1e-9)
	require.InDelta(t, 200.0, c.AvgResponseTime, 1e-9)
	require.InDelta(t, 0.59, c.EngagementScore, 1e-9)
}

func TestUpdateEngagementMetricsSingleTurnKeepsPrior(t *testing.T) {
	c := &MCPConversationContext{
		EngagementScore: 0.5,
		Turns: []ConversationTurn{
			{Timestamp: 1700000000, UserQuery: "hi", IntentConfidence: 0.9, ProcessingTimeMS: 50},
		},
	}
	updateEngagementMetrics(c)
	require.Equal(t, 0.5, c.EngagementScore)
	require.InDelta(t, 50.0, c.AvgResponseTime, 1e-9)
	require.Zero(t, c.ConversationVelocity)
}

func TestUpdateEngagementMetricsZeroTimeSpanSkipsVelocity(t *testing.T) {
	c := &MCPConversationContext{
		ConversationVelocity: 3.0,
		Turns: []ConversationTurn{
			{Timestamp: 1700000000, UserQuery: "a", IntentConfidence: 0.5},
			{Timestamp: 1700000000, UserQuery: "b", IntentConfidence: 0.5},
		},
	}
	updateEngagementMetrics(c)
	require.InDelta(t, 3.0, c.ConversationVelocity, 1e-9)
}

func TestEngagementScoreBounds(t *testing.T) {
	long := make([]byte, 4000)
	for i := range long {
		long[i] = 'x'
	}
	c := &MCPConversationContext{EngagementScore: 0.5}
	for i := 0; i < 30; i++ {
		c.Turns = append(c.Turns, ConversationTurn{
			Timestamp:        int64(1700000000 + i),
			UserQuery:        string(long),
			IntentConfidence: 1.0,
			ProcessingTimeMS: 10,
		})
		c.TotalTurns = len(c.Turns)
		updateEngagementMetrics(c)
		require.GreaterOrEqual(t, c.EngagementScore, 0.0)
		require.LessOrEqual(t, c.EngagementScore, 1.0)
	}
}

func TestConversationStyle(t *testing.T) {
	tests := []struct {
		name string
		c    MCPConversationContext
		want string
	}{
		{"fast paced", MCPConversationContext{ConversationVelocity: 5.5, EngagementScore: 0.9, TotalTurns: 20}, "fast_paced"},
		{"engaged", MCPConversationContext{ConversationVelocity: 2, EngagementScore: 0.8, TotalTurns: 20}, "engaged"},
		{"thorough", MCPConversationContext{ConversationVelocity: 2, EngagementScore: 0.5, TotalTurns: 11}, "thorough"},
		{"casual", MCPConversationContext{ConversationVelocity: 2, EngagementScore: 0.5, TotalTurns: 3}, "casual"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, conversationStyle(&tt.c))
		})
	}
}
