package conversation

import "strings"

// Intent vocabularies used by the evolution classifier. "General" intents
// indicate open-ended browsing, "specific" intents indicate the user has
// zeroed in on products.
var (
	generalIntents = map[string]struct{}{
		"general": {},
		"browse":  {},
		"explore": {},
	}
	specificIntents = map[string]struct{}{
		"purchase": {},
		"compare":  {},
		"details":  {},
	}
)

// classifyEvolution derives the intent-evolution pattern from the last
// three intent history entries. With fewer than two entries there is
// nothing to classify and ok is false.
func classifyEvolution(history []IntentRecord) (IntentEvolution, bool) {
	if len(history) < 2 {
		return "", false
	}
	recent := history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	allSame := true
	for _, rec := range recent[1:] {
		if rec.Intent != recent[0].Intent {
			allSame = false
			break
		}
	}
	if allSame {
		return EvolutionStable, true
	}

	first := recent[0].Intent
	last := recent[len(recent)-1].Intent
	_, firstGeneral := generalIntents[first]
	_, firstSpecific := specificIntents[first]
	_, lastGeneral := generalIntents[last]
	_, lastSpecific := specificIntents[last]

	switch {
	case firstGeneral && lastSpecific:
		return EvolutionNarrowing, true
	case firstSpecific && lastGeneral:
		return EvolutionExpanding, true
	default:
		return EvolutionSwitching, true
	}
}

// primaryIntent returns the most frequent intent across the whole history,
// ties broken by whichever intent was encountered first. O(turns) per call,
// acceptable under the session turn cap.
func primaryIntent(history []IntentRecord) string {
	if len(history) == 0 {
		return "unknown"
	}
	counts := make(map[string]int, len(history))
	var order []string
	for _, rec := range history {
		if counts[rec.Intent] == 0 {
			order = append(order, rec.Intent)
		}
		counts[rec.Intent]++
	}
	best := order[0]
	for _, intent := range order[1:] {
		if counts[intent] > counts[best] {
			best = intent
		}
	}
	return best
}

// classifyStage derives the conversation stage. This is a priority-ordered
// classification, not a guarded FSM: checks run in a fixed order and the
// first match wins. The narrowing check deliberately precedes the
// turn-count check so a long narrowing conversation classifies as narrowing
// rather than follow-up.
func classifyStage(c *MCPConversationContext) ConversationStage {
	switch {
	case c.TotalTurns <= 1:
		return StageInitial
	case c.TotalTurns <= 3:
		return StageExploring
	case c.EvolutionPattern == EvolutionNarrowing:
		return StageNarrowing
	case recentPurchaseIntent(c.Turns):
		return StageTransacting
	case c.TotalTurns > 10:
		return StageFollowUp
	default:
		return StageDeciding
	}
}

// recentPurchaseIntent reports whether either of the last two turns carries
// a purchase-flavored intent.
func recentPurchaseIntent(turns []ConversationTurn) bool {
	start := len(turns) - 2
	if start < 0 {
		start = 0
	}
	for _, turn := range turns[start:] {
		if strings.Contains(turn.UserIntent, "purchase") {
			return true
		}
	}
	return false
}

// Engagement score weights. The score is a weighted linear combination that
// fully replaces the previous value each turn; it is not smoothed.
const (
	engagementWeightQueryLength = 0.3
	engagementWeightConfidence  = 0.4
	engagementWeightVelocity    = 0.2
	engagementWeightTurnCount   = 0.1
)

// updateEngagementMetrics recomputes avg response time, conversation
// velocity and the engagement score from the retained turns. Velocity is
// skipped when the turn timestamps span zero time; the engagement score is
// only recomputed once at least two turns exist.
func updateEngagementMetrics(c *MCPConversationContext) {
	turnCount := len(c.Turns)
	if turnCount == 0 {
		return
	}

	var totalProcessing float64
	for _, turn := range c.Turns {
		totalProcessing += turn.ProcessingTimeMS
	}
	c.AvgResponseTime = totalProcessing / float64(turnCount)

	if turnCount >= 2 {
		spanSeconds := c.Turns[turnCount-1].Timestamp - c.Turns[0].Timestamp
		if spanSeconds > 0 {
			c.ConversationVelocity = float64(turnCount) / (float64(spanSeconds) / 60.0)
		}
	}

	if turnCount < 2 {
		return
	}

	var totalQueryLen, totalConfidence float64
	for _, turn := range c.Turns {
		totalQueryLen += float64(len(turn.UserQuery))
		totalConfidence += turn.IntentConfidence
	}
	queryLengthFactor := clamp01(totalQueryLen / float64(turnCount) / 50.0)
	confidenceFactor := totalConfidence / float64(turnCount)

	velocity := c.ConversationVelocity
	if velocity > 10 {
		velocity = 10
	}
	velocityFactor := velocity / 10.0

	cappedTurns := float64(turnCount)
	if cappedTurns > 20 {
		cappedTurns = 20
	}
	turnCountFactor := cappedTurns / 20.0

	c.EngagementScore = clamp01(
		engagementWeightQueryLength*queryLengthFactor +
			engagementWeightConfidence*confidenceFactor +
			engagementWeightVelocity*velocityFactor +
			engagementWeightTurnCount*turnCountFactor)
}

// conversationStyle derives the flattened user-profile style label. Rules
// run in a fixed order; the first match wins.
func conversationStyle(c *MCPConversationContext) string {
	switch {
	case c.ConversationVelocity > 5:
		return "fast_paced"
	case c.EngagementScore > 0.7:
		return "engaged"
	case c.TotalTurns > 10:
		return "thorough"
	default:
		return "casual"
	}
}
