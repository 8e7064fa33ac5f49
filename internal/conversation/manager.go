package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Yasmani-Cascante/retail-recommender-system-sub003/internal/observability/metrics"
	"github.com/Yasmani-Cascante/retail-recommender-system-sub003/pkg/logging"
)

// Default retention knobs. Session state is short-lived; the derived user
// profile and market preference records outlive any single session.
const (
	DefaultStateTTL           = 24 * time.Hour
	DefaultConversationTTL    = 7 * 24 * time.Hour
	DefaultMaxTurnsPerSession = 50
	DefaultStoreTimeout       = 5 * time.Second
)

// ErrEmptySessionID is returned when a caller fails to supply a session ID.
// The manager never invents IDs: a missing one is a caller bug and must
// fail fast rather than silently index state under an empty key.
var ErrEmptySessionID = errors.New("conversation: session_id is required")

// ErrEmptyUserID is returned when a caller fails to supply a user ID.
var ErrEmptyUserID = errors.New("conversation: user_id is required")

// ErrSessionNotFound is returned by WithSession when no state is persisted
// for the session. Creating a fresh context is the caller's decision.
var ErrSessionNotFound = errors.New("conversation: session not found")

// ManagerConfig bounds per-session state growth and persistence lifetimes.
type ManagerConfig struct {
	StateTTL           time.Duration
	ConversationTTL    time.Duration
	MaxTurnsPerSession int
	// MaxIntentHistory caps the intent history independently of the turn
	// cap. Zero keeps the history unbounded, matching the turn log's
	// original behavior; set it when long-term intent analytics are not
	// needed.
	MaxIntentHistory int
	// StoreTimeout bounds every Redis round trip. A slow or wedged store
	// must degrade the request, never hang it.
	StoreTimeout time.Duration
}

func (cfg ManagerConfig) withDefaults() ManagerConfig {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.ConversationTTL <= 0 {
		cfg.ConversationTTL = DefaultConversationTTL
	}
	if cfg.MaxTurnsPerSession <= 0 {
		cfg.MaxTurnsPerSession = DefaultMaxTurnsPerSession
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return cfg
}

// StateManager owns all conversation context mutation and its persistence
// to Redis. It performs no background work; every operation is a single
// awaited round trip or one pipelined batch. All work on one session is
// serialized through a per-session mutex held by every exported operation,
// and WithSession holds it across a whole load-apply-save cycle so
// overlapping requests (retries, double-clicks) cannot silently drop turns
// within this process.
type StateManager struct {
	redis   *redis.Client
	logger  *logging.Logger
	metrics *metrics.ConversationMetrics
	tracer  trace.Tracer
	cfg     ManagerConfig

	locks sync.Map // sessionID -> *sync.Mutex
	now   func() time.Time
}

// NewStateManager builds a state manager bound to a Redis client. Construct
// one at process start and pass it explicitly to request handlers; the
// manager holds no global state.
func NewStateManager(redisClient *redis.Client, logger *logging.Logger, m *metrics.ConversationMetrics, cfg ManagerConfig) *StateManager {
	if redisClient == nil {
		panic("conversation: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StateManager{
		redis:   redisClient,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("retail.internal.conversation.state"),
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// sessionLock returns the process-scoped mutex serializing all work for one
// session.
func (m *StateManager) sessionLock(sessionID string) *sync.Mutex {
	lockAny, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return lockAny.(*sync.Mutex)
}

// storeCtx derives a deadline-bounded context for one Redis round trip.
func (m *StateManager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.StoreTimeout)
}

// CreateParams carries everything needed to open a new conversation
// context. SessionID must be stable and unique for the lifetime of one
// logical conversation; the manager performs no ID generation or collision
// detection.
type CreateParams struct {
	SessionID     string
	UserID        string
	InitialQuery  string
	MarketContext map[string]string
	UserAgent     string
}

// CreateContext initializes a fresh context for a session, loads (or
// default-initializes) the user's market preferences, and indexes the
// session into the per-user sorted index for later listing. A missing or
// partial market context never fails creation; the market falls back to
// "default".
func (m *StateManager) CreateContext(ctx context.Context, params CreateParams) (*MCPConversationContext, error) {
	if params.SessionID == "" {
		return nil, ErrEmptySessionID
	}
	if params.UserID == "" {
		return nil, ErrEmptyUserID
	}
	if ctx == nil {
		ctx = context.Background()
	}

	lock := m.sessionLock(params.SessionID)
	lock.Lock()
	defer lock.Unlock()

	marketID := params.MarketContext["market_id"]
	if marketID == "" {
		marketID = "default"
	}

	prefs, err := m.loadMarketPreferences(ctx, params.UserID, marketID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	c := &MCPConversationContext{
		SessionID:        params.SessionID,
		UserID:           params.UserID,
		CreatedAt:        now.Unix(),
		LastUpdated:      now.Unix(),
		Stage:            StageInitial,
		TotalTurns:       0,
		Turns:            []ConversationTurn{},
		IntentHistory:    []IntentRecord{},
		PrimaryIntent:    "unknown",
		EvolutionPattern: EvolutionStable,
		MarketPreferences: map[string]*UserMarketPreferences{
			marketID: prefs,
		},
		EngagementScore: 0.5,
		UserAgent:       params.UserAgent,
		InitialMarketID: marketID,
		CurrentMarketID: marketID,
		DeviceType:      DeriveDeviceType(params.UserAgent),
	}

	m.indexSession(ctx, c)
	m.metrics.ObserveContextCreated(c.DeviceType)
	m.logger.Info("conversation context created",
		"session_id", c.SessionID,
		"user_id", c.UserID,
		"market_id", marketID,
		"device_type", c.DeviceType,
		"initial_query_len", len(params.InitialQuery),
	)
	return c, nil
}

// indexSession records (session_id, score=created_at) in the per-user
// sorted index. Best effort: an unavailable store degrades session listing,
// not conversation handling.
func (m *StateManager) indexSession(ctx context.Context, c *MCPConversationContext) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	pipe := m.redis.Pipeline()
	pipe.ZAdd(ctx, userSessionsKey(c.UserID), redis.Z{Score: float64(c.CreatedAt), Member: c.SessionID})
	pipe.Expire(ctx, userSessionsKey(c.UserID), m.cfg.ConversationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("failed to index session for user",
			"session_id", c.SessionID,
			"user_id", c.UserID,
			"error", err,
		)
	}
}

// loadMarketPreferences fetches the persisted per-market profile. A miss or
// an unavailable store yields neutral defaults; a malformed record is an
// error because it would silently poison every derived metric downstream.
func (m *StateManager) loadMarketPreferences(ctx context.Context, userID, marketID string) (*UserMarketPreferences, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	data, err := m.redis.Get(ctx, marketPreferencesKey(userID, marketID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.logger.Warn("market preferences unavailable, using defaults",
				"user_id", userID,
				"market_id", marketID,
				"error", err,
			)
		}
		return NewUserMarketPreferences(marketID), nil
	}
	prefs, err := unmarshalMarketPreferences(data)
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

// TurnParams carries one completed query/response exchange.
type TurnParams struct {
	UserQuery        string
	Intent           IntentAnalysis
	AIResponse       string
	Recommendations  []string
	ProcessingTimeMS float64
}

// AddTurn appends a turn to the context and recomputes every derived
// signal: intent history, evolution pattern, stage, engagement metrics and
// the current market's category interests. It performs no I/O; persistence
// is a separate explicit SaveState call. Inside a WithSession cycle use
// SessionTxn.AddTurn instead, which runs under the lock already held.
func (m *StateManager) AddTurn(c *MCPConversationContext, params TurnParams) error {
	if c == nil {
		return errors.New("conversation: context is required")
	}

	lock := m.sessionLock(c.SessionID)
	lock.Lock()
	defer lock.Unlock()

	return m.applyTurn(c, params)
}

// applyTurn is the mutation body of AddTurn; callers hold the session lock.
func (m *StateManager) applyTurn(c *MCPConversationContext, params TurnParams) error {
	now := m.now()
	processingMS := params.ProcessingTimeMS
	if processingMS < 0 {
		processingMS = 0
	}
	entities := params.Intent.Entities
	if entities == nil {
		entities = []string{}
	}
	recommendations := params.Recommendations
	if recommendations == nil {
		recommendations = []string{}
	}

	// Turn numbers stay strictly increasing even after the cap has dropped
	// older turns, so the count of retained turns alone is not enough.
	nextTurnNumber := len(c.Turns) + 1
	if n := len(c.Turns); n > 0 && c.Turns[n-1].TurnNumber >= nextTurnNumber {
		nextTurnNumber = c.Turns[n-1].TurnNumber + 1
	}

	turn := ConversationTurn{
		TurnID:                  uuid.NewString(),
		TurnNumber:              nextTurnNumber,
		Timestamp:               now.Unix(),
		UserQuery:               params.UserQuery,
		UserIntent:              params.Intent.Intent,
		IntentConfidence:        clamp01(params.Intent.Confidence),
		IntentEntities:          entities,
		AIResponse:              params.AIResponse,
		RecommendationsProvided: recommendations,
		MarketContext:           params.Intent.MarketContext,
		ProcessingTimeMS:        processingMS,
	}
	c.Turns = append(c.Turns, turn)
	c.TotalTurns = len(c.Turns)
	c.LastUpdated = now.Unix()

	c.IntentHistory = append(c.IntentHistory, IntentRecord{
		Turn:       turn.TurnNumber,
		Timestamp:  turn.Timestamp,
		Intent:     turn.UserIntent,
		Confidence: turn.IntentConfidence,
		Entities:   entities,
	})
	if m.cfg.MaxIntentHistory > 0 && len(c.IntentHistory) > m.cfg.MaxIntentHistory {
		c.IntentHistory = c.IntentHistory[len(c.IntentHistory)-m.cfg.MaxIntentHistory:]
	}

	if pattern, ok := classifyEvolution(c.IntentHistory); ok {
		c.EvolutionPattern = pattern
	}
	c.PrimaryIntent = primaryIntent(c.IntentHistory)
	c.Stage = classifyStage(c)
	updateEngagementMetrics(c)

	prefs := c.CurrentMarketPreferences()
	for _, entity := range entities {
		prefs.RecordCategoryInterest(entity, now)
	}

	if len(c.Turns) > m.cfg.MaxTurnsPerSession {
		m.logger.Warn("turn cap exceeded, dropping oldest turns",
			"session_id", c.SessionID,
			"turns", len(c.Turns),
			"max_turns", m.cfg.MaxTurnsPerSession,
		)
		c.Turns = c.Turns[len(c.Turns)-m.cfg.MaxTurnsPerSession:]
		c.TotalTurns = len(c.Turns)
	}

	m.metrics.ObserveTurnAdded(string(c.Stage))
	return nil
}

// SaveState persists the full context plus the flattened user profile and
// the per-market preference records in one pipelined batch. It reports
// success; on any store failure it logs and returns false so the caller can
// continue with in-memory state for the current request without claiming
// the turns were recorded. The session lock is held for the duration so a
// concurrent AddTurn cannot mutate the context mid-serialization.
func (m *StateManager) SaveState(ctx context.Context, c *MCPConversationContext) bool {
	if c == nil {
		return false
	}

	lock := m.sessionLock(c.SessionID)
	lock.Lock()
	defer lock.Unlock()

	return m.saveState(ctx, c)
}

// saveState is the persistence body of SaveState; callers hold the session
// lock. The batch is a plain pipeline, not MULTI/EXEC: the records are
// independent TTL'd keys and a plain pipeline drains every reply from the
// connection even when the store answers with errors.
func (m *StateManager) saveState(ctx context.Context, c *MCPConversationContext) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := m.tracer.Start(ctx, "conversation.save_state")
	defer span.End()
	started := m.now()

	data, err := c.Marshal()
	if err != nil {
		span.RecordError(err)
		m.logger.Error("failed to serialize conversation state",
			"session_id", c.SessionID,
			"error", err,
		)
		m.metrics.ObserveSave("serialize_error", m.now().Sub(started).Seconds())
		return false
	}

	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	pipe := m.redis.Pipeline()
	pipe.Set(ctx, sessionStateKey(c.SessionID), data, m.cfg.StateTTL)

	pipe.HSet(ctx, userProfileKey(c.UserID), map[string]any{
		"last_session_id":    c.SessionID,
		"primary_intent":     c.PrimaryIntent,
		"engagement_score":   strconv.FormatFloat(c.EngagementScore, 'f', -1, 64),
		"preferred_market":   c.CurrentMarketID,
		"device_type":        c.DeviceType,
		"conversation_style": conversationStyle(c),
		"last_updated":       strconv.FormatInt(c.LastUpdated, 10),
	})
	pipe.Expire(ctx, userProfileKey(c.UserID), m.cfg.ConversationTTL)

	for marketID, prefs := range c.MarketPreferences {
		prefsData, err := marshalMarketPreferences(prefs)
		if err != nil {
			span.RecordError(err)
			m.logger.Error("failed to serialize market preferences",
				"session_id", c.SessionID,
				"market_id", marketID,
				"error", err,
			)
			m.metrics.ObserveSave("serialize_error", m.now().Sub(started).Seconds())
			return false
		}
		pipe.Set(ctx, marketPreferencesKey(c.UserID, marketID), prefsData, m.cfg.ConversationTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		m.logger.Warn("failed to persist conversation state, continuing in-memory",
			"session_id", c.SessionID,
			"error", err,
		)
		m.metrics.ObserveSave("store_error", m.now().Sub(started).Seconds())
		return false
	}

	m.metrics.ObserveSave("ok", m.now().Sub(started).Seconds())
	return true
}

// LoadState fetches and reconstructs the persisted context for a session.
// A miss returns (nil, nil): starting a new context is the caller's call,
// not an error. An unavailable store is treated the same as a miss and
// logged. A malformed blob is a hard error. The session lock is held for
// the duration; a load never observes a half-written save from this
// process.
func (m *StateManager) LoadState(ctx context.Context, sessionID string) (*MCPConversationContext, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return m.loadState(ctx, sessionID)
}

// loadState is the fetch body of LoadState; callers hold the session lock.
func (m *StateManager) loadState(ctx context.Context, sessionID string) (*MCPConversationContext, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := m.tracer.Start(ctx, "conversation.load_state")
	defer span.End()

	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	data, err := m.redis.Get(ctx, sessionStateKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			m.metrics.ObserveLoad("miss")
			return nil, nil
		}
		span.RecordError(err)
		m.logger.Warn("conversation state unavailable, treating as miss",
			"session_id", sessionID,
			"error", err,
		)
		m.metrics.ObserveLoad("store_error")
		return nil, nil
	}

	c, err := UnmarshalContext(data)
	if err != nil {
		span.RecordError(err)
		m.metrics.ObserveLoad("malformed")
		return nil, err
	}
	m.metrics.ObserveLoad("hit")
	return c, nil
}

// SessionTxn is the view handed to a WithSession callback. Its methods run
// under the session lock the surrounding cycle already holds.
type SessionTxn struct {
	manager *StateManager
	c       *MCPConversationContext
}

// Context returns the loaded context. Valid only inside the callback.
func (t *SessionTxn) Context() *MCPConversationContext {
	return t.c
}

// AddTurn records a turn within the surrounding WithSession cycle.
func (t *SessionTxn) AddTurn(params TurnParams) error {
	return t.manager.applyTurn(t.c, params)
}

// WithSession runs one full load-apply-save cycle for a session while
// holding its lock the whole time, so two overlapping cycles for the same
// session cannot both load the same blob and overwrite each other's turns.
// A miss returns ErrSessionNotFound without invoking fn; an fn error aborts
// the cycle without saving. The returned bool reports whether the final
// save reached the store, with the same degradation contract as SaveState.
func (m *StateManager) WithSession(ctx context.Context, sessionID string, fn func(txn *SessionTxn) error) (*MCPConversationContext, bool, error) {
	if sessionID == "" {
		return nil, false, ErrEmptySessionID
	}
	if fn == nil {
		return nil, false, errors.New("conversation: callback is required")
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	c, err := m.loadState(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if c == nil {
		return nil, false, ErrSessionNotFound
	}

	if err := fn(&SessionTxn{manager: m, c: c}); err != nil {
		return c, false, err
	}
	return c, m.saveState(ctx, c), nil
}

// ListUserSessions returns the user's session IDs, most recent first, from
// the index maintained at context creation.
func (m *StateManager) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	sessions, err := m.redis.ZRevRange(ctx, userSessionsKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("conversation: list sessions for user %s: %w", userID, err)
	}
	return sessions, nil
}

func sessionStateKey(sessionID string) string {
	return "mcp:session:" + sessionID
}

func userProfileKey(userID string) string {
	return "mcp:user_profile:" + userID
}

func userSessionsKey(userID string) string {
	return "mcp:user_sessions:" + userID
}

func marketPreferencesKey(userID, marketID string) string {
	return fmt.Sprintf("mcp:market_prefs:%s:%s", userID, marketID)
}
