// Package session coordinates one chat turn end to end: authentication,
// quota admission, profile learning, engine forwarding, and turn logging.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jpviola/theoagent-sub002/internal/learner"
	"github.com/jpviola/theoagent-sub002/internal/quota"
	"github.com/jpviola/theoagent-sub002/internal/storage"
)

var (
	// ErrAuthRequired is returned when a request carries no user identity.
	ErrAuthRequired = errors.New("authentication required")

	// ErrUserNotFound is returned when an operation targets a user with no
	// stored state.
	ErrUserNotFound = errors.New("user not found")

	// ErrStorageUnavailable is returned when a storage failure prevents a
	// quota decision. Admission fails closed in that case.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrEngineFailure is returned when the downstream engine could not
	// produce a response for an admitted turn.
	ErrEngineFailure = errors.New("engine failure")
)

// Generator produces a response for an admitted message.
type Generator interface {
	Generate(ctx context.Context, userID, message string) (string, error)
}

// HistoryGateway manages conversation history held by the engine.
type HistoryGateway interface {
	ClearHistory(ctx context.Context, userID string) error
	HistoryCount(ctx context.Context, userID string) (int, error)
}

// TurnRecorder logs turn outcomes. Implemented by storage.Store.
type TurnRecorder interface {
	SaveConversationTurn(t storage.ConversationTurn) error
}

// ProfileChecker reports whether a user has stored state. Implemented by
// storage.Store.
type ProfileChecker interface {
	HasLearnerProfile(userID string) (bool, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TurnRequest is one inbound chat message.
type TurnRequest struct {
	UserID  string
	Message string
	Tier    quota.Tier
}

// TurnResult is the outcome of a handled turn.
type TurnResult struct {
	Allowed   bool
	Remaining quota.Remaining
	Profile   learner.Profile
	Response  string
}

// Stats summarizes a user's conversation state.
type Stats struct {
	MessageCount int        `json:"message_count"`
	Tier         quota.Tier `json:"subscription_tier"`
}

// Orchestrator runs the turn pipeline. Turns for one user are serialized
// so quota reservation and profile updates observe a consistent order.
type Orchestrator struct {
	quota    *quota.Manager
	profiles *learner.Store
	engine   Generator
	gateway  HistoryGateway
	recorder TurnRecorder
	checker  ProfileChecker
	clock    Clock
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator wires the turn pipeline together.
func NewOrchestrator(qm *quota.Manager, ps *learner.Store, gen Generator, gw HistoryGateway, rec TurnRecorder, chk ProfileChecker, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		quota:    qm,
		profiles: ps,
		engine:   gen,
		gateway:  gw,
		recorder: rec,
		checker:  chk,
		clock:    realClock{},
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) userLock(userID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[userID] = l
	}
	return l
}

// HandleTurn runs one chat turn: quota admission, profile update, engine
// forward, turn log. Quota is reserved before the engine is called and is
// not refunded on engine failure; a failed engine call still consumed a
// slot, matching how the reservation was made atomically up front.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.UserID == "" {
		return TurnResult{}, ErrAuthRequired
	}

	lock := o.userLock(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	decision, err := o.quota.CheckAndReserve(req.UserID, req.Tier)
	if err != nil {
		// Fail closed: without a reliable quota decision no turn is admitted.
		return TurnResult{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if !decision.Allowed {
		return TurnResult{Allowed: false, Remaining: decision.Remaining}, nil
	}

	// The profile update is best-effort once quota is reserved: a learning
	// failure must not eat the user's reserved slot.
	profile, err := o.profiles.Apply(req.UserID, req.Message)
	if err != nil {
		o.logger.Warn("profile update failed, continuing turn",
			"user_id", req.UserID, "error", err)
	}

	response, err := o.engine.Generate(ctx, req.UserID, req.Message)
	if err != nil {
		o.recordTurn(req, 0, "engine_failed")
		return TurnResult{}, fmt.Errorf("%w: %w", ErrEngineFailure, err)
	}

	o.recordTurn(req, len(response), "admitted")

	return TurnResult{
		Allowed:   true,
		Remaining: decision.Remaining,
		Profile:   profile,
		Response:  response,
	}, nil
}

func (o *Orchestrator) recordTurn(req TurnRequest, responseChars int, status string) {
	turn := storage.ConversationTurn{
		ID:            ulid.Make().String(),
		UserID:        req.UserID,
		Tier:          string(req.Tier),
		Question:      req.Message,
		ResponseChars: responseChars,
		Status:        status,
		CreatedAt:     o.clock.Now().UTC(),
	}
	if err := o.recorder.SaveConversationTurn(turn); err != nil {
		o.logger.Warn("recording turn failed", "user_id", req.UserID, "error", err)
	}
}

// ClearHistory deletes the user's conversation history on the engine. The
// user must have interacted at least once; an unknown user is an error, but
// a user whose history is already empty clears successfully.
func (o *Orchestrator) ClearHistory(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrAuthRequired
	}
	exists, err := o.checker.HasLearnerProfile(userID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err := o.gateway.ClearHistory(ctx, userID); err != nil {
		return fmt.Errorf("%w: %w", ErrEngineFailure, err)
	}
	o.logger.Info("conversation history cleared", "user_id", userID)
	return nil
}

// ConversationStats returns the user's engine-side message count and the
// tier seen on their most recent quota check.
func (o *Orchestrator) ConversationStats(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, ErrAuthRequired
	}
	count, err := o.gateway.HistoryCount(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrEngineFailure, err)
	}
	tier, err := o.quota.StoredTier(userID)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return Stats{MessageCount: count, Tier: tier}, nil
}

// Profile returns the user's learner profile, defaulted when none exists.
func (o *Orchestrator) Profile(userID string) (learner.Profile, error) {
	if userID == "" {
		return learner.Profile{}, ErrAuthRequired
	}
	p, err := o.profiles.Get(userID)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return p, nil
}

// QuotaStatus reports the user's remaining allowance without consuming any.
func (o *Orchestrator) QuotaStatus(userID string, tier quota.Tier) (quota.Decision, error) {
	if userID == "" {
		return quota.Decision{}, ErrAuthRequired
	}
	d, err := o.quota.Peek(userID, tier)
	if err != nil {
		return quota.Decision{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return d, nil
}
