// Package tasks defines the background tasks exchanged between the API and
// the worker over asynq.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dompet/internal/obs"
)

// TypeStatsInvalidate drops cached statistics after a transaction mutation.
const TypeStatsInvalidate = "stats:invalidate"

// TypeSessionsCleanup purges expired refresh sessions. The worker schedules
// it periodically.
const TypeSessionsCleanup = "sessions:cleanup"

// StatsInvalidatePayload names the scope whose statistics changed.
type StatsInvalidatePayload struct {
	UserID   int64  `json:"userId"`
	FamilyID *int64 `json:"familyId,omitempty"`
}

// NewStatsInvalidateTask builds a stats:invalidate task.
func NewStatsInvalidateTask(userID int64, familyID *int64) (*asynq.Task, error) {
	payload, err := json.Marshal(StatsInvalidatePayload{UserID: userID, FamilyID: familyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeStatsInvalidate, payload, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

// NewSessionsCleanupTask builds a sessions:cleanup task. Only one may be
// queued at a time.
func NewSessionsCleanupTask() *asynq.Task {
	return asynq.NewTask(TypeSessionsCleanup, nil, asynq.MaxRetry(1), asynq.Unique(time.Hour))
}

// SessionPruner deletes refresh sessions that expired before now.
type SessionPruner interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// StatsInvalidator drops cached statistics for a scope.
type StatsInvalidator interface {
	InvalidateStats(ctx context.Context, userID int64, familyID *int64) error
}

// Enqueuer is the subset of *asynq.Client used to publish tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher hands invalidations to the worker. When enqueueing fails the
// Fallback runs inline so that stale figures are not served until the TTL.
type Publisher struct {
	Queue    Enqueuer
	Fallback StatsInvalidator
	Logger   zerolog.Logger
}

// InvalidateStats implements StatsInvalidator by enqueueing a task.
func (p *Publisher) InvalidateStats(ctx context.Context, userID int64, familyID *int64) error {
	task, err := NewStatsInvalidateTask(userID, familyID)
	if err != nil {
		return err
	}
	if p.Queue != nil {
		_, err = p.Queue.EnqueueContext(ctx, task)
		if err == nil || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		p.Logger.Warn().Err(err).Int64("user_id", userID).Msg("enqueue stats invalidation")
	}
	if p.Fallback == nil {
		return err
	}
	return p.Fallback.InvalidateStats(ctx, userID, familyID)
}

// Handler processes tasks on the worker.
type Handler struct {
	Stats    StatsInvalidator
	Sessions SessionPruner
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Register mounts the task handlers on mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeStatsInvalidate, h.HandleStatsInvalidate)
	if h.Sessions != nil {
		mux.HandleFunc(TypeSessionsCleanup, h.HandleSessionsCleanup)
	}
}

// HandleStatsInvalidate processes a stats:invalidate task. Malformed payloads
// are not retried.
func (h *Handler) HandleStatsInvalidate(ctx context.Context, t *asynq.Task) error {
	var p StatsInvalidatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.UserID <= 0 {
		obs.Inc(obs.TasksProcessedTotal, t.Type(), "invalid")
		return fmt.Errorf("decode %s payload: %w", t.Type(), asynq.SkipRetry)
	}
	if err := h.Stats.InvalidateStats(ctx, p.UserID, p.FamilyID); err != nil {
		obs.Inc(obs.TasksProcessedTotal, t.Type(), "error")
		return err
	}
	obs.Inc(obs.TasksProcessedTotal, t.Type(), "ok")
	h.Logger.Debug().Int64("user_id", p.UserID).Msg("stats invalidated")
	return nil
}

// HandleSessionsCleanup processes a sessions:cleanup task.
func (h *Handler) HandleSessionsCleanup(ctx context.Context, t *asynq.Task) error {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	n, err := h.Sessions.DeleteExpiredSessions(ctx, now().UTC())
	if err != nil {
		obs.Inc(obs.TasksProcessedTotal, t.Type(), "error")
		return err
	}
	obs.Inc(obs.TasksProcessedTotal, t.Type(), "ok")
	h.Logger.Info().Int64("deleted", n).Msg("expired sessions purged")
	return nil
}
