package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type recordingStats struct {
	users    []int64
	families []*int64
	err      error
}

func (r *recordingStats) InvalidateStats(_ context.Context, userID int64, familyID *int64) error {
	r.users = append(r.users, userID)
	r.families = append(r.families, familyID)
	return r.err
}

type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestPublisherEnqueues(t *testing.T) {
	q := &fakeQueue{}
	fallback := &recordingStats{}
	p := &Publisher{Queue: q, Fallback: fallback}
	fam := int64(3)

	require.NoError(t, p.InvalidateStats(context.Background(), 7, &fam))
	require.Len(t, q.tasks, 1)
	require.Equal(t, TypeStatsInvalidate, q.tasks[0].Type())

	var payload StatsInvalidatePayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	require.Equal(t, int64(7), payload.UserID)
	require.Equal(t, int64(3), *payload.FamilyID)
	require.Empty(t, fallback.users)
}

func TestPublisherFallsBackInline(t *testing.T) {
	fallback := &recordingStats{}
	p := &Publisher{Queue: &fakeQueue{err: errors.New("redis down")}, Fallback: fallback}
	require.NoError(t, p.InvalidateStats(context.Background(), 7, nil))
	require.Equal(t, []int64{7}, fallback.users)

	p = &Publisher{Queue: &fakeQueue{err: asynq.ErrDuplicateTask}, Fallback: fallback}
	require.NoError(t, p.InvalidateStats(context.Background(), 8, nil))
	require.Equal(t, []int64{7}, fallback.users)

	p = &Publisher{Queue: &fakeQueue{err: errors.New("redis down")}}
	require.Error(t, p.InvalidateStats(context.Background(), 9, nil))
}

func TestHandleStatsInvalidate(t *testing.T) {
	stats := &recordingStats{}
	h := &Handler{Stats: stats}
	fam := int64(4)
	task, err := NewStatsInvalidateTask(2, &fam)
	require.NoError(t, err)

	require.NoError(t, h.HandleStatsInvalidate(context.Background(), task))
	require.Equal(t, []int64{2}, stats.users)
	require.Equal(t, int64(4), *stats.families[0])

	err = h.HandleStatsInvalidate(context.Background(), asynq.NewTask(TypeStatsInvalidate, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	stats.err = errors.New("scan failed")
	err = h.HandleStatsInvalidate(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestRegister(t *testing.T) {
	mux := asynq.NewServeMux()
	stats := &recordingStats{}
	(&Handler{Stats: stats}).Register(mux)
	task, err := NewStatsInvalidateTask(5, nil)
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))
	require.Equal(t, []int64{5}, stats.users)
}

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (f *fakePruner) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	f.cutoff = now
	return 3, f.err
}

func TestHandleSessionsCleanup(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	pruner := &fakePruner{}
	h := &Handler{Sessions: pruner, Now: func() time.Time { return now }}

	mux := asynq.NewServeMux()
	h.Register(mux)
	require.NoError(t, mux.ProcessTask(context.Background(), NewSessionsCleanupTask()))
	require.Equal(t, time.UTC, pruner.cutoff.Location())
	require.True(t, now.Equal(pruner.cutoff))

	pruner.err = errors.New("db down")
	require.Error(t, h.HandleSessionsCleanup(context.Background(), NewSessionsCleanupTask()))

	// without a pruner the task type is not served
	mux = asynq.NewServeMux()
	(&Handler{Stats: &recordingStats{}}).Register(mux)
	require.Error(t, mux.ProcessTask(context.Background(), NewSessionsCleanupTask()))
}
