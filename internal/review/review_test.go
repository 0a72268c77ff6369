package review

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqliteStore, err := NewSQLiteStore(db)
	require.NoError(t, err)

	return map[string]Store{
		"mem":    NewMemStore(),
		"sqlite": sqliteStore,
	}
}

func TestStore_CreateIsIdempotent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := TaskID("t1", QueryHash("u1", "query"), "plan")
			base := time.Now()

			first := Task{ID: id, TenantID: "t1", Phase: "plan", Content: "original", Status: StatusPending, CreatedAt: base, UpdatedAt: base}
			require.NoError(t, store.Create(ctx, first))

			dup := first
			dup.Content = "should not replace"
			require.NoError(t, store.Create(ctx, dup))

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "original", got.Content)

			pending, err := store.ListPending(ctx, "t1")
			require.NoError(t, err)
			assert.Len(t, pending, 1)
		})
	}
}

func TestStore_SetStatusLastWriteWinsByTimestamp(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := TaskID("t1", "qh", "research")
			base := time.Now().Truncate(time.Millisecond)

			require.NoError(t, store.Create(ctx, Task{ID: id, TenantID: "t1", Phase: "research", Status: StatusPending, CreatedAt: base, UpdatedAt: base}))

			// Later timestamp applied first, earlier timestamp arrives late:
			// the earlier write must not clobber the later decision.
			require.NoError(t, store.SetStatus(ctx, id, StatusApproved, "lgtm", base.Add(2*time.Second)))
			require.NoError(t, store.SetStatus(ctx, id, StatusRejected, "too slow", base.Add(time.Second)))

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, StatusApproved, got.Status)
			assert.Equal(t, "lgtm", got.Notes)
		})
	}
}

func TestGate_AutoPolicyApprovesImmediately(t *testing.T) {
	gate := NewGate(NewMemStore(), PolicyAuto, time.Millisecond)

	task, err := gate.Submit(context.Background(), Task{
		ID: TaskID("t1", "qh", "plan"), TenantID: "t1", Phase: "plan", Content: "the plan",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, task.Status)
	assert.Equal(t, "auto-approved", task.Notes)
}

func TestGate_AutoPolicyKeepsPriorRejection(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := TaskID("t1", "qh", "plan")

			require.NoError(t, store.Create(ctx, Task{
				ID: id, TenantID: "t1", Phase: "plan", Status: StatusPending,
				CreatedAt: time.Now(), UpdatedAt: time.Now(),
			}))
			require.NoError(t, store.SetStatus(ctx, id, StatusRejected, "too risky", time.Now()))

			gate := NewGate(store, PolicyAuto, time.Millisecond)
			task, err := gate.Submit(ctx, Task{ID: id, TenantID: "t1", Phase: "plan"})
			require.NoError(t, err)
			assert.Equal(t, StatusRejected, task.Status)
			assert.Equal(t, "too risky", task.Notes)
		})
	}
}

func TestGate_ManualPolicyBlocksUntilDecision(t *testing.T) {
	store := NewMemStore()
	gate := NewGate(store, PolicyManual, time.Millisecond)

	id := TaskID("t1", "qh", "plan")
	decided := make(chan struct{})
	go func() {
		defer close(decided)
		// Wait for the task to exist, then reject it.
		for {
			task, _ := store.Get(context.Background(), id)
			if task != nil {
				store.SetStatus(context.Background(), id, StatusRejected, "needs rework", time.Now())
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	task, err := gate.Submit(context.Background(), Task{ID: id, TenantID: "t1", Phase: "plan"})
	<-decided
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, task.Status)
}

func TestGate_ManualPolicyHonorsCancellation(t *testing.T) {
	gate := NewGate(NewMemStore(), PolicyManual, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gate.Submit(ctx, Task{ID: "never-decided", TenantID: "t1", Phase: "research"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskID_ContentAddressed(t *testing.T) {
	a := TaskID("t1", QueryHash("u1", "q"), "plan")
	b := TaskID("t1", QueryHash("u1", "q"), "plan")
	c := TaskID("t1", QueryHash("u1", "q"), "research")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
