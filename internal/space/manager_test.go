package space

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/mera-ai/mera/internal/errors"

	_ "modernc.org/sqlite"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()

	db, err := sql.Open("sqlite", filepath.Join(dir, "mera.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := NewManager(db, dir)
	require.NoError(t, err)
	return m
}

func TestManager_CreateFillsDerivedFields(t *testing.T) {
	m := newManager(t)

	cfg, err := m.Create(context.Background(), Config{TenantID: "t1", Name: "Team One", OwnerID: "alice"})
	require.NoError(t, err)

	assert.Equal(t, DefaultMonthlyTokenBudget, cfg.MonthlyTokenBudget)
	assert.Equal(t, DefaultMonthlyAPICallBudget, cfg.MonthlyAPICallBudget)
	assert.Equal(t, "mem_t1", cfg.CollectionRef)
	assert.Equal(t, "space_t1", cfg.SchemaRef)
	assert.Equal(t, StatusActive, cfg.Status)
	assert.DirExists(t, filepath.Join(cfg.VaultPath, "Memories"))
}

func TestManager_CreateRejectsDuplicate(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, Config{TenantID: "t1", OwnerID: "alice"})
	require.NoError(t, err)

	_, err = m.Create(ctx, Config{TenantID: "t1", OwnerID: "bob"})
	assert.ErrorIs(t, err, merrors.ErrConflict)
}

func TestManager_SwitchAndCurrent(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	_, err := m.Current(ctx)
	assert.ErrorIs(t, err, merrors.ErrInvalidInput)

	_, err = m.Create(ctx, Config{TenantID: "t1", OwnerID: "alice", PreferredModel: "openai/gpt-4o"})
	require.NoError(t, err)

	_, err = m.Switch(ctx, "missing")
	assert.ErrorIs(t, err, merrors.ErrNotFound)

	cfg, err := m.Switch(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", cfg.PreferredModel)

	current, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", current.TenantID)
}

func TestManager_ArchiveIsSoftDelete(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, Config{TenantID: "t1", OwnerID: "alice"})
	require.NoError(t, err)
	require.NoError(t, m.Archive(ctx, "t1"))

	cfg, err := m.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, cfg.Status)

	assert.ErrorIs(t, m.Archive(ctx, "missing"), merrors.ErrNotFound)
}

func TestManager_ListFiltersByOwner(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, Config{TenantID: "t1", OwnerID: "alice"})
	require.NoError(t, err)
	_, err = m.Create(ctx, Config{TenantID: "t2", OwnerID: "bob"})
	require.NoError(t, err)

	all, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := m.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "t1", mine[0].TenantID)
}

func TestManager_UsageIsAdditive(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	// Absence yields a zero record, not an error.
	usage, err := m.GetUsage(ctx, "t1", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.TokensUsed)
	assert.Equal(t, "2026-08", usage.Month)

	require.NoError(t, m.UpdateUsage(ctx, "t1", 1200, 3, 0.018, "2026-08"))
	require.NoError(t, m.UpdateUsage(ctx, "t1", 800, 3, 0.012, "2026-08"))

	usage, err = m.GetUsage(ctx, "t1", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, 2000, usage.TokensUsed)
	assert.Equal(t, 6, usage.APICalls)
	assert.InDelta(t, 0.03, usage.CostUSD, 1e-9)

	// A new period starts its own record.
	next, err := m.GetUsage(ctx, "t1", "2026-09")
	require.NoError(t, err)
	assert.Equal(t, 0, next.TokensUsed)
}

func TestUsage_BudgetRemaining(t *testing.T) {
	cfg := Config{MonthlyTokenBudget: 100_000}
	usage := Usage{TokensUsed: 95_000}
	assert.Equal(t, 5_000, usage.BudgetRemaining(cfg))
}

func TestMonthKey(t *testing.T) {
	assert.Equal(t, "2026-08", MonthKey(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)))
}
