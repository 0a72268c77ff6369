package space

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	merrors "github.com/mera-ai/mera/internal/errors"
)

var vaultFolders = []string{"Projects", "Learning", "Memories"}

// Manager is the gatekeeper for space operations. Configs are cached after
// first load; usage updates go straight to the ledger table so concurrent
// increments never lose writes.
type Manager struct {
	db      *sql.DB
	dataDir string
	now     func() time.Time

	mu      sync.Mutex
	cache   map[string]Config
	current string
}

func NewManager(db *sql.DB, dataDir string) (*Manager, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS spaces (
			tenant_id  TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			config     TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS space_usage (
			tenant_id      TEXT NOT NULL,
			month          TEXT NOT NULL,
			tokens_used    INTEGER NOT NULL DEFAULT 0,
			api_calls_used INTEGER NOT NULL DEFAULT 0,
			cost_usd       REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, month)
		);
	`)
	if err != nil {
		return nil, merrors.Wrap(err, "init space tables")
	}
	return &Manager{
		db:      db,
		dataDir: dataDir,
		now:     time.Now,
		cache:   make(map[string]Config),
	}, nil
}

// Create provisions a new space: vault directory skeleton on disk plus the
// config row. The memory collection and schema-prefixed tables are created
// lazily on first use.
func (m *Manager) Create(ctx context.Context, cfg Config) (Config, error) {
	if cfg.TenantID == "" {
		return Config{}, merrors.InvalidInput("tenant id is required")
	}
	cfg.Normalize(m.dataDir)

	for _, folder := range vaultFolders {
		if err := os.MkdirAll(filepath.Join(cfg.VaultPath, folder), 0o755); err != nil {
			return Config{}, merrors.Wrap(err, "create vault directory")
		}
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return Config{}, merrors.Wrap(err, "encode space config")
	}

	res, err := m.db.ExecContext(ctx, `
		INSERT INTO spaces (tenant_id, owner_id, config, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO NOTHING`,
		cfg.TenantID, cfg.OwnerID, string(raw), string(cfg.Status), m.now().UnixMilli())
	if err != nil {
		return Config{}, merrors.Wrap(err, "insert space")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Config{}, merrors.WrapWithCategory(
			os.ErrExist, "space already exists: "+cfg.TenantID, merrors.ErrConflict)
	}

	m.mu.Lock()
	m.cache[cfg.TenantID] = cfg
	m.mu.Unlock()

	slog.Info("space created", "tenant_id", cfg.TenantID, "owner_id", cfg.OwnerID)
	return cfg, nil
}

// Switch loads a space config and makes it current.
func (m *Manager) Switch(ctx context.Context, tenantID string) (Config, error) {
	cfg, err := m.Get(ctx, tenantID)
	if err != nil {
		return Config{}, err
	}

	m.mu.Lock()
	m.current = tenantID
	m.mu.Unlock()

	slog.Info("switched space", "tenant_id", tenantID)
	return cfg, nil
}

// Current returns the active space config, or an error when none is
// selected.
func (m *Manager) Current(ctx context.Context) (Config, error) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	if current == "" {
		return Config{}, merrors.InvalidInput("no space selected")
	}
	return m.Get(ctx, current)
}

// Get fetches one space config, serving from cache when possible.
func (m *Manager) Get(ctx context.Context, tenantID string) (Config, error) {
	m.mu.Lock()
	if cfg, ok := m.cache[tenantID]; ok {
		m.mu.Unlock()
		return cfg, nil
	}
	m.mu.Unlock()

	row := m.db.QueryRowContext(ctx,
		`SELECT config, status FROM spaces WHERE tenant_id = ?`, tenantID)

	var raw, status string
	if err := row.Scan(&raw, &status); err != nil {
		if err == sql.ErrNoRows {
			return Config{}, merrors.NotFound("space not found: " + tenantID)
		}
		return Config{}, merrors.Wrap(err, "load space")
	}

	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, merrors.Wrap(err, "decode space config")
	}
	cfg.Status = Status(status)
	cfg.Normalize(m.dataDir)

	m.mu.Lock()
	m.cache[tenantID] = cfg
	m.mu.Unlock()
	return cfg, nil
}

// List returns all spaces for an owner, or every space when ownerID is
// empty.
func (m *Manager) List(ctx context.Context, ownerID string) ([]Config, error) {
	query := `SELECT config, status FROM spaces`
	var args []interface{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, merrors.Wrap(err, "list spaces")
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		var raw, status string
		if err := rows.Scan(&raw, &status); err != nil {
			return nil, merrors.Wrap(err, "scan space")
		}
		var cfg Config
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, merrors.Wrap(err, "decode space config")
		}
		cfg.Status = Status(status)
		cfg.Normalize(m.dataDir)
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Archive soft-deletes a space. Its data stays in place; the pipeline
// refuses archived tenants.
func (m *Manager) Archive(ctx context.Context, tenantID string) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE spaces SET status = ? WHERE tenant_id = ?`,
		string(StatusArchived), tenantID)
	if err != nil {
		return merrors.Wrap(err, "archive space")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return merrors.NotFound("space not found: " + tenantID)
	}

	m.mu.Lock()
	delete(m.cache, tenantID)
	if m.current == tenantID {
		m.current = ""
	}
	m.mu.Unlock()

	slog.Info("space archived", "tenant_id", tenantID)
	return nil
}

// GetUsage returns the ledger record for a tenant and month. Absence is
// not an error; a zero record comes back instead.
func (m *Manager) GetUsage(ctx context.Context, tenantID, month string) (Usage, error) {
	if month == "" {
		month = MonthKey(m.now())
	}

	row := m.db.QueryRowContext(ctx, `
		SELECT tokens_used, api_calls_used, cost_usd
		FROM space_usage WHERE tenant_id = ? AND month = ?`, tenantID, month)

	usage := Usage{TenantID: tenantID, Month: month}
	err := row.Scan(&usage.TokensUsed, &usage.APICalls, &usage.CostUSD)
	if err == sql.ErrNoRows {
		return usage, nil
	}
	if err != nil {
		return Usage{}, merrors.Wrap(err, "load usage")
	}
	return usage, nil
}

// UpdateUsage adds to the tenant's totals for the month. The increment is
// a single upsert so concurrent runs never overwrite each other.
func (m *Manager) UpdateUsage(ctx context.Context, tenantID string, tokens, apiCalls int, costUSD float64, month string) error {
	if month == "" {
		month = MonthKey(m.now())
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO space_usage (tenant_id, month, tokens_used, api_calls_used, cost_usd)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, month) DO UPDATE SET
			tokens_used    = tokens_used + excluded.tokens_used,
			api_calls_used = api_calls_used + excluded.api_calls_used,
			cost_usd       = cost_usd + excluded.cost_usd`,
		tenantID, month, tokens, apiCalls, costUSD)
	if err != nil {
		return merrors.WrapWithCategory(err, "update usage", merrors.ErrPersistence)
	}
	return nil
}
