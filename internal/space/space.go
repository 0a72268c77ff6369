// Package space manages tenant configuration and the monthly usage ledger.
// Each space owns an isolated memory collection, a schema-prefixed slice of
// the relational store, and a vault directory for curated notes.
package space

import (
	"fmt"
	"path/filepath"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

const (
	DefaultMonthlyTokenBudget   = 1_000_000
	DefaultMonthlyAPICallBudget = 10_000
)

// Config is the blueprint of an isolated tenant context. Derived fields
// (vault path, collection ref, schema ref) are filled by Normalize when
// left empty.
type Config struct {
	TenantID             string `json:"tenant_id"`
	Name                 string `json:"name"`
	OwnerID              string `json:"owner_id"`
	MonthlyTokenBudget   int    `json:"monthly_token_budget"`
	MonthlyAPICallBudget int    `json:"monthly_api_call_budget"`
	VaultPath            string `json:"vault_path"`
	CollectionRef        string `json:"collection_ref"`
	SchemaRef            string `json:"schema_ref"`
	PreferredModel       string `json:"preferred_model"`
	Status               Status `json:"status"`
}

// Normalize fills derived fields and default budgets in place.
func (c *Config) Normalize(dataDir string) {
	if c.MonthlyTokenBudget <= 0 {
		c.MonthlyTokenBudget = DefaultMonthlyTokenBudget
	}
	if c.MonthlyAPICallBudget <= 0 {
		c.MonthlyAPICallBudget = DefaultMonthlyAPICallBudget
	}
	if c.VaultPath == "" {
		c.VaultPath = filepath.Join(dataDir, "vaults", c.TenantID)
	}
	if c.CollectionRef == "" {
		c.CollectionRef = "mem_" + c.TenantID
	}
	if c.SchemaRef == "" {
		c.SchemaRef = "space_" + c.TenantID
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
}

// Usage is the per-month ledger record for one tenant. Totals only ever
// grow within a period; a new month starts a fresh record.
type Usage struct {
	TenantID   string  `json:"tenant_id"`
	Month      string  `json:"month"`
	TokensUsed int     `json:"tokens_used"`
	APICalls   int     `json:"api_calls_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// BudgetRemaining reports how many tokens remain under the space's
// monthly budget. May be negative once the budget is blown.
func (u Usage) BudgetRemaining(cfg Config) int {
	return cfg.MonthlyTokenBudget - u.TokensUsed
}

// MonthKey formats a time as the ledger's "YYYY-MM" period key.
func MonthKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.UTC().Year(), t.UTC().Month())
}
