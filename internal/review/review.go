// Package review implements the approval checkpoint between pipeline
// phases. Task identity is content-addressed per (tenant, query hash,
// phase) so retries of the same logical request reuse one review task.
package review

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Task struct {
	ID        string
	TenantID  string
	Phase     string
	Content   string
	Status    Status
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskID derives the content-addressed identity of a review task.
func TaskID(tenantID, queryHash, phase string) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + queryHash + "|" + phase))
	return hex.EncodeToString(sum[:])
}

// QueryHash fingerprints a query for task identity.
func QueryHash(userID, query string) string {
	sum := sha256.Sum256([]byte(userID + "|" + query))
	return hex.EncodeToString(sum[:16])
}

// Store persists review tasks. Create is idempotent per task id; SetStatus
// is last-write-wins by timestamp and must not lose updates under
// concurrent approve/reject.
type Store interface {
	Create(ctx context.Context, task Task) error
	SetStatus(ctx context.Context, id string, status Status, notes string, at time.Time) error
	Get(ctx context.Context, id string) (*Task, error)
	ListPending(ctx context.Context, tenantID string) ([]Task, error)
}

type Policy string

const (
	// PolicyAuto approves every phase output immediately (non-interactive).
	PolicyAuto Policy = "auto"
	// PolicyManual blocks until a reviewer resolves the task.
	PolicyManual Policy = "manual"
)

// Gate submits phase outputs for review and waits for a decision.
type Gate struct {
	store        Store
	policy       Policy
	pollInterval time.Duration
	now          func() time.Time
}

func NewGate(store Store, policy Policy, pollInterval time.Duration) *Gate {
	if policy == "" {
		policy = PolicyAuto
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Gate{
		store:        store,
		policy:       policy,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

func (g *Gate) Store() Store { return g.store }

// Submit creates (or finds) the review task for a phase output and blocks
// until its status is no longer pending. Under the auto policy a task still
// pending is approved immediately; an earlier decision on the same task
// stands.
func (g *Gate) Submit(ctx context.Context, task Task) (*Task, error) {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = g.now()
	}
	task.UpdatedAt = task.CreatedAt
	if task.Status == "" {
		task.Status = StatusPending
	}

	if err := g.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create review task: %w", err)
	}

	if g.policy == PolicyAuto {
		existing, err := g.store.Get(ctx, task.ID)
		if err != nil {
			return nil, fmt.Errorf("load review task: %w", err)
		}
		if existing != nil && existing.Status == StatusPending {
			if err := g.store.SetStatus(ctx, task.ID, StatusApproved, "auto-approved", g.now()); err != nil {
				return nil, fmt.Errorf("auto-approve review task: %w", err)
			}
		}
	}

	return g.await(ctx, task.ID)
}

func (g *Gate) await(ctx context.Context, id string) (*Task, error) {
	for {
		task, err := g.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, fmt.Errorf("review task %s disappeared", id)
		}
		if task.Status != StatusPending {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}
}
