package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UserStatusActive is the status of a user who may hold sessions.
const UserStatusActive = "active"

// User is the reference view of a user the security core needs: enough to
// annotate events and decide whether a subject is still active.
type User struct {
	ID        string
	Email     string
	Status    string
	CreatedAt time.Time
}

// RefStore reads user and org reference data. The security core never writes
// these tables; the upstream auth platform owns them.
type RefStore struct {
	db *sql.DB
}

// NewRefStore returns a RefStore backed by the given connection.
func NewRefStore(db *sql.DB) *RefStore {
	return &RefStore{db: db}
}

// GetUser returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (s *RefStore) GetUser(ctx context.Context, id string) (*User, error) {
	const q = `SELECT id, email, status, created_at FROM users WHERE id = $1`
	var u User
	err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &u.Status, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrgPlanTier returns the org's plan tier string, or "" if the org is
// unknown. Callers map "" to their configured default tier.
func (s *RefStore) GetOrgPlanTier(ctx context.Context, orgID string) (string, error) {
	const q = `SELECT plan_tier FROM organizations WHERE id = $1`
	var tier string
	err := s.db.QueryRowContext(ctx, q, orgID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tier, nil
}
