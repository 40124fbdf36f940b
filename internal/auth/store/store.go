package store

import (
	"context"
	"errors"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. It exposes sub-repositories to keep
// concerns tidy and testable.
type Store interface {
	Clients() Clients
	Grants() Grants
	Subjects() Subjects

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction: rollback when fn
	// errors, commit otherwise. Prefer this over Tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Clients interface {
	// GetClientByID fetches a client for authentication and grant
	// checks.
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// ListClients returns all clients ordered by creation date
	// (newest first).
	ListClients(ctx context.Context) ([]domain.Client, error)

	// CreateClient inserts a new client.
	CreateClient(ctx context.Context, c domain.Client) error

	// UpdateClientSecrets replaces the client's registered
	// credentials.
	UpdateClientSecrets(ctx context.Context, clientID string, secrets []domain.ClientSecret) error

	// SetClientEnabled toggles whether the client may obtain tokens.
	SetClientEnabled(ctx context.Context, clientID string, enabled bool) error

	// DeleteClient cascades to the client's persisted grants.
	DeleteClient(ctx context.Context, clientID string) error
}

type Grants interface {
	// CreateGrant stores a new persisted grant. A duplicate key
	// returns ErrAlreadyExists.
	CreateGrant(ctx context.Context, g domain.PersistedGrant) error

	// GetGrant returns a grant by its fingerprint key.
	GetGrant(ctx context.Context, key string) (domain.PersistedGrant, error)

	// GetGrantByUserCode returns a device grant by its user code.
	GetGrantByUserCode(ctx context.Context, userCode string) (domain.PersistedGrant, error)

	// ConsumeGrant marks the grant consumed at the given instant. It
	// reports false when the grant was already consumed, so exactly
	// one of any number of concurrent redeemers wins.
	ConsumeGrant(ctx context.Context, key string, at time.Time) (bool, error)

	// UpdateGrantPayload replaces the kind specific payload.
	UpdateGrantPayload(ctx context.Context, key string, payload []byte) error

	// UpdateGrantExpiration moves the grant's expiry, for sliding
	// refresh lifetimes.
	UpdateGrantExpiration(ctx context.Context, key string, expiresAt time.Time) error

	// RemoveGrant deletes a single grant.
	RemoveGrant(ctx context.Context, key string) error

	// RemoveSessionGrants deletes every grant in a session family.
	RemoveSessionGrants(ctx context.Context, clientID, sessionID string) error

	// RemoveSubjectGrants deletes every grant issued to a subject.
	RemoveSubjectGrants(ctx context.Context, subjectID string) error

	// DeleteExpiredGrants removes grants expired before the cutoff,
	// returning the number removed.
	DeleteExpiredGrants(ctx context.Context, before time.Time) (int64, error)
}

type Subjects interface {
	// GetSubjectByID returns a subject with its roles.
	GetSubjectByID(ctx context.Context, id string) (domain.Subject, error)

	// CreateSubject inserts a new subject.
	CreateSubject(ctx context.Context, s domain.Subject) error

	// SetSubjectActive toggles the subject's liveness. Deactivating
	// does not delete grants; redemption checks liveness explicitly.
	SetSubjectActive(ctx context.Context, id string, active bool) error
}
