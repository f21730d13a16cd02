/*
Package identity manages registration, login, and the pending-to-approved
account lifecycle.

This file defines the identity verifier collaborator: a credential book keyed
by an internal identifier the directory never exposes, issuing opaque authIDs.
Two backends are provided, in-memory and PostgreSQL, both hashing secrets with
bcrypt.
*/
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"kwite/internal/app/db"
)

var (
	// ErrCredentialExists is returned when the internal identifier already
	// has a credential.
	ErrCredentialExists = errors.New("identity: credential already exists")

	// ErrBadCredentials is returned when the secret does not match.
	ErrBadCredentials = errors.New("identity: invalid credentials")
)

// Verifier is the external credential collaborator. It never sees a raw
// handle; callers map handles into a private namespace first.
type Verifier interface {
	// CreateCredential stores a new credential and returns its opaque authID.
	// At most one credential may exist per internalID.
	CreateCredential(ctx context.Context, internalID, secret string) (string, error)

	// VerifyCredential checks the secret and returns the authID on success.
	// Any failure, including backend outage, surfaces as ErrBadCredentials so
	// callers cannot distinguish a missing account from a wrong secret.
	VerifyCredential(ctx context.Context, internalID, secret string) (string, error)
}

// MemoryVerifier is the in-memory Verifier backend used in development and tests.
type MemoryVerifier struct {
	mu    sync.Mutex
	creds map[string]memoryCredential
}

type memoryCredential struct {
	authID     string
	secretHash []byte
}

// NewMemoryVerifier creates an empty in-memory verifier.
func NewMemoryVerifier() *MemoryVerifier {
	return &MemoryVerifier{
		creds: make(map[string]memoryCredential),
	}
}

// CreateCredential stores a new credential and returns its opaque authID.
func (v *MemoryVerifier) CreateCredential(ctx context.Context, internalID, secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("identity: hash secret: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.creds[internalID]; ok {
		return "", ErrCredentialExists
	}

	authID := uuid.NewString()
	v.creds[internalID] = memoryCredential{
		authID:     authID,
		secretHash: hash,
	}

	return authID, nil
}

// VerifyCredential checks the secret and returns the authID on success.
func (v *MemoryVerifier) VerifyCredential(ctx context.Context, internalID, secret string) (string, error) {
	v.mu.Lock()
	cred, ok := v.creds[internalID]
	v.mu.Unlock()

	if !ok {
		return "", ErrBadCredentials
	}

	if err := bcrypt.CompareHashAndPassword(cred.secretHash, []byte(secret)); err != nil {
		return "", ErrBadCredentials
	}

	return cred.authID, nil
}

// PostgresVerifier is the PostgreSQL Verifier backend over the credentials table.
type PostgresVerifier struct {
	pool *pgxpool.Pool
}

// NewPostgresVerifier creates a Verifier over an existing connection pool.
func NewPostgresVerifier(pool *pgxpool.Pool) *PostgresVerifier {
	return &PostgresVerifier{pool: pool}
}

// CreateCredential stores a new credential and returns its opaque authID.
func (v *PostgresVerifier) CreateCredential(ctx context.Context, internalID, secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("identity: hash secret: %w", err)
	}

	authID := uuid.NewString()

	_, err = v.pool.Exec(ctx,
		`INSERT INTO credentials (internal_id, auth_id, secret_hash)
		 VALUES ($1, $2, $3)`,
		internalID, authID, string(hash))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return "", ErrCredentialExists
		}
		return "", fmt.Errorf("identity: create credential: %w", err)
	}

	return authID, nil
}

// VerifyCredential checks the secret and returns the authID on success.
func (v *PostgresVerifier) VerifyCredential(ctx context.Context, internalID, secret string) (string, error) {
	var authID string
	var secretHash string

	row := v.pool.QueryRow(ctx,
		`SELECT auth_id, secret_hash
		 FROM credentials
		 WHERE internal_id = $1`,
		internalID)

	if err := row.Scan(&authID, &secretHash); err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrBadCredentials
		}
		// Backend outage is indistinguishable from a bad secret on purpose.
		return "", ErrBadCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(secret)); err != nil {
		return "", ErrBadCredentials
	}

	return authID, nil
}
