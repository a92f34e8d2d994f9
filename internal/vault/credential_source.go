package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DBCredentialSource resolves an account to its sealed credentials from the
// ledger database, the same column-constant-query style
// internal/orderstore's Store follows.
type DBCredentialSource struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDBCredentialSource builds a CredentialSource over the ledger database.
func NewDBCredentialSource(db *sql.DB, log zerolog.Logger) *DBCredentialSource {
	return &DBCredentialSource{db: db, log: log.With().Str("component", "credential_source").Logger()}
}

// Get returns the sealed credentials on file for account.
func (s *DBCredentialSource) Get(ctx context.Context, account string) (SealedCredentials, error) {
	const query = `SELECT account, encrypted_blob FROM sealed_credentials WHERE account = ?`
	row := s.db.QueryRowContext(ctx, query, account)

	var creds SealedCredentials
	if err := row.Scan(&creds.Account, &creds.EncryptedBlob); err != nil {
		if err == sql.ErrNoRows {
			return SealedCredentials{}, fmt.Errorf("no sealed credentials on file for account %s", account)
		}
		return SealedCredentials{}, fmt.Errorf("resolve sealed credentials for %s: %w", account, err)
	}
	return creds, nil
}

// Put seals plaintext "user:password" credentials under key and upserts them
// for account. Used by onboarding flows, not the replication hot path.
func (s *DBCredentialSource) Put(ctx context.Context, key []byte, account string, plaintext []byte) error {
	blob, err := Seal(key, plaintext)
	if err != nil {
		return fmt.Errorf("seal credentials for %s: %w", account, err)
	}

	const query = `INSERT INTO sealed_credentials (account, encrypted_blob, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET encrypted_blob = excluded.encrypted_blob, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, account, blob, time.Now().Unix()); err != nil {
		return fmt.Errorf("store sealed credentials for %s: %w", account, err)
	}
	return nil
}
