package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quiverhq/quiver/internal/cryptox"
	"github.com/quiverhq/quiver/internal/dbx"
)

// Metadata keys for persisted session state. The private key is stored
// sealed under a passphrase-derived key; everything else is plaintext.
const (
	metaAccountID  = "session.account_id"
	metaToken      = "session.token"
	metaPrivateKey = "session.private_key"
	metaSalt       = "session.salt"
)

const saltSize = 16

// Persist writes the current session to the metadata table, sealing the
// private key under a key derived from passphrase. All keys land in one
// transaction; a torn session row is worse than none.
func (m *Manager) Persist(ctx context.Context, db *sql.DB, passphrase []byte) error {
	m.mu.RLock()
	accountID, token, priv := m.accountID, m.token, m.privateKey
	m.mu.RUnlock()

	if priv == nil {
		return ErrNotSignedIn
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	kek := cryptox.DeriveKeyFromPassphrase(passphrase, salt)
	sealed, err := cryptox.SealPrivateKey(priv, kek)
	if err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}

	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for key, value := range map[string][]byte{
			metaAccountID:  []byte(accountID),
			metaToken:      []byte(token),
			metaPrivateKey: sealed,
			metaSalt:       salt,
		} {
			if err := putMeta(ctx, tx, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Restore loads a persisted session, unsealing the private key with
// passphrase. Returns ErrNotSignedIn when nothing was persisted.
func (m *Manager) Restore(ctx context.Context, db dbx.DBTX, passphrase []byte) error {
	accountID, err := getMeta(ctx, db, metaAccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotSignedIn
		}
		return err
	}
	token, err := getMeta(ctx, db, metaToken)
	if err != nil {
		return err
	}
	sealed, err := getMeta(ctx, db, metaPrivateKey)
	if err != nil {
		return err
	}
	salt, err := getMeta(ctx, db, metaSalt)
	if err != nil {
		return err
	}

	kek := cryptox.DeriveKeyFromPassphrase(passphrase, salt)
	priv, err := cryptox.OpenPrivateKey(sealed, kek)
	if err != nil {
		return fmt.Errorf("unsealing private key: %w", err)
	}

	m.SignIn(string(accountID), string(token), priv)
	return nil
}

// Forget removes any persisted session state.
func (m *Manager) Forget(ctx context.Context, db *sql.DB) error {
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, key := range []string{metaAccountID, metaToken, metaPrivateKey, metaSalt} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key); err != nil {
				return fmt.Errorf("failed to delete metadata: %w", err)
			}
		}
		return nil
	})
}

func putMeta(ctx context.Context, db dbx.DBTX, key string, value []byte) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to upsert metadata: %w", err)
	}
	return nil
}

func getMeta(ctx context.Context, db dbx.DBTX, key string) ([]byte, error) {
	var value []byte
	if err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value); err != nil {
		return nil, err
	}
	return value, nil
}
