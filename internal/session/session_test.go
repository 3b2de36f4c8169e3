package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/quiverhq/quiver/internal/cryptox"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "acct_1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestManager_LoggedIn(t *testing.T) {
	priv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	m := NewManager()
	assert.False(t, m.LoggedIn(), "zero state is signed out")

	m.SignIn("acct_1", signedToken(t, time.Now().Add(time.Hour)), priv)
	assert.True(t, m.LoggedIn())

	m.SignOut()
	assert.False(t, m.LoggedIn())
	_, err = m.PrivateKey()
	require.ErrorIs(t, err, ErrNotSignedIn)
}

func TestManager_LoggedIn_ExpiredToken(t *testing.T) {
	priv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	m := NewManager()
	m.SignIn("acct_1", signedToken(t, time.Now().Add(-time.Minute)), priv)
	assert.False(t, m.LoggedIn(), "expired token counts as signed out")
}

func TestManager_LoggedIn_OpaqueToken(t *testing.T) {
	priv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	m := NewManager()
	m.SignIn("acct_1", "not-a-jwt", priv)
	assert.True(t, m.LoggedIn(), "opaque tokens have no client-visible expiry")
}

func TestManager_Keys(t *testing.T) {
	priv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	m := NewManager()
	m.SignIn("acct_1", "tok", priv)

	gotPriv, err := m.PrivateKey()
	require.NoError(t, err)
	assert.True(t, priv.Equal(gotPriv))

	gotPub, err := m.PublicKey()
	require.NoError(t, err)
	assert.True(t, priv.PublicKey.Equal(gotPub))

	assert.Equal(t, "acct_1", m.AccountID())
	assert.Equal(t, "tok", m.Token())
}

func setupMetaDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value BLOB NOT NULL);`)
	require.NoError(t, err)
	return db
}

func TestManager_PersistRestore(t *testing.T) {
	db := setupMetaDB(t)
	ctx := context.Background()

	priv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	m := NewManager()
	m.SignIn("acct_1", "tok", priv)
	require.NoError(t, m.Persist(ctx, db, []byte("hunter2")))

	restored := NewManager()
	require.NoError(t, restored.Restore(ctx, db, []byte("hunter2")))
	assert.Equal(t, "acct_1", restored.AccountID())
	gotPriv, err := restored.PrivateKey()
	require.NoError(t, err)
	assert.True(t, priv.Equal(gotPriv))

	wrong := NewManager()
	require.Error(t, wrong.Restore(ctx, db, []byte("wrong")), "wrong passphrase must fail")
}

func TestManager_Restore_Empty(t *testing.T) {
	db := setupMetaDB(t)
	m := NewManager()
	require.ErrorIs(t, m.Restore(context.Background(), db, []byte("x")), ErrNotSignedIn)
}

func TestManager_Forget(t *testing.T) {
	db := setupMetaDB(t)
	ctx := context.Background()

	priv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	m := NewManager()
	m.SignIn("acct_1", "tok", priv)
	require.NoError(t, m.Persist(ctx, db, []byte("p")))
	require.NoError(t, m.Forget(ctx, db))

	require.ErrorIs(t, NewManager().Restore(ctx, db, []byte("p")), ErrNotSignedIn)
}

func TestManager_Persist_RequiresSignIn(t *testing.T) {
	db := setupMetaDB(t)
	require.ErrorIs(t, NewManager().Persist(context.Background(), db, []byte("p")), ErrNotSignedIn)
}
