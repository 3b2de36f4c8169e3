// Package session holds the signed-in account's identity: account id, the
// session token, and the RSA key pair used to wrap resource-group keys.
package session

import (
	"crypto/rsa"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNotSignedIn = errors.New("no account signed in")

// Manager is the per-process session state. Zero value is a signed-out
// session.
type Manager struct {
	mu         sync.RWMutex
	accountID  string
	token      string
	privateKey *rsa.PrivateKey

	// now is stubbed in tests.
	now func() time.Time
}

func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// SignIn installs the account credentials.
func (m *Manager) SignIn(accountID, token string, privateKey *rsa.PrivateKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountID = accountID
	m.token = token
	m.privateKey = privateKey
}

// SignOut clears all credentials.
func (m *Manager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountID = ""
	m.token = ""
	m.privateKey = nil
}

// LoggedIn reports whether an account is signed in with a usable token.
// Session tokens are JWTs; an expired token counts as signed out. The token
// signature is the server's to verify, so only the claims are inspected here.
func (m *Manager) LoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.accountID == "" || m.token == "" || m.privateKey == nil {
		return false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(m.token, &claims); err != nil {
		// Opaque (non-JWT) tokens have no client-visible expiry.
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.After(m.now())
}

func (m *Manager) AccountID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountID
}

func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Manager) PrivateKey() (*rsa.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.privateKey == nil {
		return nil, ErrNotSignedIn
	}
	return m.privateKey, nil
}

func (m *Manager) PublicKey() (*rsa.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.privateKey == nil {
		return nil, ErrNotSignedIn
	}
	return &m.privateKey.PublicKey, nil
}
