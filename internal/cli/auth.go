package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/quiverhq/quiver/internal/cryptox"
	"github.com/quiverhq/quiver/internal/session"
)

// login restores a persisted session when one exists, otherwise it
// provisions a fresh identity: a new RSA key pair sealed under the
// passphrase and persisted for the next start.
func (a *App) login(ctx context.Context) {
	passphrase, err := GetPassphrase(a.out)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	defer wipe(passphrase)

	err = a.sess.Restore(ctx, a.db, passphrase)
	if err == nil {
		fmt.Fprintf(a.out, "Welcome back, %s\n", a.sess.AccountID())
		return
	}
	if !errors.Is(err, session.ErrNotSignedIn) {
		fmt.Fprintf(a.out, "login failed: %v\n", err)
		return
	}

	accountID, err := GetSimpleText(a.reader, "Account id", a.out)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	token, err := GetSimpleText(a.reader, "Access token", a.out)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}

	priv, err := cryptox.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(a.out, "key generation failed: %v\n", err)
		return
	}
	a.sess.SignIn(accountID, token, priv)

	if err := a.sess.Persist(ctx, a.db, passphrase); err != nil {
		fmt.Fprintf(a.out, "failed to persist session: %v\n", err)
		a.sess.SignOut()
		return
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", accountID)
}

func (a *App) logout(ctx context.Context) {
	if err := a.sess.Forget(ctx, a.db); err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	if err := a.engine.Logout(ctx); err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(a.out, "Signed out")
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
