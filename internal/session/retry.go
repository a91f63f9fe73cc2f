package session

import (
	"context"
	"fmt"

	"github.com/snapetech/cmore/internal/metrics"
	"github.com/snapetech/cmore/internal/upstream"
)

// Retry runs fn with a valid token. If fn reports that the user is not
// authenticated, the session is invalidated, a single re-login is made and fn
// runs once more. It never loops: a second not-authenticated failure is
// returned as is, and a failed re-login returns the original error.
func Retry(ctx context.Context, m *Manager, fn func(token string) error) error {
	token, err := m.EnsureAuthenticated(ctx)
	if err != nil {
		return err
	}
	err = fn(token)
	if err == nil || !upstream.IsNotAuthenticated(err) {
		return err
	}

	m.Invalidate()
	token, lerr := m.EnsureAuthenticated(ctx)
	if lerr != nil {
		metrics.IncRelogin("failed")
		return fmt.Errorf("%w (re-login failed: %v)", err, lerr)
	}
	metrics.IncRelogin("ok")
	if rerr := fn(token); rerr != nil {
		if upstream.IsNotAuthenticated(rerr) {
			return err
		}
		return rerr
	}
	return nil
}
