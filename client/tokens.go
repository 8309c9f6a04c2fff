package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Credentials is an access and refresh token pair. A pair is replaced as a whole,
// never mutated.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// refreshFunc exchanges a refresh token for a new pair.
type refreshFunc func(ctx context.Context, refreshToken string) (*Credentials, error)

// tokenManager owns the credential pair. Writers hold mu; a refresh holds it for
// the whole network exchange so concurrent refreshers wait for it and then observe
// the new pair. Readers load the published snapshot and never block on a refresh.
type tokenManager struct {
	mu      sync.Mutex
	creds   atomic.Pointer[Credentials]
	checker *claimsChecker
	refresh refreshFunc
	state   *StateManager
	logger  Logger

	refreshCount atomic.Int64
}

func newTokenManager(checker *claimsChecker, refresh refreshFunc, state *StateManager, logger Logger) *tokenManager {
	return &tokenManager{
		checker: checker,
		refresh: refresh,
		state:   state,
		logger:  logger,
	}
}

// authenticated reports whether a pair is held.
func (m *tokenManager) authenticated() bool {
	return m.creds.Load() != nil
}

// current returns the held pair without validating it.
func (m *tokenManager) current() *Credentials {
	return m.creds.Load()
}

// set installs a pair after login. It fails if one is already held.
func (m *tokenManager) set(creds *Credentials, reason string) error {
	claims, _, err := m.checker.check(creds.AccessToken)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.creds.Load() != nil {
		m.mu.Unlock()
		return newTokenError(TokenAlreadyAuthenticated, "credentials are already held", nil)
	}
	m.creds.Store(creds)
	tr, terr := m.state.set(AUTHENTICATED, nil, map[string]interface{}{
		"reason":  reason,
		"subject": claims.Subject,
	})
	m.mu.Unlock()

	if terr == nil {
		m.state.notify(tr)
	}
	m.logger.Info("credentials installed", String("reason", reason), String("subject", claims.Subject))
	return nil
}

// clear drops the pair. It reports whether one was held.
func (m *tokenManager) clear(reason string, cause error) bool {
	m.mu.Lock()
	held := m.creds.Swap(nil) != nil
	var tr StateTransition
	var terr error
	if held {
		tr, terr = m.state.set(UNAUTHENTICATED, cause, map[string]interface{}{"reason": reason})
	}
	m.mu.Unlock()

	if held && terr == nil {
		m.state.notify(tr)
		m.logger.Info("credentials cleared", String("reason", reason))
	}
	return held
}

// ValidToken returns an access token that is not expired, refreshing it first when
// needed. It returns "" when no credentials are held.
func (m *tokenManager) ValidToken(ctx context.Context) (string, error) {
	creds := m.creds.Load()
	if creds == nil {
		return "", nil
	}

	_, expired, err := m.checker.check(creds.AccessToken)
	if err != nil {
		return "", err
	}
	if !expired {
		return creds.AccessToken, nil
	}
	return m.refreshExpired(ctx)
}

func (m *tokenManager) refreshExpired(ctx context.Context) (string, error) {
	var transitions []StateTransition
	defer func() { m.state.notify(transitions...) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Someone else may have refreshed or logged out while we waited for the lock.
	creds := m.creds.Load()
	if creds == nil {
		return "", nil
	}
	_, expired, err := m.checker.check(creds.AccessToken)
	if err != nil {
		return "", err
	}
	if !expired {
		return creds.AccessToken, nil
	}

	record := func(to AuthState, err error, reason string) {
		if tr, terr := m.state.set(to, err, map[string]interface{}{"reason": reason}); terr == nil {
			transitions = append(transitions, tr)
		}
	}

	record(REFRESHING, nil, "refresh")
	m.refreshCount.Add(1)
	start := time.Now()

	fresh, err := m.refresh(ctx, creds.RefreshToken)
	if err == nil {
		_, _, err = m.checker.check(fresh.AccessToken)
	}
	if err != nil {
		if IsTokenError(err, TokenRefreshExpired) || IsTokenError(err, TokenInvalid) {
			m.creds.Store(nil)
			record(UNAUTHENTICATED, err, "refresh_failed")
			m.logger.Warn("refresh token rejected, credentials cleared", Error("error", err))
			return "", err
		}
		record(AUTHENTICATED, err, "refresh_failed")
		m.logger.Error("token refresh failed", Error("error", err), Duration("duration", time.Since(start)))
		return "", err
	}

	m.creds.Store(fresh)
	record(AUTHENTICATED, nil, "refresh")
	m.logger.Debug("access token refreshed", Duration("duration", time.Since(start)))
	return fresh.AccessToken, nil
}
