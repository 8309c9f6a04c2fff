package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dan-strohschein/campfire-go/testutil"
)

type tokenFixture struct {
	clock   *fakeClock
	state   *StateManager
	manager *tokenManager
	calls   atomic.Int64
}

func newTokenFixture(t *testing.T, refresh func(f *tokenFixture, refreshToken string) (*Credentials, error)) *tokenFixture {
	t.Helper()
	f := &tokenFixture{clock: newFakeClock(), state: NewStateManager()}
	checker := newClaimsChecker(f.clock.Now, 30*time.Second)
	f.manager = newTokenManager(checker, func(ctx context.Context, refreshToken string) (*Credentials, error) {
		f.calls.Add(1)
		return refresh(f, refreshToken)
	}, f.state, NewNoopLogger())
	return f
}

func (f *tokenFixture) login(t *testing.T, exp time.Time) *Credentials {
	t.Helper()
	creds := &Credentials{AccessToken: testutil.AccessToken(t, "7", exp), RefreshToken: "refresh-7"}
	require.NoError(t, f.manager.set(creds, "login"))
	return creds
}

func TestTokenManager_NoCredentials(t *testing.T) {
	f := newTokenFixture(t, func(*tokenFixture, string) (*Credentials, error) {
		return nil, errors.New("must not refresh")
	})

	token, err := f.manager.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.False(t, f.manager.authenticated())
	assert.Zero(t, f.calls.Load())
}

func TestTokenManager_ValidTokenNoRefresh(t *testing.T) {
	f := newTokenFixture(t, func(*tokenFixture, string) (*Credentials, error) {
		return nil, errors.New("must not refresh")
	})
	creds := f.login(t, f.clock.Now().Add(time.Hour))

	token, err := f.manager.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, creds.AccessToken, token)
	assert.Zero(t, f.calls.Load())
	assert.Equal(t, AUTHENTICATED, f.state.GetState())
}

func TestTokenManager_SetTwice(t *testing.T) {
	f := newTokenFixture(t, nil)
	f.login(t, f.clock.Now().Add(time.Hour))

	err := f.manager.set(&Credentials{AccessToken: testutil.AccessToken(t, "8", f.clock.Now().Add(time.Hour))}, "login")
	assert.True(t, IsTokenError(err, TokenAlreadyAuthenticated))
}

func TestTokenManager_SetRejectsInvalidToken(t *testing.T) {
	f := newTokenFixture(t, nil)

	err := f.manager.set(&Credentials{AccessToken: "garbage"}, "login")
	assert.True(t, IsTokenError(err, TokenInvalid))
	assert.False(t, f.manager.authenticated())
	assert.Equal(t, UNAUTHENTICATED, f.state.GetState())
}

func TestTokenManager_SingleFlightRefresh(t *testing.T) {
	release := make(chan struct{})
	f := newTokenFixture(t, func(f *tokenFixture, refreshToken string) (*Credentials, error) {
		<-release
		return &Credentials{
			AccessToken:  testutil.AccessToken(t, "7", f.clock.Now().Add(time.Hour)),
			RefreshToken: refreshToken + "-next",
		}, nil
	})
	f.login(t, f.clock.Now().Add(time.Minute))
	f.clock.Advance(2 * time.Minute)

	const callers = 16
	tokens := make([]string, callers)
	var started sync.WaitGroup
	started.Add(callers)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			started.Done()
			token, err := f.manager.ValidToken(ctx)
			tokens[i] = token
			return err
		})
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), f.calls.Load())
	assert.Equal(t, int64(1), f.manager.refreshCount.Load())
	for _, token := range tokens {
		assert.Equal(t, tokens[0], token)
	}
	assert.Equal(t, "refresh-7-next", f.manager.current().RefreshToken)
	assert.Equal(t, AUTHENTICATED, f.state.GetState())
}

func TestTokenManager_RefreshExpiredClearsState(t *testing.T) {
	f := newTokenFixture(t, func(*tokenFixture, string) (*Credentials, error) {
		return nil, newTokenError(TokenRefreshExpired, "refresh token was rejected", nil)
	})

	var transitions []StateTransition
	f.state.OnStateChange(func(tr StateTransition) { transitions = append(transitions, tr) })

	f.login(t, f.clock.Now().Add(time.Minute))
	f.clock.Advance(time.Hour)

	_, err := f.manager.ValidToken(context.Background())
	assert.True(t, IsTokenError(err, TokenRefreshExpired))
	assert.False(t, f.manager.authenticated())
	assert.Equal(t, UNAUTHENTICATED, f.state.GetState())

	require.Len(t, transitions, 3)
	assert.Equal(t, REFRESHING, transitions[1].To)
	assert.Equal(t, UNAUTHENTICATED, transitions[2].To)
	assert.Equal(t, "refresh_failed", transitions[2].Metadata["reason"])

	// Once cleared, callers proceed anonymously.
	token, err := f.manager.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestTokenManager_TransientRefreshFailureKeepsCredentials(t *testing.T) {
	boom := errors.New("connection reset")
	f := newTokenFixture(t, func(*tokenFixture, string) (*Credentials, error) {
		return nil, boom
	})
	f.login(t, f.clock.Now().Add(time.Minute))
	f.clock.Advance(time.Hour)

	_, err := f.manager.ValidToken(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, f.manager.authenticated())
	assert.Equal(t, AUTHENTICATED, f.state.GetState())

	// The next call tries again.
	_, err = f.manager.ValidToken(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestTokenManager_RefreshReturnsInvalidToken(t *testing.T) {
	f := newTokenFixture(t, func(*tokenFixture, string) (*Credentials, error) {
		return &Credentials{AccessToken: "not-a-jwt", RefreshToken: "r"}, nil
	})
	f.login(t, f.clock.Now().Add(time.Minute))
	f.clock.Advance(time.Hour)

	_, err := f.manager.ValidToken(context.Background())
	assert.True(t, IsTokenError(err, TokenInvalid))
	assert.False(t, f.manager.authenticated())
}

func TestTokenManager_Clear(t *testing.T) {
	f := newTokenFixture(t, nil)
	assert.False(t, f.manager.clear("logout", nil))

	f.login(t, f.clock.Now().Add(time.Hour))
	assert.True(t, f.manager.clear("logout", nil))
	assert.Nil(t, f.manager.current())
	assert.Equal(t, UNAUTHENTICATED, f.state.GetState())
}
