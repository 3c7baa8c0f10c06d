package token

import (
	"context"
	"errors"
	"sync"

	"github.com/svglol/better-clips/internal/domain"
)

type mockExchanger struct {
	clientCredentialsFn func(ctx context.Context) (domain.TokenGrant, error)
	refreshTokenFn      func(ctx context.Context, refreshToken string) (domain.TokenGrant, error)
	validateFn          func(ctx context.Context, accessToken string) (domain.TokenValidation, error)
}

func (m *mockExchanger) ClientCredentials(ctx context.Context) (domain.TokenGrant, error) {
	if m.clientCredentialsFn != nil {
		return m.clientCredentialsFn(ctx)
	}
	return domain.TokenGrant{}, errors.New("unexpected client credentials exchange")
}

func (m *mockExchanger) RefreshToken(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	if m.refreshTokenFn != nil {
		return m.refreshTokenFn(ctx, refreshToken)
	}
	return domain.TokenGrant{}, errors.New("unexpected refresh")
}

func (m *mockExchanger) AuthorizationCode(context.Context, string) (domain.TokenGrant, error) {
	return domain.TokenGrant{}, errors.New("unexpected authorization code exchange")
}

func (m *mockExchanger) Validate(ctx context.Context, accessToken string) (domain.TokenValidation, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, accessToken)
	}
	return domain.TokenValidation{Valid: true}, nil
}

type recordedExchange struct{ kind, outcome string }

type fakeRecorder struct {
	mu        sync.Mutex
	exchanges []recordedExchange
	waits     []string
}

func (f *fakeRecorder) Exchanged(kind, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, recordedExchange{kind, outcome})
}

func (f *fakeRecorder) LockWaited(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, outcome)
}
