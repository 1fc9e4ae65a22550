package auth

import (
	"context"
	"sync"
	"time"
)

// refreshMargin renews a cached token this long before it expires
const refreshMargin = time.Minute

// StaticToken is a pre-issued bearer token
type StaticToken string

// Token implements repositories.TokenProvider
func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// SignedTokenProvider issues its own tokens and caches them until shortly
// before expiry
type SignedTokenProvider struct {
	signer   *Signer
	clientID string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSignedTokenProvider creates a provider issuing tokens for clientID
func NewSignedTokenProvider(signer *Signer, clientID string) *SignedTokenProvider {
	return &SignedTokenProvider{signer: signer, clientID: clientID}
}

// Token implements repositories.TokenProvider
func (p *SignedTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.signer.clock.Now().Add(refreshMargin).Before(p.expiresAt) {
		return p.token, nil
	}

	token, expiresAt, err := p.signer.Issue(p.clientID)
	if err != nil {
		return "", err
	}
	p.token = token
	p.expiresAt = expiresAt
	return token, nil
}
