package repositories

import "context"

// TokenProvider supplies the bearer token attached when dialing the service.
// An empty token means the connection is opened without credentials.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}
