package payments

import "context"

// Gateway is the outbound contract against the mobile-money provider. A fresh
// bearer token is acquired per initiation; nothing is cached.
type Gateway interface {
	AcquireToken(ctx context.Context) (string, error)
	InitiateSTKPush(ctx context.Context, token string, req STKPushRequest) (*STKPushResponse, error)
}
