package gateway

import (
	"context"

	"github.com/harun/companion/internal/tracing"
)

type ctxKey string

const clientIDKey ctxKey = "client_id"

// withClient tags ctx with the socket connection id and its owner
func withClient(ctx context.Context, client *Client) context.Context {
	ctx = context.WithValue(ctx, clientIDKey, client.ID)
	return tracing.WithOwnerID(ctx, client.OwnerID)
}

func clientIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(clientIDKey).(string); ok {
		return value
	}
	return ""
}

// ownerFromContext returns the caller identity established by the transport
func ownerFromContext(ctx context.Context) string {
	return tracing.GetOwnerID(ctx)
}
