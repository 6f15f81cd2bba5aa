package models

import (
	"context"
	"time"
)

type gatewayContextKey struct{}

// GatewayContext carries request details about where a gateway event came
// from, so the ledger mirror can store them as transaction metadata without
// widening every call signature.
type GatewayContext struct {
	Source     string    // "webhook" or "scan"
	RemoteAddr string    // caller IP for webhook deliveries
	RawStatus  string    // status string as delivered
	Verified   bool      // event fields were re-fetched from the gateway
	ReceivedAt time.Time
}

// WithGatewayContext attaches gateway event data to a context.
func WithGatewayContext(ctx context.Context, gc *GatewayContext) context.Context {
	return context.WithValue(ctx, gatewayContextKey{}, gc)
}

// GetGatewayContext retrieves gateway event data from context, or nil if absent.
func GetGatewayContext(ctx context.Context) *GatewayContext {
	gc, _ := ctx.Value(gatewayContextKey{}).(*GatewayContext)
	return gc
}
