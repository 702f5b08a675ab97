package merchantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type merchantIDKey struct{}

// WithMerchantID stores the authenticated merchant on the context.
func WithMerchantID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, merchantIDKey{}, id)
}

// MerchantIDFromContext returns the authenticated merchant, if any.
func MerchantIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(merchantIDKey{}).(snowflake.ID)
	return id, ok && id != 0
}
