package session

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session/entity"
)

type claimsKey struct{}

func WithClaims(ctx context.Context, claims *entity.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns nil when the request carries no session.
func ClaimsFromContext(ctx context.Context) *entity.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*entity.Claims)
	return claims
}
