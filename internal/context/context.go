package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ClientIDKey is the context key for the authenticated runtime or producer id
	ClientIDKey ContextKey = "client_id"
	// TokenKindKey is the context key for the kind of token presented
	TokenKindKey ContextKey = "token_kind"
)

// WithClient returns ctx carrying the authenticated client id and token kind
func WithClient(ctx context.Context, clientID, kind string) context.Context {
	ctx = context.WithValue(ctx, ClientIDKey, clientID)
	return context.WithValue(ctx, TokenKindKey, kind)
}

// ExtractClientID extracts the client id from the request context
func ExtractClientID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ClientIDKey).(string)
	return id, ok
}

// ExtractTokenKind extracts the token kind from the request context
func ExtractTokenKind(ctx context.Context) (string, bool) {
	kind, ok := ctx.Value(TokenKindKey).(string)
	return kind, ok
}
