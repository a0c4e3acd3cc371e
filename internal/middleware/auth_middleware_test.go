package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/event-bridge/backend/internal/auth"
	appctx "github.com/welldanyogia/event-bridge/backend/internal/context"
	"pgregory.net/rapid"
)

// Test configuration for property tests
func newTestTokenService() *auth.TokenService {
	return auth.NewTokenService(auth.TokenServiceConfig{
		Secret: "test-bridge-secret-key-32-chars!",
		Expiry: 15 * time.Minute,
		Issuer: "test-issuer",
	})
}

// Helper to create a test handler that records if it was called
func testHandler() (http.Handler, *bool) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		clientID, ok := ExtractClientID(r.Context())
		if !ok || clientID == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(clientID))
	})
	return handler, &called
}

// Property 1: Missing Auth Header Returns 401
// *For any* request to a protected endpoint without an Authorization header,
// the middleware returns 401 with AUTH_TOKEN_MISSING.
func TestProperty1_MissingAuthHeaderReturns401(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		path := "/" + rapid.StringMatching(`[a-z]{3,10}`).Draw(t, "path")
		method := rapid.SampledFrom([]string{"GET", "POST"}).Draw(t, "method")
		kind := rapid.SampledFrom([]auth.Kind{auth.RuntimeKind, auth.ProducerKind}).Draw(t, "kind")

		middleware := NewAuthMiddleware(newTestTokenService())
		handler, called := testHandler()

		req := httptest.NewRequest(method, path, nil)
		rec := httptest.NewRecorder()
		middleware.Authenticate(kind)(handler).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
		if *called {
			t.Error("handler should not be called when auth header is missing")
		}

		var response ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if response.Error.Code != CodeTokenMissing {
			t.Errorf("expected error code %s, got %s", CodeTokenMissing, response.Error.Code)
		}
		if response.Success {
			t.Error("success should be false")
		}
	})
}

// Property 2: Invalid Token Returns 401
// *For any* malformed, foreign or badly prefixed token, the middleware
// returns 401 and never calls the handler.
func TestProperty2_InvalidTokenReturns401(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		middleware := NewAuthMiddleware(newTestTokenService())
		handler, called := testHandler()

		invalidTokenType := rapid.IntRange(0, 4).Draw(t, "invalidTokenType")

		var authHeader string
		switch invalidTokenType {
		case 0:
			authHeader = "Bearer " + rapid.StringMatching(`[a-zA-Z0-9]{20,50}`).Draw(t, "randomToken")
		case 1:
			authHeader = rapid.StringMatching(`[a-zA-Z0-9]{20,50}`).Draw(t, "tokenWithoutBearer")
		case 2:
			authHeader = "Bearer "
		case 3:
			authHeader = "Basic " + rapid.StringMatching(`[a-zA-Z0-9]{20,50}`).Draw(t, "basicToken")
		case 4:
			wrongService := auth.NewTokenService(auth.TokenServiceConfig{
				Secret: "wrong-secret-key-that-is-32char!",
				Issuer: "test-issuer",
			})
			subject := rapid.StringMatching(`[a-z0-9-]{4,36}`).Draw(t, "subject")
			token, _ := wrongService.Generate(auth.RuntimeKind, subject)
			authHeader = "Bearer " + token
		}

		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", authHeader)
		rec := httptest.NewRecorder()
		middleware.Authenticate(auth.RuntimeKind)(handler).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d for token type %d", rec.Code, invalidTokenType)
		}
		if *called {
			t.Errorf("handler should not be called for invalid token type %d", invalidTokenType)
		}

		var response ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if response.Error.Code != CodeTokenInvalid && response.Error.Code != CodeTokenMissing {
			t.Errorf("expected error code AUTH_TOKEN_INVALID or AUTH_TOKEN_MISSING, got %s", response.Error.Code)
		}
	})
}

// Property 3: Valid Token Passes Through
// *For any* valid token of the expected kind, the handler runs with the
// token's subject and kind in context.
func TestProperty3_ValidTokenPassesThrough(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		subject := rapid.StringMatching(`[a-z0-9-]{4,36}`).Draw(t, "subject")
		kind := rapid.SampledFrom([]auth.Kind{auth.RuntimeKind, auth.ProducerKind}).Draw(t, "kind")

		tokenService := newTestTokenService()
		middleware := NewAuthMiddleware(tokenService)

		token, err := tokenService.Generate(kind, subject)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}

		var gotClient, gotKind string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotClient, _ = ExtractClientID(r.Context())
			gotKind, _ = appctx.ExtractTokenKind(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		middleware.Authenticate(kind)(handler).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if gotClient != subject {
			t.Errorf("expected client %s in context, got %s", subject, gotClient)
		}
		if gotKind != string(kind) {
			t.Errorf("expected kind %s in context, got %s", kind, gotKind)
		}
	})
}

func TestAuthenticate_WrongKindIsForbidden(t *testing.T) {
	tokenService := newTestTokenService()
	token, err := tokenService.Generate(auth.ProducerKind, "producer-1")
	require.NoError(t, err)

	handler, called := testHandler()
	req := httptest.NewRequest("POST", "/api/v1/events/deep_link/take", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	NewAuthMiddleware(tokenService).Authenticate(auth.RuntimeKind)(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, *called)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, CodeTokenWrongKind, response.Error.Code)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = BearerToken("Bearer    ")
	assert.False(t, ok)

	_, ok = BearerToken("Token abc")
	assert.False(t, ok)
}

func TestRateLimiter_LimitsPerClient(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := rl.Limit(next)

	do := func(client string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/events", nil)
		req = req.WithContext(appctx.WithClient(req.Context(), client, string(auth.ProducerKind)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusAccepted, do("a").Code)
	second := do("a")
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := do("a")
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusAccepted, do("b").Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.Equal(t, 0, rl.Cleanup())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, rl.Cleanup())
	assert.True(t, rl.Allow("a"))
	assert.Equal(t, 0, rl.Remaining("a"))
}

func TestRateLimiter_RefillsEvenlyOverWindow(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.WithinDuration(t, now.Add(30*time.Second), rl.retryAt("a"), time.Millisecond)
	assert.WithinDuration(t, now.Add(time.Minute), rl.Reset("a"), time.Millisecond)

	// Half a window buys back one request, not the whole burst.
	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.Equal(t, 2, rl.Remaining("unseen"))
}
