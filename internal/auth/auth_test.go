package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/normanking/troupe/internal/store"
)

func testService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	// MinCost keeps the bcrypt rounds cheap under test.
	return NewService(NewStore(st.DB()), &Config{BcryptCost: bcrypt.MinCost})
}

func TestIssueAndVerify(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	plaintext, issued, err := svc.Issue(ctx, "ci")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		t.Errorf("plaintext %q missing prefix", plaintext)
	}
	if issued.KeyHash == "" || strings.Contains(plaintext, issued.KeyHash) {
		t.Errorf("plaintext must carry the secret, not the hash")
	}

	key, err := svc.Verify(ctx, plaintext)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if key.ID != issued.ID || key.Name != "ci" {
		t.Errorf("verified key = %+v", key)
	}

	// Verification touches last_used_at.
	stored, err := svc.store.GetKey(ctx, issued.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if stored.LastUsedAt == nil {
		t.Error("LastUsedAt not set after verify")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	plaintext, issued, err := svc.Issue(ctx, "ci")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	forged := KeyPrefix + issued.ID + "." + "bm90LXRoZS1zZWNyZXQ"
	if _, err := svc.Verify(ctx, forged); err != ErrInvalidKey {
		t.Errorf("forged secret err = %v, want ErrInvalidKey", err)
	}

	// The untampered key still works.
	if _, err := svc.Verify(ctx, plaintext); err != nil {
		t.Errorf("original key rejected: %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	cases := []struct {
		presented string
		want      error
	}{
		{"", ErrMissingKey},
		{"sk-something-else", ErrInvalidKey},
		{"trp_", ErrInvalidKey},
		{"trp_no-dot-here", ErrInvalidKey},
		{"trp_.secret-without-id", ErrInvalidKey},
		{KeyPrefix + "unknown-id.secret", ErrInvalidKey},
	}
	for _, tc := range cases {
		if _, err := svc.Verify(ctx, tc.presented); err != tc.want {
			t.Errorf("Verify(%q) err = %v, want %v", tc.presented, err, tc.want)
		}
	}
}

func TestRevoke(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	plaintext, issued, err := svc.Issue(ctx, "staging")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Revocation works by name as well as by ID.
	revoked, err := svc.Revoke(ctx, "staging")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.ID != issued.ID || !revoked.Revoked {
		t.Errorf("revoked key = %+v", revoked)
	}

	if _, err := svc.Verify(ctx, plaintext); err != ErrKeyRevoked {
		t.Errorf("revoked key err = %v, want ErrKeyRevoked", err)
	}

	if _, err := svc.Revoke(ctx, "no-such-key"); err != ErrKeyNotFound {
		t.Errorf("unknown key err = %v, want ErrKeyNotFound", err)
	}
}

func TestIssueDuplicateName(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	if _, _, err := svc.Issue(ctx, "ci"); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, _, err := svc.Issue(ctx, "ci"); err != ErrKeyExists {
		t.Errorf("duplicate name err = %v, want ErrKeyExists", err)
	}
	if _, _, err := svc.Issue(ctx, "  "); err == nil {
		t.Error("blank name accepted")
	}
}

func TestKeysList(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := svc.Issue(ctx, name); err != nil {
			t.Fatalf("Issue %s: %v", name, err)
		}
	}

	keys, err := svc.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("len(keys) = %d, want 3", len(keys))
	}
	for _, k := range keys {
		if k.KeyHash == "" {
			t.Errorf("key %s missing hash", k.Name)
		}
	}
}

func TestMiddlewareRequireKey(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	plaintext, _, err := svc.Issue(ctx, "gateway")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var seen *Key
	handler := NewMiddleware(svc, true).RequireKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = KeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name       string
		setup      func(*http.Request)
		wantStatus int
	}{
		{"no key", func(r *http.Request) {}, http.StatusUnauthorized},
		{"header", func(r *http.Request) { r.Header.Set("X-API-Key", plaintext) }, http.StatusOK},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+plaintext) }, http.StatusOK},
		{"bad key", func(r *http.Request) { r.Header.Set("X-API-Key", "trp_bogus.bogus") }, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantStatus == http.StatusOK && (seen == nil || seen.Name != "gateway") {
				t.Errorf("context key = %+v", seen)
			}
		})
	}

	// Upgrade-style requests can pass the key as a query parameter.
	req := httptest.NewRequest(http.MethodGet, "/v1/ws?api_key="+plaintext, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("query param status = %d", rec.Code)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	svc := testService(t)

	handler := NewMiddleware(svc, false).RequireKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestRevokedStatusCode(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	plaintext, issued, err := svc.Issue(ctx, "old")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Revoke(ctx, issued.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	handler := NewMiddleware(svc, true).RequireKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("X-API-Key", plaintext)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("revoked status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "KEY_REVOKED") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
