package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/ticketeer/internal/auth"
	"github.com/dukerupert/ticketeer/internal/database"
	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
	"github.com/dukerupert/ticketeer/internal/store"
)

type authFixture struct {
	tokens *auth.TokenService
	users  *store.UserStore
	logger *slog.Logger
}

func setupAuthMiddleware(t *testing.T) *authFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret", time.Hour, store.NewRevokedTokenStore(db))
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	return &authFixture{
		tokens: tokens,
		users:  store.NewUserStore(db),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *authFixture) user(t *testing.T, email string, role model.Role) (*model.User, string) {
	t.Helper()
	u, err := f.users.Create(context.Background(), "Test", email, "hash", role)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, _, err := f.tokens.Issue(u)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return u, token
}

func (f *authFixture) serve(t *testing.T, token string, roles ...model.Role) (*httptest.ResponseRecorder, *auth.Identity) {
	t.Helper()
	var got *auth.Identity
	h := Authorize(f.tokens, f.users, f.logger, roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected Identity in request context")
		}
		got = &id
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errutil.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Code
}

func TestAuthorizeNoToken(t *testing.T) {
	f := setupAuthMiddleware(t)

	rec, _ := f.serve(t, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if code := errorCode(t, rec); code != "unauthorized" {
		t.Errorf("code = %q, want %q", code, "unauthorized")
	}
}

func TestAuthorizeInvalidToken(t *testing.T) {
	f := setupAuthMiddleware(t)

	rec, _ := f.serve(t, "garbage")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if code := errorCode(t, rec); code != "unauthorized" {
		t.Errorf("code = %q, want %q", code, "unauthorized")
	}
}

func TestAuthorizeValidToken(t *testing.T) {
	f := setupAuthMiddleware(t)
	u, token := f.user(t, "org@example.com", model.RoleOrganizer)

	rec, id := f.serve(t, token, model.RoleAdmin, model.RoleOrganizer)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if id.UserID != u.ID {
		t.Errorf("UserID = %d, want %d", id.UserID, u.ID)
	}
	if id.Role != model.RoleOrganizer {
		t.Errorf("Role = %q, want %q", id.Role, model.RoleOrganizer)
	}
	if id.Email != "org@example.com" {
		t.Errorf("Email = %q, want %q", id.Email, "org@example.com")
	}
	if id.TokenID == "" {
		t.Error("expected token id on identity")
	}
}

func TestAuthorizeBearerFallback(t *testing.T) {
	f := setupAuthMiddleware(t)
	_, token := f.user(t, "a@example.com", model.RoleAttendee)

	h := Authorize(f.tokens, f.users, f.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthorizeWrongRole(t *testing.T) {
	f := setupAuthMiddleware(t)
	_, token := f.user(t, "a@example.com", model.RoleAttendee)

	rec, _ := f.serve(t, token, model.RoleAdmin, model.RoleOrganizer)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if code := errorCode(t, rec); code != "forbidden" {
		t.Errorf("code = %q, want %q", code, "forbidden")
	}
}

func TestAuthorizeEmptyRoleSet(t *testing.T) {
	f := setupAuthMiddleware(t)
	_, token := f.user(t, "a@example.com", model.RoleAttendee)

	rec, _ := f.serve(t, token)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthorizeDeletedUser(t *testing.T) {
	f := setupAuthMiddleware(t)
	u, token := f.user(t, "gone@example.com", model.RoleAdmin)
	if err := f.users.Delete(context.Background(), u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	rec, _ := f.serve(t, token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if code := errorCode(t, rec); code != "user_not_found" {
		t.Errorf("code = %q, want %q", code, "user_not_found")
	}
}

func TestAuthorizeRevokedToken(t *testing.T) {
	f := setupAuthMiddleware(t)
	_, token := f.user(t, "a@example.com", model.RoleAttendee)

	claims, err := f.tokens.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.tokens.Revoke(context.Background(), claims.ID, claims.ExpiresAt.Time); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	rec, _ := f.serve(t, token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthorizeTokenBeforePasswordChange(t *testing.T) {
	f := setupAuthMiddleware(t)
	u, token := f.user(t, "a@example.com", model.RoleAttendee)

	if _, err := f.users.UpdatePassword(context.Background(), u.ID, "new-hash", time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("update password: %v", err)
	}

	rec, _ := f.serve(t, token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   string
	}{
		{"none", "", "", ""},
		{"cookie", "c-token", "", "c-token"},
		{"bearer", "", "Bearer h-token", "h-token"},
		{"cookie wins", "c-token", "Bearer h-token", "c-token"},
		{"lowercase scheme", "", "bearer h-token", "h-token"},
		{"basic ignored", "", "Basic abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(req); got != tt.want {
				t.Errorf("TokenFromRequest = %q, want %q", got, tt.want)
			}
		})
	}
}
