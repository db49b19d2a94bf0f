package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	str, _ := value.(string)
	f.data[key] = str
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
		delete(f.ttls, key)
	}
	return nil
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestRuleSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		ok     bool
	}{
		{"borrow", http.MethodPost, "/api/v1/loans", true},
		{"borrow trailing slash", http.MethodPost, "/api/v1/loans/", true},
		{"return", http.MethodPatch, "/api/v1/loans/6b1f2c1e-0d7e-4c55-9a57-0f5f3a1d2b44", true},
		{"register", http.MethodPost, "/api/v1/auth/register", true},
		{"list loans", http.MethodGet, "/api/v1/loans", false},
		{"login", http.MethodPost, "/api/v1/auth/login", false},
		{"loans collection patch", http.MethodPatch, "/api/v1/loans/", false},
	}

	for _, tt := range tests {
		rule, ok := ruleFor(tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && rule.ttl != defaultIdempotencyTTL {
			t.Fatalf("%s: expected ttl %s got %s", tt.name, defaultIdempotencyTTL, rule.ttl)
		}
	}
}

func TestIdempotencyKeyOptional(t *testing.T) {
	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/v1/loans", `{"book_id":"6b1f2c1e-0d7e-4c55-9a57-0f5f3a1d2b44"}`},
		{http.MethodPatch, "/api/v1/loans/6b1f2c1e-0d7e-4c55-9a57-0f5f3a1d2b44", `{}`},
		{http.MethodPost, "/api/v1/auth/register", `{"email":"a@b.co"}`},
	}

	for _, route := range routes {
		store := newFakeStore()
		calls := 0
		handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusCreated)
		}))

		for i := 0; i < 2; i++ {
			req := requestWithPattern(route.method, route.path, route.path, strings.NewReader(route.body))
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != http.StatusCreated {
				t.Fatalf("%s %s: expected 201 got %d", route.method, route.path, resp.Code)
			}
		}
		if calls != 2 {
			t.Fatalf("%s %s: expected both requests served, got %d", route.method, route.path, calls)
		}
		if len(store.data) != 0 {
			t.Fatalf("%s %s: store should not be touched without a key", route.method, route.path)
		}
	}
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"loan-1"}}`))
	}))

	req1 := requestWithPattern(http.MethodPost, "/api/v1/loans", "/api/v1/loans", strings.NewReader(`{"book_id":"b1"}`))
	req1.Header.Set(idempotencyHeader, "abc123")
	resp1 := httptest.NewRecorder()
	handler.ServeHTTP(resp1, req1)

	if resp1.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp1.Code)
	}
	for _, ttl := range store.ttls {
		if ttl != defaultIdempotencyTTL {
			t.Fatalf("expected record ttl %v got %v", defaultIdempotencyTTL, ttl)
		}
	}

	req2 := requestWithPattern(http.MethodPost, "/api/v1/loans", "/api/v1/loans", strings.NewReader(`{"book_id":"b1"}`))
	req2.Header.Set(idempotencyHeader, "abc123")
	resp2 := httptest.NewRecorder()
	handler.ServeHTTP(resp2, req2)

	if resp2.Code != http.StatusCreated {
		t.Fatalf("expected replay 201 got %d", resp2.Code)
	}
	if resp2.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay header")
	}
	if resp2.Body.String() != resp1.Body.String() {
		t.Fatalf("expected same body, got %q", resp2.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
}

func TestIdempotencyRejectsBodyChange(t *testing.T) {
	store := newFakeStore()
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req1 := requestWithPattern(http.MethodPost, "/api/v1/loans", "/api/v1/loans", strings.NewReader(`{"book_id":"b1"}`))
	req1.Header.Set(idempotencyHeader, "same-key")
	handler.ServeHTTP(httptest.NewRecorder(), req1)

	req2 := requestWithPattern(http.MethodPost, "/api/v1/loans", "/api/v1/loans", strings.NewReader(`{"book_id":"b2"}`))
	req2.Header.Set(idempotencyHeader, "same-key")
	resp2 := httptest.NewRecorder()
	handler.ServeHTTP(resp2, req2)

	if resp2.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp2.Code)
	}
	assertErrorCode(t, resp2, pkgerrors.CodeIdempotency)
}

func TestIdempotencyInFlightConflict(t *testing.T) {
	store := newFakeStore()
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run while a sibling holds the key")
	}))

	req := requestWithPattern(http.MethodPost, "/api/v1/loans", "/api/v1/loans", strings.NewReader(`{"book_id":"b1"}`))
	req.Header.Set(idempotencyHeader, "busy")
	key := store.IdempotencyKey(buildScope(req), "busy")
	store.data[key] = inFlightMarker

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	assertErrorCode(t, resp, pkgerrors.CodeIdempotency)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPatch, "/api/v1/loans/123", "/api/v1/loans/{loanId}", strings.NewReader(""))
		req.Header.Set(idempotencyHeader, "retry-me")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls != 2 {
		t.Fatalf("expected retry after 5xx to reach handler, got %d calls", calls)
	}
	if len(store.data) != 1 {
		t.Fatalf("expected the successful response to be stored, got %d entries", len(store.data))
	}
}

func TestIdempotencyScopesKeysPerUser(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, user := range []string{"user-a", "user-b"} {
		req := requestWithPattern(http.MethodPost, "/api/v1/loans", "/api/v1/loans", strings.NewReader(`{"book_id":"b1"}`))
		req = req.WithContext(WithUserID(req.Context(), user))
		req.Header.Set(idempotencyHeader, "shared")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls != 2 {
		t.Fatalf("expected each user to get their own key, got %d calls", calls)
	}
}

func assertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, want pkgerrors.Code) {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Error.Code != string(want) {
		t.Fatalf("expected code %s got %s", want, payload.Error.Code)
	}
}
