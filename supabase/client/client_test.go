package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func testClient(t *testing.T, rt roundTripperFunc) *Client {
	t.Helper()
	c, err := New(Config{
		URL:        "https://example.supabase.co",
		APIKey:     "service-key",
		HTTPClient: &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c
}

func TestExecuteBuildsQuery(t *testing.T) {
	var got *http.Request
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		got = r
		return jsonResponse(r, http.StatusOK, "[]"), nil
	})

	_, err := c.From("rooms").
		Select("name,owner_address").
		Eq("name", "lobby").
		Order("created_at", false).
		Limit(5).
		Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if got.Method != http.MethodGet {
		t.Fatalf("method = %s, want GET", got.Method)
	}
	if got.URL.Path != "/rest/v1/rooms" {
		t.Fatalf("path = %s", got.URL.Path)
	}
	q := got.URL.Query()
	if q.Get("select") != "name,owner_address" {
		t.Fatalf("select = %q", q.Get("select"))
	}
	if q.Get("name") != "eq.lobby" {
		t.Fatalf("name filter = %q", q.Get("name"))
	}
	if q.Get("order") != "created_at.desc" {
		t.Fatalf("order = %q", q.Get("order"))
	}
	if q.Get("limit") != "5" {
		t.Fatalf("limit = %q", q.Get("limit"))
	}
	if got.Header.Get("apikey") != "service-key" {
		t.Fatal("missing apikey header")
	}
	if got.Header.Get("Authorization") != "Bearer service-key" {
		t.Fatal("missing bearer header")
	}
}

func TestExecuteSingleSetsAcceptHeader(t *testing.T) {
	var got *http.Request
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		got = r
		return jsonResponse(r, http.StatusOK, "{}"), nil
	})

	if _, err := c.From("rooms").Eq("name", "lobby").Single().Execute(context.Background()); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got.Header.Get("Accept") != "application/vnd.pgrst.object+json" {
		t.Fatalf("Accept = %q", got.Header.Get("Accept"))
	}
}

func TestExecuteInsertPrefersRepresentation(t *testing.T) {
	var got *http.Request
	var body string
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		got = r
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		return jsonResponse(r, http.StatusCreated, "[]"), nil
	})

	_, err := c.From("rooms").ExecuteInsert(context.Background(), map[string]string{"name": "lobby"})
	if err != nil {
		t.Fatalf("ExecuteInsert error: %v", err)
	}
	if got.Method != http.MethodPost {
		t.Fatalf("method = %s, want POST", got.Method)
	}
	if got.Header.Get("Prefer") != "return=representation" {
		t.Fatalf("Prefer = %q", got.Header.Get("Prefer"))
	}
	if !strings.Contains(body, `"name":"lobby"`) {
		t.Fatalf("body = %s", body)
	}
}

func TestExecuteUpdateCarriesFilters(t *testing.T) {
	var got *http.Request
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		got = r
		return jsonResponse(r, http.StatusOK, "[]"), nil
	})

	_, err := c.From("rooms").Eq("name", "lobby").ExecuteUpdate(context.Background(), map[string]any{"required_tokens": 2})
	if err != nil {
		t.Fatalf("ExecuteUpdate error: %v", err)
	}
	if got.Method != http.MethodPatch {
		t.Fatalf("method = %s, want PATCH", got.Method)
	}
	if got.URL.Query().Get("name") != "eq.lobby" {
		t.Fatalf("filter = %q", got.URL.Query().Get("name"))
	}
}

func TestResponseErrMapsPostgrestCodes(t *testing.T) {
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusConflict,
			`{"code":"23505","message":"duplicate key value violates unique constraint"}`), nil
	})

	resp, err := c.From("rooms").ExecuteInsert(context.Background(), map[string]string{"name": "lobby"})
	if err != nil {
		t.Fatalf("ExecuteInsert error: %v", err)
	}
	if !IsUniqueViolation(resp.Err()) {
		t.Fatalf("expected unique violation, got %v", resp.Err())
	}
}

func TestResponseErrNoRows(t *testing.T) {
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusNotAcceptable,
			`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`), nil
	})

	resp, err := c.From("rooms").Eq("name", "ghost").Single().Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !IsNoRows(resp.Err()) {
		t.Fatalf("expected no-rows error, got %v", resp.Err())
	}
}

func TestResponseErrNilOnSuccess(t *testing.T) {
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusOK, "[]"), nil
	})

	resp, err := c.From("rooms").Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if resp.Err() != nil {
		t.Fatalf("Err = %v, want nil", resp.Err())
	}
}

func TestStoragePublicURL(t *testing.T) {
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusOK, "{}"), nil
	})

	url := c.Storage().From("avatars").GetPublicURL("room-avatars/lobby-1")
	want := "https://example.supabase.co/storage/v1/object/public/avatars/room-avatars/lobby-1"
	if url != want {
		t.Fatalf("public URL = %q, want %q", url, want)
	}
}

func TestStorageUploadSetsUpsert(t *testing.T) {
	var got *http.Request
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		got = r
		return jsonResponse(r, http.StatusOK, "{}"), nil
	})

	_, err := c.Storage().From("avatars").Upload(context.Background(), "room-avatars/lobby-1", []byte("png"), "image/png")
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if got.Header.Get("x-upsert") != "true" {
		t.Fatalf("x-upsert = %q", got.Header.Get("x-upsert"))
	}
	if got.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("content type = %q", got.Header.Get("Content-Type"))
	}
}
