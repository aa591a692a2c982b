package gifs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/tokenrooms/backend/internal/logging"
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

const giphyBody = `{
	"data": [
		{
			"id": "g1",
			"title": "Happy Cat",
			"images": {
				"original": {"url": "https://media.giphy.com/g1/giphy.gif"},
				"fixed_height": {"url": "https://media.giphy.com/g1/200.gif", "width": "356", "height": "200"}
			}
		},
		{
			"id": "g2",
			"title": "Sad Cat",
			"images": {
				"original": {"url": "https://media.giphy.com/g2/giphy.gif"},
				"fixed_height": {"url": "https://media.giphy.com/g2/200.gif", "width": "180", "height": "200"}
			}
		}
	]
}`

func testClient(t *testing.T, rt roundTripperFunc) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:     "giphy-key",
		HTTPClient: &http.Client{Transport: rt},
	}, logging.New("test", "error"))
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func TestSearchParsesResults(t *testing.T) {
	var gotReq *http.Request
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		gotReq = r
		return jsonResponse(r, http.StatusOK, giphyBody), nil
	})

	gifs, err := c.Search(context.Background(), "cat", 0)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(gifs) != 2 {
		t.Fatalf("len = %d, want 2", len(gifs))
	}
	if gifs[0].ID != "g1" || gifs[0].Title != "Happy Cat" {
		t.Fatalf("gifs[0] = %+v", gifs[0])
	}
	if gifs[0].URL != "https://media.giphy.com/g1/giphy.gif" {
		t.Fatalf("url = %s", gifs[0].URL)
	}
	if gifs[0].Preview != "https://media.giphy.com/g1/200.gif" || gifs[0].Width != 356 || gifs[0].Height != 200 {
		t.Fatalf("preview = %+v", gifs[0])
	}

	if !strings.HasSuffix(gotReq.URL.Path, "/search") {
		t.Fatalf("path = %s", gotReq.URL.Path)
	}
	q := gotReq.URL.Query()
	if q.Get("q") != "cat" || q.Get("api_key") != "giphy-key" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("limit") != "8" {
		t.Fatalf("limit = %s, want default 8", q.Get("limit"))
	}
	if q.Get("rating") != "pg-13" {
		t.Fatalf("rating = %s", q.Get("rating"))
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	if _, err := c.Search(context.Background(), "", 8); err == nil {
		t.Fatal("expected empty query to be rejected")
	}
}

func TestTrendingClampsLimit(t *testing.T) {
	var gotLimit string
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		gotLimit = r.URL.Query().Get("limit")
		return jsonResponse(r, http.StatusOK, `{"data":[]}`), nil
	})

	if _, err := c.Trending(context.Background(), 500); err != nil {
		t.Fatalf("Trending error: %v", err)
	}
	if gotLimit != "8" {
		t.Fatalf("limit = %s, want reset to 8", gotLimit)
	}
}

func TestFetchErrorsOnBadStatus(t *testing.T) {
	c := testClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusForbidden, `{"message":"invalid key"}`), nil
	})
	if _, err := c.Trending(context.Background(), 8); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}, logging.New("test", "error")); err == nil {
		t.Fatal("expected missing key to be rejected")
	}
}
