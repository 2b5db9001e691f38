package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newFakeSearchServer(t *testing.T, status int, body string) (*httptest.Server, *GoogleCustomSearch) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("missing api key, got %q", got)
		}
		if got := r.URL.Query().Get("cx"); got != "test-cx" {
			t.Errorf("missing engine id, got %q", got)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	g := NewGoogleCustomSearch("test-key", "test-cx")
	g.Endpoint = srv.URL
	g.Client = srv.Client()
	return srv, g
}

func TestGoogleCustomSearchFormatsResults(t *testing.T) {
	_, g := newFakeSearchServer(t, http.StatusOK, `{
		"items": [
			{"title": "Go", "link": "https://go.dev", "snippet": "The Go language."},
			{"title": "Docs", "link": "https://go.dev/doc", "snippet": "Documentation."}
		]
	}`)

	out, err := g.Search(context.Background(), "golang")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(out, "1. Go") || !strings.Contains(out, "https://go.dev") {
		t.Errorf("missing first result:\n%s", out)
	}
	if !strings.Contains(out, "2. Docs") {
		t.Errorf("missing second result:\n%s", out)
	}
}

func TestGoogleCustomSearchNoResults(t *testing.T) {
	_, g := newFakeSearchServer(t, http.StatusOK, `{}`)

	out, err := g.Search(context.Background(), "gibberish qzx")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if out != "No results found." {
		t.Errorf("unexpected output %q", out)
	}
}

func TestGoogleCustomSearchAPIError(t *testing.T) {
	_, g := newFakeSearchServer(t, http.StatusForbidden, `{"error": {"message": "quota"}}`)

	if _, err := g.Search(context.Background(), "anything"); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestGoogleCustomSearchUnconfigured(t *testing.T) {
	g := NewGoogleCustomSearch("", "")
	_, err := g.Search(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if !strings.Contains(err.Error(), "not configured") {
		t.Errorf("unexpected error %v", err)
	}
}
