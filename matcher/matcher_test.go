package matcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dataesr/bso3-harvest-datacite-sub000/docstore"
	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/encoding/json"
)

// setupTestServer answers /match with a french result for anything
// mentioning paris and counts requests.
func setupTestServer(t *testing.T, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Path {
		case "/match":
			var req matchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if strings.Contains(req.Query, "paris") {
				io.WriteString(w, `{"results": {"countries": ["fr", "fr"], "ror": ["02en5vm52"], "grid": [], "rnsr": ["199712580C"]}}`)
				return
			}
			io.WriteString(w, `{"results": {"countries": [], "ror": [], "grid": [], "rnsr": []}}`)
		case "/match_list":
			var req matchListRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var parts []string
			for range req.Affiliations {
				parts = append(parts, `{"countries": []}`)
			}
			io.WriteString(w, "["+strings.Join(parts, ",")+"]")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestMatchUsesCache(t *testing.T) {
	var calls int64
	srv := setupTestServer(t, &calls)
	defer srv.Close()
	c := NewClient(srv.URL+"/", srv.Client(), 10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r, err := c.Match(ctx, "country", "sorbonne paris")
		if err != nil {
			t.Fatal(err)
		}
		want := Result{
			Query:     "sorbonne paris",
			Countries: []string{"fr"},
			Ror:       []string{"02en5vm52"},
			Rnsr:      []string{"199712580C"},
		}
		if diff := cmp.Diff(want, r); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
		if !r.HasCountry("FR") {
			t.Fatal("expected fr")
		}
	}
	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
	// different match type is a different key
	if _, err := c.Match(ctx, "ror", "sorbonne paris"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("got %d calls, want 2", calls)
	}
}

func TestMatchErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client(), 10)
	_, err := c.Match(context.Background(), "country", "x")
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("got %v, want ErrStatus", err)
	}
	if _, ok := c.Cache.Get(cacheKey("country", "x")); ok {
		t.Fatal("failed match must not be cached")
	}
}

func TestRetryDoer(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"results": {"countries": ["de"]}}`)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, NewRetryDoer(3, 10*time.Millisecond, 5*time.Second), 10)
	r, err := c.Match(context.Background(), "country", "tu berlin")
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasCountry("de") {
		t.Fatalf("got %v", r)
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestMatchList(t *testing.T) {
	var calls int64
	srv := setupTestServer(t, &calls)
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client(), 10)
	result, err := c.MatchList(context.Background(), []string{"country"}, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != 2 {
		t.Fatalf("got %d results, want 2", len(result))
	}
	if err := c.Prewarm(context.Background(), []string{"country"}, []string{"a", "b", "c"}, 2); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestMatchAll(t *testing.T) {
	var calls int64
	srv := setupTestServer(t, &calls)
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client(), 100)
	queries := []string{"cnrs paris", "", "tu berlin", "cnrs paris", "inria paris"}
	results, err := c.MatchAll(context.Background(), "country", queries, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
	if !results["inria paris"].HasCountry("fr") || results["tu berlin"].HasCountry("fr") {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestMatchStore(t *testing.T) {
	var calls int64
	srv := setupTestServer(t, &calls)
	defer srv.Close()
	var (
		ctx   = context.Background()
		store = docstore.NewMemory(StoreSchema)
		c     = NewClient(srv.URL, srv.Client(), 10)
	)
	c.Store = store
	if _, err := c.Match(ctx, "country", "cnrs paris"); err != nil {
		t.Fatal(err)
	}
	// a fresh client with an empty cache finds the result in the store
	d := NewClient(srv.URL, srv.Client(), 10)
	d.Store = store
	r, err := d.Match(ctx, "country", "cnrs paris")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
	if !r.HasCountry("fr") || r.Query != "cnrs paris" {
		t.Fatalf("got %v", r)
	}
}
