package corpus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/miradorstack/teleops-rca/internal/cache"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("BGP session flap on the edge-router-3: packet_loss, a 5xx")
	want := []string{"bgp", "session", "flap", "edge", "router", "packet_loss", "5xx"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected tokens (-want +got):\n%s", diff)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	if got := Truncate("héllo", 2); got != "h" {
		t.Fatalf("expected cut before multi-byte rune, got %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestIndexRanksByRelevance(t *testing.T) {
	idx := NewIndex([]Document{
		{ID: "bgp.md", Title: "BGP flaps", Text: "bgp session flap on edge routers, check bgp timers"},
		{ID: "dns.md", Title: "DNS outage", Text: "dns resolution failures and servfail"},
		{ID: "fiber.md", Title: "Fiber cut", Text: "optical los and bgp reconvergence after a fiber cut"},
	})

	hits, err := idx.TopK(context.Background(), "bgp session flap", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 || hits[0].Document.ID != "bgp.md" || hits[1].Document.ID != "fiber.md" {
		t.Fatalf("unexpected ranking: %+v", hits)
	}

	none, _ := idx.TopK(context.Background(), "kubernetes", 4)
	if len(none) != 0 {
		t.Fatalf("expected no hits for unrelated query, got %d", len(none))
	}
}

func TestIndexRebuildUnderConcurrentQueries(t *testing.T) {
	idx := NewIndex([]Document{{ID: "a", Text: "dns servfail"}})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hits, err := idx.TopK(ctx, "dns", 1)
				if err != nil || len(hits) != 1 {
					t.Errorf("query during rebuild: %v %d", err, len(hits))
					return
				}
			}
		}()
	}
	for j := 0; j < 20; j++ {
		idx.Rebuild([]Document{{ID: "b", Text: "dns resolver timeout"}})
	}
	wg.Wait()

	hits, _ := idx.TopK(ctx, "dns", 1)
	if hits[0].Document.ID != "b" {
		t.Fatalf("expected rebuilt document, got %s", hits[0].Document.ID)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"runbooks/bgp.md":   "# BGP flap runbook\n\nCheck hold timers.",
		"notes/dns.txt":     "resolver timeouts",
		"ignored/image.png": "binary",
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	idx, err := LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 documents, got %d", idx.Len())
	}
	hits, _ := idx.TopK(context.Background(), "hold timers", 1)
	if len(hits) != 1 || hits[0].Document.ID != "runbooks/bgp.md" || hits[0].Document.Title != "BGP flap runbook" {
		t.Fatalf("unexpected hit: %+v", hits)
	}

	empty, err := LoadDir(context.Background(), filepath.Join(dir, "missing"))
	if err != nil || empty.Len() != 0 {
		t.Fatalf("missing dir should yield an empty index: %v", err)
	}
}

const nearTextBody = `{"data":{"Get":{"RunbookChunk":[
  {"docId":"rb-1","title":"BGP","text":"bgp flap","source":"runbooks","_additional":{"id":"u1","distance":0.2}},
  {"docId":"","title":"DNS","text":"dns","source":"","_additional":{"id":"u2","distance":0.4}}
]}}}`

func TestWeaviateRetrieverCachesResults(t *testing.T) {
	var hits int
	r, err := NewWeaviateRetriever("https://weaviate.test/", "key", "", time.Second, cache.NewMemoryProvider(), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/v1/graphql" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if req.Header.Get("Authorization") != "Bearer key" {
			t.Fatalf("missing api key header")
		}
		body, _ := io.ReadAll(req.Body)
		if !strings.Contains(string(body), "nearText") || !strings.Contains(string(body), "RunbookChunk") {
			t.Fatalf("unexpected query: %s", body)
		}
		return jsonResponse(http.StatusOK, nearTextBody), nil
	})}

	ctx := context.Background()
	first, err := r.TopK(ctx, "bgp \"session\" flap", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 2 || first[0].Document.ID != "rb-1" || first[1].Document.ID != "u2" || first[1].Document.Source != "weaviate" {
		t.Fatalf("unexpected hits: %+v", first)
	}
	if first[0].Score < 0.79 || first[0].Score > 0.81 {
		t.Fatalf("expected score 1-distance, got %f", first[0].Score)
	}

	second, err := r.TopK(ctx, "bgp \"session\" flap", 2)
	if err != nil {
		t.Fatalf("unexpected error on cached call: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected cached second call, got %d upstream hits", hits)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("cached result differs (-first +second):\n%s", diff)
	}
}

func TestWeaviateRetrieverSurfacesErrors(t *testing.T) {
	r, _ := NewWeaviateRetriever("https://weaviate.test", "", "RunbookChunk", time.Second, nil, 0)
	r.httpClient = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"errors":[{"message":"class not found"}]}`), nil
	})}
	if _, err := r.TopK(context.Background(), "bgp", 2); err == nil || !strings.Contains(err.Error(), "class not found") {
		t.Fatalf("expected graphql error, got %v", err)
	}

	r.httpClient = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, "down"), nil
	})}
	if _, err := r.TopK(context.Background(), "bgp", 2); err == nil {
		t.Fatalf("expected status error")
	}
}

type failingRetriever struct{ err error }

func (f failingRetriever) TopK(context.Context, string, int) ([]Hit, error) { return nil, f.err }

func TestFallbackUsesSecondary(t *testing.T) {
	local := NewIndex([]Document{{ID: "dns.md", Text: "dns servfail"}})
	f := Fallback{Primary: failingRetriever{err: errors.New("weaviate down")}, Secondary: local}
	hits, err := f.TopK(context.Background(), "dns", 3)
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected local fallback hits, got %v %v", hits, err)
	}

	both := Fallback{Primary: failingRetriever{err: errors.New("a")}, Secondary: failingRetriever{err: errors.New("b")}}
	if _, err := both.TopK(context.Background(), "dns", 3); err == nil {
		t.Fatalf("expected error when both retrievers fail")
	}
}
