package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/teleops-rca/internal/cache"
)

// WeaviateRetriever runs nearText queries against a Weaviate class holding runbook chunks.
// Results are cached per (class, query, k) when a TTL is configured.
type WeaviateRetriever struct {
	endpoint   string
	apiKey     string
	class      string
	httpClient *http.Client
	cache      cache.Provider
	ttl        time.Duration
}

// NewWeaviateRetriever constructs a retriever for class at endpoint.
func NewWeaviateRetriever(endpoint, apiKey, class string, timeout time.Duration, cacheProvider cache.Provider, ttl time.Duration) (*WeaviateRetriever, error) {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		return nil, errors.New("weaviate endpoint is required")
	}
	if class == "" {
		class = "RunbookChunk"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if ttl < 0 {
		ttl = 0
	}
	return &WeaviateRetriever{
		endpoint:   endpoint,
		apiKey:     apiKey,
		class:      class,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		ttl:        ttl,
	}, nil
}

type nearTextResponse struct {
	Data struct {
		Get map[string][]struct {
			DocID      string `json:"docId"`
			Title      string `json:"title"`
			Text       string `json:"text"`
			Source     string `json:"source"`
			Additional struct {
				ID       string  `json:"id"`
				Distance float64 `json:"distance"`
			} `json:"_additional"`
		} `json:"Get"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// TopK implements Retriever.
func (r *WeaviateRetriever) TopK(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	cacheKey := ""
	if r.ttl > 0 {
		cacheKey = cache.Key("weaviate:neartext", r.class, query, strconv.Itoa(k))
		var cached []Hit
		if err := cache.GetJSON(ctx, r.cache, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	concept, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	gql := fmt.Sprintf(`{
  Get {
    %s(
      nearText: {concepts: [%s]}
      limit: %d
    ) {
      docId
      title
      text
      source
      _additional { id distance }
    }
  }
}`, r.class, concept, k)

	payload, err := json.Marshal(map[string]string{"query": gql})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weaviate nearText: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("weaviate nearText failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var decoded nearTextResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode weaviate response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("weaviate nearText: %s", decoded.Errors[0].Message)
	}

	rows := decoded.Data.Get[r.class]
	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		id := row.DocID
		if id == "" {
			id = row.Additional.ID
		}
		source := row.Source
		if source == "" {
			source = "weaviate"
		}
		hits = append(hits, Hit{
			Document: Document{ID: id, Title: row.Title, Text: row.Text, Source: source},
			Score:    1 - row.Additional.Distance,
		})
	}

	if cacheKey != "" && len(hits) > 0 {
		_ = cache.SetJSON(ctx, r.cache, cacheKey, hits, r.ttl)
	}
	return hits, nil
}
