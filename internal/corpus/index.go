package corpus

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const loadConcurrency = 8

type indexedDoc struct {
	doc   Document
	terms map[string]int
}

// Index is an in-process keyword index. Queries share a read lock; Rebuild swaps the
// whole document set under the write lock.
type Index struct {
	mu   sync.RWMutex
	docs []indexedDoc
	df   map[string]int
}

// NewIndex builds an index over docs.
func NewIndex(docs []Document) *Index {
	idx := &Index{}
	idx.Rebuild(docs)
	return idx
}

// LoadDir reads every .md and .txt file under dir concurrently and indexes them. A
// missing directory yields an empty index.
func LoadDir(ctx context.Context, dir string) (*Index, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return NewIndex(nil), nil
		}
		return nil, fmt.Errorf("walk corpus %s: %w", dir, err)
	}
	sort.Strings(paths)

	docs := make([]Document, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				rel = filepath.Base(path)
			}
			text := string(data)
			docs[i] = Document{
				ID:     filepath.ToSlash(rel),
				Title:  titleOf(text, filepath.Base(path)),
				Text:   text,
				Source: "local",
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewIndex(docs), nil
}

// Rebuild replaces the indexed documents. Concurrent queries see either the old or the
// new set.
func (idx *Index) Rebuild(docs []Document) {
	indexed := make([]indexedDoc, 0, len(docs))
	df := make(map[string]int)
	for _, d := range docs {
		terms := make(map[string]int)
		for _, term := range Tokenize(d.Title + " " + d.Text) {
			terms[term]++
		}
		for term := range terms {
			df[term]++
		}
		indexed = append(indexed, indexedDoc{doc: d, terms: terms})
	}

	idx.mu.Lock()
	idx.docs = indexed
	idx.df = df
	idx.mu.Unlock()
}

// Len reports the number of indexed documents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// TopK scores documents by tf-idf over the query terms. Documents sharing no term with
// the query are never returned; ties fall back to document id.
func (idx *Index) TopK(ctx context.Context, query string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	terms := Tokenize(query)

	idx.mu.RLock()
	n := float64(len(idx.docs))
	hits := make([]Hit, 0, k)
	for _, d := range idx.docs {
		score := 0.0
		for _, term := range terms {
			tf := d.terms[term]
			if tf == 0 {
				continue
			}
			score += (1 + math.Log(float64(tf))) * math.Log(1+n/float64(idx.df[term]))
		}
		if score > 0 {
			hits = append(hits, Hit{Document: d.doc, Score: score})
		}
	}
	idx.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func titleOf(text, fallback string) string {
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		break
	}
	return strings.TrimSuffix(fallback, filepath.Ext(fallback))
}
