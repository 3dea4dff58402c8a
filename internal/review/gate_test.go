package review

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/store"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

var reviewTime = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) (*Gate, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.CreateIncidents(ctx, []models.Incident{{ID: "inc-1", Status: models.IncidentOpen, AlertIDs: []string{"a1"}}}); err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	for _, id := range []string{"art-1", "art-2"} {
		if err := st.CreateArtifact(ctx, models.Artifact{
			ID: id, IncidentID: "inc-1", Kind: models.ReasonerBaseline, Reasoner: models.BaselineReasonerID,
			Hypotheses: []string{"h"}, Confidence: map[string]float64{"h": 0.5}, Status: models.StatusPendingReview,
		}); err != nil {
			t.Fatalf("seed artifact: %v", err)
		}
	}
	var seq atomic.Int64
	g := NewGate(st, nil,
		WithClock(func() time.Time { return reviewTime }),
		WithIDGenerator(func() string { return fmt.Sprintf("audit-%d", seq.Add(1)) }))
	return g, st
}

func TestReviewAcceptThenRejectConflicts(t *testing.T) {
	g, st := newFixture(t)
	ctx := context.Background()

	entry, err := g.Review(ctx, Request{ArtifactID: "art-1", Decision: "accepted", ReviewerID: "noc-alice", Note: "matches fiber ticket"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.IncidentID != "inc-1" || !entry.Timestamp.Equal(reviewTime) || entry.Note != "matches fiber ticket" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}

	_, err = g.Review(ctx, Request{ArtifactID: "art-1", Decision: "rejected", ReviewerID: "noc-bob"})
	if utils.KindOf(err) != utils.KindConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if !strings.Contains(err.Error(), "ALREADY_REVIEWED") || !strings.Contains(err.Error(), "noc-alice") {
		t.Fatalf("conflict message should name the prior review: %v", err)
	}

	art, _ := st.GetArtifact(ctx, "art-1")
	if art.Status != models.StatusAccepted {
		t.Fatalf("status changed by the losing review: %s", art.Status)
	}
	entries, err := g.QueryAudit(ctx, Query{ArtifactID: "art-1"})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(entries) != 1 || entries[0].ReviewerID != "noc-alice" {
		t.Fatalf("expected a single audit entry, got %+v", entries)
	}
}

func TestReviewValidation(t *testing.T) {
	g, _ := newFixture(t)
	ctx := context.Background()
	cases := map[string]Request{
		"missing artifact": {Decision: "accepted", ReviewerID: "r"},
		"bad decision":     {ArtifactID: "art-1", Decision: "maybe", ReviewerID: "r"},
		"pending decision": {ArtifactID: "art-1", Decision: "pending_review", ReviewerID: "r"},
		"blank reviewer":   {ArtifactID: "art-1", Decision: "accepted", ReviewerID: "  "},
		"huge note":        {ArtifactID: "art-1", Decision: "accepted", ReviewerID: "r", Note: strings.Repeat("n", maxNoteLength+1)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := g.Review(ctx, req); utils.KindOf(err) != utils.KindValidation {
				t.Fatalf("expected VALIDATION, got %v", err)
			}
		})
	}

	if _, err := g.Review(ctx, Request{ArtifactID: "nope", Decision: "accepted", ReviewerID: "r"}); utils.KindOf(err) != utils.KindNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if _, err := g.QueryAudit(ctx, Query{Decision: "perhaps"}); utils.KindOf(err) != utils.KindValidation {
		t.Fatalf("expected VALIDATION for bad decision filter, got %v", err)
	}
}

func TestConcurrentReviewsProduceOneEntry(t *testing.T) {
	g, _ := newFixture(t)
	ctx := context.Background()

	const reviewers = 16
	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := "accepted"
			if i%2 == 1 {
				decision = "rejected"
			}
			_, err := g.Review(ctx, Request{ArtifactID: "art-2", Decision: decision, ReviewerID: fmt.Sprintf("op-%d", i)})
			switch utils.KindOf(err) {
			case "":
				wins.Add(1)
			case utils.KindConflict:
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != reviewers-1 {
		t.Fatalf("expected exactly one winner, got %d wins and %d conflicts", wins.Load(), conflicts.Load())
	}
	entries, _ := g.QueryAudit(ctx, Query{IncidentID: "inc-1"})
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	if g.locks.size() != 0 {
		t.Fatalf("per-artifact locks leaked: %d", g.locks.size())
	}
}

func TestQueryAuditOrdering(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	_ = st.CreateIncidents(ctx, []models.Incident{{ID: "inc-9", Status: models.IncidentOpen, AlertIDs: []string{"x"}}})
	for _, id := range []string{"c", "a", "b"} {
		_ = st.CreateArtifact(ctx, models.Artifact{ID: id, IncidentID: "inc-9", Status: models.StatusPendingReview})
	}

	times := map[string]time.Time{"c": reviewTime, "a": reviewTime.Add(time.Minute), "b": reviewTime}
	for _, id := range []string{"c", "a", "b"} {
		at := times[id]
		g := NewGate(st, nil, WithClock(func() time.Time { return at }), WithIDGenerator(func() string { return "e-" + id }))
		if _, err := g.Review(ctx, Request{ArtifactID: id, Decision: "rejected", ReviewerID: "r"}); err != nil {
			t.Fatalf("review %s: %v", id, err)
		}
	}

	entries, _ := NewGate(st, nil).QueryAudit(ctx, Query{IncidentID: "inc-9"})
	var got []string
	for _, e := range entries {
		got = append(got, e.ID)
	}
	if strings.Join(got, ",") != "e-b,e-c,e-a" {
		t.Fatalf("unexpected order: %v", got)
	}
}
