package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// drainUntil polls d until n results arrive or the pending set empties.
func drainUntil(t *testing.T, d *Dispatcher, n int) []Result {
	t.Helper()
	var out []Result
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out = append(out, d.Drain()...)
		if len(out) >= n && d.Pending() == 0 {
			return out
		}
		if n == 0 && d.Pending() == 0 {
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d results (got %d, pending %d)", n, len(out), d.Pending())
	return nil
}

func TestSubjectKeyTracksInputs(t *testing.T) {
	a := Subject{Kind: SubjectEvent, ID: "e1", Title: "Solar Flare"}
	b := a
	b.Title = "Solar Storm"
	if a.Key() == b.Key() {
		t.Fatal("different inputs must hash differently")
	}
	if a.Key() != (Subject{Kind: SubjectEvent, ID: "e1", Title: "Solar Flare"}).Key() {
		t.Fatal("key must be stable")
	}
	if a.Key() != (Subject{Kind: SubjectEvent, ID: "e2", Title: "Solar Flare", Instability: 90}).Key() {
		t.Fatal("same template under another ID must share a key")
	}
	if a.Key() == (Subject{Kind: SubjectPuzzle, ID: "e1", Title: "Solar Flare"}).Key() {
		t.Fatal("kind is part of the key")
	}
}

func TestDispatcherCacheSharedAcrossSubjects(t *testing.T) {
	var calls atomic.Int32
	n := Func(func(ctx context.Context, s Subject) (Override, error) {
		calls.Add(1)
		return Override{Title: "Dust Storm Rising"}, nil
	})
	d := NewDispatcher(n, time.Second, nil)

	d.Submit(Subject{Kind: SubjectEvent, ID: "e1", Title: "Dust Storm"})
	if res := drainUntil(t, d, 1); len(res) != 1 || res[0].ID != "e1" {
		t.Fatalf("unexpected results %+v", res)
	}

	o, ok := d.Submit(Subject{Kind: SubjectEvent, ID: "e2", Title: "Dust Storm"})
	if !ok || o.Title != "Dust Storm Rising" {
		t.Fatalf("second subject should hit the cache, got %+v %v", o, ok)
	}
	if calls.Load() != 1 || d.Pending() != 0 {
		t.Fatalf("expected one call and nothing pending, got %d calls, %d pending", calls.Load(), d.Pending())
	}
}

func TestNilDispatcherIsInert(t *testing.T) {
	var d *Dispatcher
	if _, ok := d.Submit(Subject{ID: "x"}); ok {
		t.Fatal("nil dispatcher returned an override")
	}
	if d.Drain() != nil || d.Pending() != 0 {
		t.Fatal("nil dispatcher must be empty")
	}
	if NewDispatcher(nil, time.Second, nil) != nil {
		t.Fatal("nil narrator should give a nil dispatcher")
	}
	if NewDispatcher(NewClient(""), time.Second, nil) != nil {
		t.Fatal("disabled client should give a nil dispatcher")
	}
}

func TestDispatcherDeliversAndCaches(t *testing.T) {
	var calls atomic.Int32
	n := Func(func(ctx context.Context, s Subject) (Override, error) {
		calls.Add(1)
		return Override{Title: strings.ToUpper(s.Title)}, nil
	})
	d := NewDispatcher(n, time.Second, nil)

	s := Subject{Kind: SubjectPuzzle, ID: "p1", Title: "allocation"}
	if _, ok := d.Submit(s); ok {
		t.Fatal("first submit cannot be cached")
	}
	res := drainUntil(t, d, 1)
	if len(res) != 1 || res[0].ID != "p1" || res[0].Override.Title != "ALLOCATION" {
		t.Fatalf("unexpected results %+v", res)
	}

	o, ok := d.Submit(s)
	if !ok || o.Title != "ALLOCATION" {
		t.Fatalf("expected cached override, got %+v %v", o, ok)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single narrator call, got %d", calls.Load())
	}
}

func TestDispatcherTimeoutFallsBack(t *testing.T) {
	n := Func(func(ctx context.Context, s Subject) (Override, error) {
		<-ctx.Done()
		return Override{}, ctx.Err()
	})
	d := NewDispatcher(n, 20*time.Millisecond, nil)
	d.Submit(Subject{Kind: SubjectEvent, ID: "e1", Title: "x"})

	if res := drainUntil(t, d, 0); len(res) != 0 {
		t.Fatalf("timed out call must not produce results: %+v", res)
	}
}

func TestDispatcherDropsSuperseded(t *testing.T) {
	release := make(chan struct{})
	n := Func(func(ctx context.Context, s Subject) (Override, error) {
		if s.Title == "old" {
			<-release
		}
		return Override{Description: s.Title}, nil
	})
	d := NewDispatcher(n, time.Second, nil)

	d.Submit(Subject{Kind: SubjectOffer, ID: "o1", Title: "old"})
	d.Submit(Subject{Kind: SubjectOffer, ID: "o1", Title: "new"})
	res := drainUntil(t, d, 1)
	if len(res) != 1 || res[0].Override.Description != "new" {
		t.Fatalf("expected only the newest result, got %+v", res)
	}

	close(release)
	time.Sleep(20 * time.Millisecond)
	if late := d.Drain(); len(late) != 0 {
		t.Fatalf("superseded result applied: %+v", late)
	}
}

func TestDispatcherForget(t *testing.T) {
	release := make(chan struct{})
	n := Func(func(ctx context.Context, s Subject) (Override, error) {
		<-release
		return Override{Title: "late"}, nil
	})
	d := NewDispatcher(n, time.Second, nil)
	d.Submit(Subject{Kind: SubjectEvent, ID: "gone"})
	d.Forget("gone")
	close(release)
	time.Sleep(20 * time.Millisecond)
	if res := d.Drain(); len(res) != 0 {
		t.Fatalf("forgotten subject produced %+v", res)
	}
}

func TestDispatcherDropsErrors(t *testing.T) {
	d := NewDispatcher(Func(func(ctx context.Context, s Subject) (Override, error) {
		return Override{}, errors.New("boom")
	}), time.Second, nil)
	d.Submit(Subject{ID: "x"})
	if res := drainUntil(t, d, 0); len(res) != 0 {
		t.Fatalf("failed call produced %+v", res)
	}
}

func TestClientEnhance(t *testing.T) {
	var gotKey, gotVersion string
	var gotReq request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"content":[{"text":"Here: {\"title\":\"Sun Spite\",\"description\":\"The grid flickers.\"}"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	c := NewClient("secret", WithAPIURL(srv.URL), WithModel("test-model"))
	o, err := c.Enhance(context.Background(), Subject{Kind: SubjectEvent, Title: "Solar Flare", Tags: []string{"aggressive"}})
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if o.Title != "Sun Spite" || o.Description != "The grid flickers." {
		t.Fatalf("unexpected override %+v", o)
	}
	if gotKey != "secret" || gotVersion != apiVersion || gotReq.Model != "test-model" {
		t.Fatalf("unexpected request: key=%q version=%q model=%q", gotKey, gotVersion, gotReq.Model)
	}
	if !strings.Contains(gotReq.Messages[0].Content, "aggressive") {
		t.Fatal("behaviour tags not forwarded")
	}
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("secret", WithAPIURL(srv.URL), WithRateLimit(1))
	if _, err := c.Enhance(context.Background(), Subject{}); err == nil {
		t.Fatal("expected API error")
	}
	if _, err := c.Enhance(context.Background(), Subject{}); err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Fatalf("expected rate limit error, got %v", err)
	}

	var disabled *Client
	if _, err := disabled.Complete(context.Background(), "", "", 1); err == nil {
		t.Fatal("nil client must refuse")
	}
}

func TestParseOverrideFallback(t *testing.T) {
	o, err := parseOverride("  Just prose.  ")
	if err != nil || o.Description != "Just prose." || o.Title != "" {
		t.Fatalf("unexpected fallback %+v %v", o, err)
	}
	if _, err := parseOverride("   "); err == nil {
		t.Fatal("empty reply must fail")
	}
}
