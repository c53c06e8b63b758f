package sweeper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/clock"
	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/dungeon"
	"github.com/ashureev/crawl/internal/random"
	"github.com/ashureev/crawl/internal/store"
)

type staticLister struct {
	sessions []*domain.Session
	err      error
	filters  []store.SessionFilter
}

func (l *staticLister) ListSessions(_ context.Context, f store.SessionFilter) ([]*domain.Session, error) {
	l.filters = append(l.filters, f)
	return l.sessions, l.err
}

type funcTicker func(ctx context.Context, id string) (dungeon.TickResult, error)

func (f funcTicker) Tick(ctx context.Context, id string) (dungeon.TickResult, error) {
	return f(ctx, id)
}

func sessions(ids ...string) []*domain.Session {
	out := make([]*domain.Session, len(ids))
	for i, id := range ids {
		out[i] = &domain.Session{ID: id, OwnerID: "owner-" + id, Status: domain.StatusActive}
	}
	return out
}

func TestSweep_FailureDoesNotAbortBatch(t *testing.T) {
	lister := &staticLister{sessions: sessions("a", "b", "c", "d", "e")}
	var mu sync.Mutex
	var advancedOwners []string

	w := NewWorker(lister, funcTicker(func(_ context.Context, id string) (dungeon.TickResult, error) {
		switch id {
		case "a":
			return dungeon.TickResult{}, &dungeon.PersistenceError{Op: "save tick", Err: errors.New("disk full")}
		case "b":
			return dungeon.TickResult{}, dungeon.ErrSessionBusy
		case "c":
			return dungeon.TickResult{}, nil
		default:
			return dungeon.TickResult{Changed: true}, nil
		}
	}), Config{Concurrency: 2}, func(owner string, _ dungeon.TickResult) {
		mu.Lock()
		advancedOwners = append(advancedOwners, owner)
		mu.Unlock()
	}, nil)

	report := w.Sweep(context.Background())

	want := Report{Listed: 5, Advanced: 2, Idle: 1, Skipped: 1, Failed: 1}
	if report != want {
		t.Errorf("Expected %+v, got %+v", want, report)
	}
	if len(advancedOwners) != 2 {
		t.Errorf("Expected callback for 2 sessions, got %v", advancedOwners)
	}
	if len(lister.filters) != 1 || len(lister.filters[0].Statuses) != 1 || lister.filters[0].Statuses[0] != domain.StatusActive {
		t.Errorf("Expected ACTIVE filter, got %+v", lister.filters)
	}
}

func TestSweep_ListFailure(t *testing.T) {
	lister := &staticLister{err: errors.New("database is locked")}
	w := NewWorker(lister, funcTicker(func(context.Context, string) (dungeon.TickResult, error) {
		t.Error("Tick should not be called")
		return dungeon.TickResult{}, nil
	}), Config{}, nil, nil)

	if report := w.Sweep(context.Background()); report != (Report{}) {
		t.Errorf("Expected empty report, got %+v", report)
	}
}

func TestSweep_RespectsConcurrencyLimit(t *testing.T) {
	lister := &staticLister{sessions: sessions("1", "2", "3", "4", "5", "6", "7", "8", "9")}
	var inFlight, peak atomic.Int32

	w := NewWorker(lister, funcTicker(func(context.Context, string) (dungeon.TickResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return dungeon.TickResult{Changed: true}, nil
	}), Config{Concurrency: 3}, nil, nil)

	report := w.Sweep(context.Background())
	if report.Advanced != 9 {
		t.Errorf("Expected 9 advanced, got %+v", report)
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("Expected peak concurrency within limit 3, got %d", p)
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	var sweeps atomic.Int32
	lister := &staticLister{sessions: sessions("a")}
	w := NewWorker(lister, funcTicker(func(context.Context, string) (dungeon.TickResult, error) {
		sweeps.Add(1)
		return dungeon.TickResult{}, nil
	}), Config{Interval: 5 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for sweeps.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Worker did not sweep")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
}

// gatedEncounters blocks the first Generate call until released.
type gatedEncounters struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedEncounters) Generate(ctx context.Context, npc catalog.NPC) domain.Encounter {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
		}
	}
	return domain.Encounter{
		ID:  "enc-" + npc.Name,
		NPC: domain.NPC{Name: npc.Name, Description: npc.Description},
		Choices: []domain.Choice{
			{Text: "a", Consequence: "ok"},
			{Text: "b", Consequence: "ok"},
		},
	}
}

func TestSweep_SlowSessionDoesNotDelayOthers(t *testing.T) {
	ctx := context.Background()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = repo.Close() }()

	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(t0)
	enc := &gatedEncounters{entered: make(chan struct{}), release: make(chan struct{})}
	cfg := dungeon.Config{ItemInterval: time.Minute, EscapadeInterval: 1000 * time.Hour, EncounterAfter: 6 * time.Minute}
	engine := dungeon.NewEngine(repo, cat, enc, clk, random.New(1), cfg, nil)

	a, err := engine.Start(ctx, "owner-a")
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	clk.Set(t0.Add(5 * time.Minute))
	b, err := engine.Start(ctx, "owner-b")
	if err != nil {
		t.Fatalf("start B: %v", err)
	}

	// A is due for its encounter and loot; B only for loot.
	clk.Set(t0.Add(6 * time.Minute))
	w := NewWorker(repo, engine, Config{Concurrency: 4}, nil, nil)

	first := make(chan Report, 1)
	go func() { first <- w.Sweep(ctx) }()

	select {
	case <-enc.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("A never reached generation")
	}

	// B completes while A is still generating.
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := repo.GetSession(ctx, b.ID)
		if err != nil {
			t.Fatalf("get B: %v", err)
		}
		if len(got.ItemsCollected) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("B was not advanced while A was slow")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// An overlapping pass skips A and does not wait for it.
	second := w.Sweep(ctx)
	if second.Skipped < 1 {
		t.Errorf("Expected A to be skipped by overlapping sweep, got %+v", second)
	}
	if second.Failed != 0 {
		t.Errorf("Expected no failures, got %+v", second)
	}

	close(enc.release)
	report := <-first
	if report.Advanced != 2 || report.Failed != 0 {
		t.Errorf("Expected both sessions advanced in first pass, got %+v", report)
	}

	gotA, err := repo.GetSession(ctx, a.ID)
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	if !gotA.AwaitingChoice() || len(gotA.ItemsCollected) != 1 {
		t.Errorf("Expected A paused on encounter with loot, got status=%s items=%v", gotA.Status, gotA.ItemsCollected)
	}
	gotB, err := repo.GetSession(ctx, b.ID)
	if err != nil {
		t.Fatalf("get B: %v", err)
	}
	if gotB.Status != domain.StatusActive || gotB.NPCEventTriggered {
		t.Errorf("Expected B still active without encounter, got status=%s", gotB.Status)
	}
	if n := enc.calls.Load(); n != 1 {
		t.Errorf("Expected one generation call, got %d", n)
	}
}
