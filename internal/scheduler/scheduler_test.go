package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cfbot/internal/source"
	"cfbot/internal/store"
	logx "cfbot/pkg/logx"
)

// ---- test doubles ----

type fakeSource struct {
	contests []source.Contest
	err      error
}

func (f *fakeSource) FetchUpcoming(ctx context.Context) ([]source.Contest, error) {
	return f.contests, f.err
}

type fakeLedger struct {
	mu    sync.Mutex
	set   map[int64]struct{}
	saves int

	loadErr error
	saveErr error
}

func (f *fakeLedger) Load() (map[int64]struct{}, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := map[int64]struct{}{}
	for id := range f.set {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeLedger) Save(ids map[int64]struct{}) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = map[int64]struct{}{}
	for id := range ids {
		f.set[id] = struct{}{}
	}
	f.saves++
	return nil
}

type sent struct {
	recipient int64
	text      string
}

type fakeSink struct {
	mu      sync.Mutex
	sent    []sent
	failFor map[int64]error
}

func (f *fakeSink) Send(_ context.Context, recipient int64, text string) error {
	if err := f.failFor[recipient]; err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, sent{recipient: recipient, text: text})
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) sentTo(recipient int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.recipient == recipient {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, src ContestSource, led KnownLedger, sink *fakeSink) (*Service, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "users.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := New(Config{Schedule: "30m"}, src, st, led, sink, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, st
}

// ---- tests ----

func TestNewContestAnnouncedExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	src := &fakeSource{contests: []source.Contest{
		{ID: 42, Name: "Round #42", Start: now.Add(5000 * time.Second)},
	}}
	led := &fakeLedger{}
	sink := &fakeSink{}
	svc, st := newTestService(t, src, led, sink)

	for _, uid := range []int64{100, 200} {
		if err := st.AddSubscriber(ctx, uid); err != nil {
			t.Fatalf("AddSubscriber: %v", err)
		}
	}

	known, err := svc.ledger.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := svc.runCycle(ctx, known); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}

	if got := len(sink.sent); got != 2 {
		t.Fatalf("announcement fan-out: %d sends, want 2", got)
	}
	for _, s := range sink.sent {
		if !strings.Contains(s.text, "New contest") || !strings.Contains(s.text, "Round #42") {
			t.Fatalf("unexpected announcement text %q", s.text)
		}
	}
	if _, ok := led.set[42]; !ok {
		t.Fatal("ledger does not contain announced contest")
	}

	// The source still returns the contest next cycle; no re-announcement.
	sink.sent = nil
	if err := svc.runCycle(ctx, known); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if len(sink.sent) != 0 {
		t.Fatalf("contest re-announced: %d sends", len(sink.sent))
	}
}

// unsubscribingSink removes a subscriber on its first delivery, simulating an
// unsubscribe committed while a cycle is in flight.
type unsubscribingSink struct {
	fakeSink
	store  store.Store
	remove int64
	once   sync.Once
}

func (u *unsubscribingSink) Send(ctx context.Context, recipient int64, text string) error {
	u.once.Do(func() { _ = u.store.RemoveSubscriber(ctx, u.remove) })
	return u.fakeSink.Send(ctx, recipient, text)
}

func TestMidCycleUnsubscribeSkipsLaterFanouts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	// Two unseen contests, so one cycle runs two announcement fan-outs.
	src := &fakeSource{contests: []source.Contest{
		{ID: 1, Name: "Round #1", Start: now.Add(48 * time.Hour)},
		{ID: 2, Name: "Round #2", Start: now.Add(72 * time.Hour)},
	}}
	led := &fakeLedger{}

	st, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "users.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	for _, uid := range []int64{100, 200} {
		if err := st.AddSubscriber(ctx, uid); err != nil {
			t.Fatalf("AddSubscriber: %v", err)
		}
	}

	sink := &unsubscribingSink{store: st, remove: 200}
	svc, err := New(Config{Schedule: "30m"}, src, st, led, sink, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	known, _ := svc.ledger.Load()
	if err := svc.runCycle(ctx, known); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// The first fan-out's recipient list was read before the removal, so uid
	// 200 still gets contest 1; contest 2's fan-out re-reads the list and
	// must exclude them.
	if got := sink.sentTo(200); got != 1 {
		t.Fatalf("removed subscriber got %d sends, want 1", got)
	}
	if got := sink.sentTo(100); got != 2 {
		t.Fatalf("remaining subscriber got %d sends, want 2", got)
	}
}

func TestReminderTargetsParticipantsOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	src := &fakeSource{contests: []source.Contest{
		{ID: 7, Name: "Round #7", Start: now.Add(20 * time.Minute)},
	}}
	led := &fakeLedger{set: map[int64]struct{}{7: {}}} // already announced
	sink := &fakeSink{}
	svc, st := newTestService(t, src, led, sink)

	// Subscribers are NOT reminder recipients.
	if err := st.AddSubscriber(ctx, 999); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}

	known, _ := svc.ledger.Load()
	if err := svc.runCycle(ctx, known); err != nil {
		t.Fatalf("cycle (no participants): %v", err)
	}
	if len(sink.sent) != 0 {
		t.Fatalf("reminder sent with zero participants: %d", len(sink.sent))
	}

	for _, uid := range []int64{100, 200} {
		if err := st.AddParticipant(ctx, 7, uid); err != nil {
			t.Fatalf("AddParticipant: %v", err)
		}
	}
	if err := svc.runCycle(ctx, known); err != nil {
		t.Fatalf("cycle (participants): %v", err)
	}
	if len(sink.sent) != 2 {
		t.Fatalf("reminder fan-out: %d sends, want 2", len(sink.sent))
	}
	for _, s := range sink.sent {
		if !strings.Contains(s.text, "less than 30 minutes") {
			t.Fatalf("wrong bucket text %q", s.text)
		}
	}

	// Ten minutes later the contest is still inside the window; the same
	// reminder goes out again (there is no per-bucket sent marker).
	src.contests[0].Start = now.Add(10 * time.Minute)
	sink.sent = nil
	if err := svc.runCycle(ctx, known); err != nil {
		t.Fatalf("cycle (repeat): %v", err)
	}
	if len(sink.sent) != 2 {
		t.Fatalf("repeat reminder fan-out: %d sends, want 2", len(sink.sent))
	}
}

func TestDeliveryFailureIsIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	src := &fakeSource{contests: []source.Contest{
		{ID: 9, Name: "Round #9", Start: now.Add(15 * time.Minute)},
	}}
	led := &fakeLedger{set: map[int64]struct{}{9: {}}}
	sink := &fakeSink{failFor: map[int64]error{100: errors.New("blocked by user")}}
	svc, st := newTestService(t, src, led, sink)

	for _, uid := range []int64{100, 200} {
		if err := st.AddParticipant(ctx, 9, uid); err != nil {
			t.Fatalf("AddParticipant: %v", err)
		}
	}

	known, _ := svc.ledger.Load()
	if err := svc.runCycle(ctx, known); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if sink.sentTo(100) != 0 {
		t.Fatal("failing recipient recorded a delivery")
	}
	if sink.sentTo(200) != 1 {
		t.Fatal("healthy recipient missed the delivery")
	}
	if led.saves != 1 {
		t.Fatalf("ledger saves = %d, want 1 (cycle must complete)", led.saves)
	}
}

func TestFetchFailureSkipsCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{err: fmt.Errorf("%w: timeout", source.ErrUnavailable)}
	led := &fakeLedger{set: map[int64]struct{}{1: {}}}
	sink := &fakeSink{}
	svc, st := newTestService(t, src, led, sink)
	if err := st.AddSubscriber(ctx, 100); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}

	known, _ := svc.ledger.Load()
	err := svc.runCycle(ctx, known)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, source.ErrUnavailable) {
		t.Fatalf("error does not wrap ErrUnavailable: %v", err)
	}
	if len(sink.sent) != 0 {
		t.Fatal("deliveries happened despite fetch failure")
	}
	if led.saves != 0 {
		t.Fatal("ledger written despite aborted cycle")
	}
	if _, ok := led.set[1]; !ok {
		t.Fatal("ledger content changed despite aborted cycle")
	}
}

func TestLedgerSaveFailureSurfacesAfterDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	src := &fakeSource{contests: []source.Contest{
		{ID: 5, Name: "Round #5", Start: now.Add(48 * time.Hour)},
	}}
	led := &fakeLedger{saveErr: errors.New("disk full")}
	sink := &fakeSink{}
	svc, st := newTestService(t, src, led, sink)
	if err := st.AddSubscriber(ctx, 100); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}

	known, _ := svc.ledger.Load()
	err := svc.runCycle(ctx, known)
	if err == nil || !strings.Contains(err.Error(), "ledger save") {
		t.Fatalf("expected ledger save error, got %v", err)
	}
	// The announcement still went out, and the id stays in the working set
	// so the process does not re-announce while alive.
	if len(sink.sent) != 1 {
		t.Fatalf("announcement sends = %d, want 1", len(sink.sent))
	}
	if _, ok := known[5]; !ok {
		t.Fatal("announced id missing from in-memory working set")
	}
}
