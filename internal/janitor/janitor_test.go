package janitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/saulrh/living-room-bot/internal/transport"
	logx "github.com/saulrh/living-room-bot/pkg/logx"
)

const textID = "text-1"

// fakeGateway holds an in-memory message store honoring the history-fetch
// contract: messages strictly after the window start, oldest first, capped at
// limit.
type fakeGateway struct {
	mu       sync.Mutex
	self     string
	messages map[string]transport.Message

	fetchErr   error
	deleteErr  map[string]error // message ID -> error
	fetchCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		self:      "bot-0",
		messages:  map[string]transport.Message{},
		deleteErr: map[string]error{},
	}
}

func (g *fakeGateway) add(id, author string, createdAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages[id] = transport.Message{
		ID:        id,
		ChannelID: textID,
		AuthorID:  author,
		CreatedAt: createdAt.UTC(),
	}
}

func (g *fakeGateway) ids() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.messages))
	for id := range g.messages {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (g *fakeGateway) Start(ctx context.Context, out chan<- transport.VoiceTransition) error {
	return nil
}
func (g *fakeGateway) Stop(ctx context.Context) error { return nil }
func (g *fakeGateway) SelfID() string                 { return g.self }

func (g *fakeGateway) ResolveChannel(ctx context.Context, id string) (transport.Channel, error) {
	return transport.Channel{ID: id, GuildID: "guild-1"}, nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, channelID, text string) (transport.MessageRef, error) {
	return transport.MessageRef{}, errors.New("not used")
}

func (g *fakeGateway) MessagesSince(ctx context.Context, channelID string, after time.Time, limit int) ([]transport.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	var out []transport.Message
	for _, m := range g.messages {
		if m.CreatedAt.After(after) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGateway) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.deleteErr[ref.MessageID]; err != nil {
		return err
	}
	delete(g.messages, ref.MessageID)
	return nil
}

func (g *fakeGateway) CurrentMembers(ctx context.Context, channelID string) (map[string]struct{}, error) {
	return nil, errors.New("not used")
}

var testPolicy = Policy{
	ScanInterval:    10 * time.Minute,
	LookbackHorizon: 24 * time.Hour,
	RetainAfter:     time.Hour,
}

func newJanitor(gw *fakeGateway) (*Janitor, time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	j := New(textID, testPolicy, gw, logx.Nop())
	j.now = func() time.Time { return now }
	// Unthrottled deletes keep large-store tests fast.
	j.limiter = rate.NewLimiter(rate.Inf, 0)
	return j, now
}

func TestSweepDeletesOnlyOldOwnMessages(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	j, now := newJanitor(gw)

	gw.add("old-own", gw.self, now.Add(-2*time.Hour))
	gw.add("fresh-own", gw.self, now.Add(-30*time.Minute))
	gw.add("old-foreign", "alice", now.Add(-5*time.Hour))

	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	want := []string{"fresh-own", "old-foreign"}
	if got := gw.ids(); !equal(got, want) {
		t.Fatalf("remaining = %v, want %v", got, want)
	}
}

func TestRetentionBoundaryIsStrict(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	j, now := newJanitor(gw)

	gw.add("at-boundary", gw.self, now.Add(-testPolicy.RetainAfter))
	gw.add("past-boundary", gw.self, now.Add(-testPolicy.RetainAfter).Add(-time.Second))

	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	if got := gw.ids(); !equal(got, []string{"at-boundary"}) {
		t.Fatalf("remaining = %v, want only at-boundary (== cutoff must survive)", got)
	}
}

func TestForeignAuthorsNeverDeleted(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	j, now := newJanitor(gw)

	gw.add("ancient-foreign", "alice", now.Add(-23*time.Hour))
	gw.add("old-foreign", "bob", now.Add(-2*time.Hour))

	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	if got := gw.ids(); len(got) != 2 {
		t.Fatalf("remaining = %v, want both foreign messages untouched", got)
	}
}

func TestMessagesBeyondHorizonAreNotObserved(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	j, now := newJanitor(gw)

	gw.add("beyond-horizon", gw.self, now.Add(-25*time.Hour))

	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	if got := gw.ids(); !equal(got, []string{"beyond-horizon"}) {
		t.Fatalf("remaining = %v, want beyond-horizon left alone", got)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	j, now := newJanitor(gw)

	gw.add("old-own", gw.self, now.Add(-2*time.Hour))
	gw.add("fresh-own", gw.self, now.Add(-10*time.Minute))

	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("first Sweep error: %v", err)
	}
	after1 := gw.ids()
	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep error: %v", err)
	}
	after2 := gw.ids()

	if !equal(after1, after2) {
		t.Fatalf("second sweep changed the message set: %v -> %v", after1, after2)
	}
	if !equal(after2, []string{"fresh-own"}) {
		t.Fatalf("remaining = %v, want fresh-own", after2)
	}
}

func TestScanBoundCapsOnePass(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	j, now := newJanitor(gw)

	// 1500 deletable messages inside the window: one pass evaluates at most
	// 1000; the rest are picked up by the next pass.
	for i := 0; i < 1500; i++ {
		gw.add(fmt.Sprintf("own-%04d", i), gw.self, now.Add(-3*time.Hour).Add(time.Duration(i)*time.Second))
	}

	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("first Sweep error: %v", err)
	}
	if got := len(gw.ids()); got != 500 {
		t.Fatalf("remaining after first pass = %d, want 500", got)
	}

	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep error: %v", err)
	}
	if got := len(gw.ids()); got != 0 {
		t.Fatalf("remaining after second pass = %d, want 0", got)
	}
}

func TestFailedDeleteDoesNotAbortPass(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	j, now := newJanitor(gw)

	gw.add("sticky", gw.self, now.Add(-4*time.Hour))
	gw.add("deletable", gw.self, now.Add(-3*time.Hour))
	gw.deleteErr["sticky"] = errors.New("missing permissions")

	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	// The failed delete is left for the next pass; the rest of the pass ran.
	if got := gw.ids(); !equal(got, []string{"sticky"}) {
		t.Fatalf("remaining = %v, want only sticky", got)
	}
}

func TestFetchFailureSurfaces(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	j, _ := newJanitor(gw)
	gw.fetchErr = errors.New("gateway timeout")

	if err := j.Sweep(context.Background()); err == nil {
		t.Fatal("expected fetch error to surface")
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
