// Package presence decides when a voice-channel join becomes an announcement.
//
// A join is announced only when the member entered the watched channel as its
// sole occupant AND is still a member once the debounce period has elapsed.
// The debounce turns a point-in-time join event into a confirmation of
// sustained presence, so someone briefly passing through (switching devices,
// misclicks) produces no message.
package presence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saulrh/living-room-bot/internal/transport"
	logx "github.com/saulrh/living-room-bot/pkg/logx"
)

// Scheduler is the slice of the scheduler service the tracker consumes.
type Scheduler interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
}

type Config struct {
	VoiceChannelID string
	TextChannelID  string
	DebouncePeriod time.Duration
}

type Tracker struct {
	gw    transport.Gateway
	sched Scheduler
	log   logx.Logger

	mu  sync.Mutex
	cfg Config

	// seq makes every scheduled check name unique. Checks for the same member
	// are deliberately NOT deduplicated: a member who leaves and rejoins
	// within the debounce window gets independent checks, each re-verifying
	// live membership when it fires.
	seq atomic.Uint64
}

func New(cfg Config, gw transport.Gateway, sched Scheduler, log logx.Logger) *Tracker {
	if cfg.DebouncePeriod <= 0 {
		cfg.DebouncePeriod = 10 * time.Second
	}
	return &Tracker{cfg: cfg, gw: gw, sched: sched, log: log}
}

// Apply updates the debounce period. Channel IDs are fixed for the process
// lifetime; only the policy knob is reloadable.
func (tr *Tracker) Apply(debounce time.Duration) {
	if debounce <= 0 {
		return
	}
	tr.mu.Lock()
	tr.cfg.DebouncePeriod = debounce
	tr.mu.Unlock()
}

func (tr *Tracker) snapshot() Config {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.cfg
}

// HandleTransition applies the announcement gates to one membership change
// and, when they all pass, schedules the debounce check.
func (tr *Tracker) HandleTransition(ctx context.Context, t transport.VoiceTransition) error {
	cfg := tr.snapshot()

	if t.AfterChannelID != cfg.VoiceChannelID {
		return nil
	}
	// Voice state updates also fire for mute/deafen toggles, where before and
	// after are the same channel. Those are not joins.
	if t.BeforeChannelID == t.AfterChannelID {
		return nil
	}
	// Sole-occupant gate: if the channel already had people in it, they were
	// announced (or declined) when the room first filled; announcing every
	// subsequent arrival is noise.
	if t.AfterMemberCount != 1 {
		tr.log.Debug("join ignored (channel already occupied)",
			logx.String("member", t.MemberID), logx.Int("occupancy", t.AfterMemberCount))
		return nil
	}

	memberID := t.MemberID
	name := fmt.Sprintf("presence:confirm:%s:%d", memberID, tr.seq.Add(1))
	fireAt := time.Now().Add(cfg.DebouncePeriod)
	if _, err := tr.sched.AddOnce(name, fireAt, 0, func(ctx context.Context) error {
		return tr.confirm(ctx, memberID)
	}); err != nil {
		return fmt.Errorf("schedule debounce check for %s: %w", memberID, err)
	}
	tr.log.Debug("debounce check scheduled",
		logx.String("member", memberID), logx.Time("fire_at", fireAt))
	return nil
}

// confirm re-queries live membership and announces the member if they are
// still in the watched channel. A member who left in the meantime is the
// expected quiet outcome, not an error.
func (tr *Tracker) confirm(ctx context.Context, memberID string) error {
	cfg := tr.snapshot()

	members, err := tr.gw.CurrentMembers(ctx, cfg.VoiceChannelID)
	if err != nil {
		return fmt.Errorf("membership query for %s: %w", cfg.VoiceChannelID, err)
	}
	if _, ok := members[memberID]; !ok {
		tr.log.Debug("member left before debounce elapsed", logx.String("member", memberID))
		return nil
	}

	ch, err := tr.gw.ResolveChannel(ctx, cfg.TextChannelID)
	if err != nil {
		return fmt.Errorf("resolve text channel: %w", err)
	}
	text := transport.Mention(memberID) + " joined the living room"
	if _, err := tr.gw.SendMessage(ctx, ch.ID, text); err != nil {
		return fmt.Errorf("send join notification: %w", err)
	}
	tr.log.Info("join announced", logx.String("member", memberID))
	return nil
}
