package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "github.com/saulrh/living-room-bot/pkg/logx"
)

// AddInterval registers a recurring job. Registration is an upsert by name:
// re-registering under the same name replaces the previous schedule instead of
// accumulating a duplicate, so callers can safely re-apply their schedules on
// config reload.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	if every <= 0 {
		return "", fmt.Errorf("interval must be > 0, got %s", every)
	}
	if job == nil {
		return "", errors.New("job is nil")
	}
	_ = s.removeScheduleLocked(name)
	id := fmt.Sprintf("interval:%d", time.Now().UnixNano())
	d := scheduleDef{
		id:      id,
		name:    name,
		spec:    fmt.Sprintf("@every %s", every.String()),
		timeout: s.resolveTimeout(timeout),
		job:     job,
		state:   &runState{},
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		err := s.addEntryLocked(&s.defs[len(s.defs)-1])
		if err != nil {
			s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", d.spec), logx.Err(err))
		} else {
			s.log.Debug("schedule registered", logx.String("name", name), logx.String("id", id), logx.String("spec", d.spec), logx.Duration("timeout", d.timeout))
		}
		return id, err
	}
	// Scheduler not started yet: keep definition and register when Start() runs.
	return id, nil
}

// AddOnce registers a one-shot job to run at the given time. Names are upserted
// like AddInterval, so callers that want independent one-shots (rather than
// replace-on-reschedule) must use distinct names.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}
	if job == nil {
		return "", errors.New("job is nil")
	}

	resolved := s.resolveTimeout(timeout)

	s.tmu.Lock()
	// upsert: stop existing timer with the same name
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
	}
	// bump version to ignore stale callbacks from previously scheduled timers
	ver := s.onceVer[name] + 1
	s.onceVer[name] = ver

	s.onceAt[name] = at
	s.onceTimeout[name] = resolved
	s.onceJob[name] = job

	s.armOnceTimerLocked(name, at, ver)
	s.tmu.Unlock()

	return name, nil
}

// armOnceTimerLocked creates the runtime timer for a stored one-shot
// definition. Call with s.tmu held.
func (s *Service) armOnceTimerLocked(name string, at time.Time, ver uint64) {
	localName := name
	localVer := ver
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		// If the task was removed or replaced, ignore this callback.
		s.tmu.Lock()
		curVer := s.onceVer[localName]
		jobNow := s.onceJob[localName]
		timeoutNow := s.onceTimeout[localName]
		_, okAt := s.onceAt[localName]
		if curVer != localVer || jobNow == nil || !okAt {
			s.tmu.Unlock()
			return
		}
		// cleanup stored definition first (prevents double-exec on restart)
		delete(s.timers, localName)
		delete(s.onceAt, localName)
		delete(s.onceTimeout, localName)
		delete(s.onceJob, localName)
		delete(s.onceVer, localName)
		s.tmu.Unlock()

		s.enqueue(task{
			id:      fmt.Sprintf("once:%d", time.Now().UnixNano()),
			name:    localName,
			timeout: timeoutNow,
			run:     jobNow,
			state:   &runState{},
		})
	})
	s.timers[localName] = timer
}

// Remove unschedules all schedules with the given name. It returns true if something was removed.
// Safe to call even when scheduler is not started (it will still remove stored defs).
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false

	s.mu.Lock()
	removed = s.removeScheduleLocked(name) || removed
	s.mu.Unlock()

	s.tmu.Lock()
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
		removed = true
	}
	if _, ok := s.onceAt[name]; ok {
		delete(s.onceAt, name)
		removed = true
	}
	delete(s.onceTimeout, name)
	if _, ok := s.onceJob[name]; ok {
		delete(s.onceJob, name)
		removed = true
	}
	delete(s.onceVer, name)
	s.tmu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked removes all defs matching name and unregisters them from cron if running.
// Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	if s.c != nil {
		for i := range s.defs {
			if s.defs[i].name == name && s.defs[i].entryID != 0 {
				s.c.Remove(s.defs[i].entryID)
				s.defs[i].entryID = 0
				removed = true
			}
		}
	}
	// remove from stored defs regardless of running state
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	if n < len(s.defs) {
		s.defs = s.defs[:n]
	}
	return removed
}

func (s *Service) addEntryLocked(d *scheduleDef) error {
	eid, err := s.c.AddFunc(d.spec, func() {
		// Skip this run while the previous one is still executing; the next
		// tick will pick the work up again.
		d.state.mu.Lock()
		running := d.state.running
		d.state.mu.Unlock()
		if running {
			s.log.Debug("schedule skipped (previous run still running)", logx.String("task", d.name))
			return
		}
		s.enqueue(task{id: d.id, name: d.name, timeout: d.timeout, run: d.job, state: d.state})
	})
	if err == nil {
		d.entryID = eid
	}
	return err
}
