package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// CounterEntry is one capped counter touched by a consume attempt.
type CounterEntry struct {
	Key string
	Cap int64
	TTL time.Duration
}

// CounterStore provides atomic increment-with-cap over named counters. An
// attempt must either apply to every entry or to none.
type CounterStore interface {
	ConsumeIfUnder(ctx context.Context, entries []CounterEntry, cost int64) (bool, error)
}

// Limits carries the per-source daily and monthly call caps.
type Limits struct {
	Daily   int64
	Monthly int64
}

// Tracker enforces daily/monthly caps on calls to external price sources.
// Every component must consult it before calling out; a denied attempt means
// the call is skipped entirely.
type Tracker struct {
	store  CounterStore
	limits map[string]Limits
	loc    *time.Location
	now    func() time.Time
}

// NewTracker creates a budget tracker. Calendar boundaries are evaluated in
// loc, the timezone the sources reset their quotas in.
func NewTracker(store CounterStore, limits map[string]Limits, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		store:  store,
		limits: limits,
		loc:    loc,
		now:    time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (t *Tracker) SetNow(now func() time.Time) {
	t.now = now
}

// TryConsume atomically charges cost against the source's daily and monthly
// counters. It returns false without side effects when either cap would be
// exceeded, when the source is unknown, or when the counter store is
// unreachable - the tracker fails closed to protect paid quotas.
func (t *Tracker) TryConsume(ctx context.Context, source string, cost int64) bool {
	if cost <= 0 {
		return true
	}
	limits, ok := t.limits[source]
	if !ok {
		log.Warnf("[Budget] Unknown source %q, denying", source)
		return false
	}

	now := t.now().In(t.loc)
	entries := []CounterEntry{
		{Key: dayKey(source, now), Cap: limits.Daily, TTL: 48 * time.Hour},
		{Key: monthKey(source, now), Cap: limits.Monthly, TTL: 32 * 24 * time.Hour},
	}

	allowed, err := t.store.ConsumeIfUnder(ctx, entries, cost)
	if err != nil {
		log.Errorf("[Budget] Counter store unreachable, failing closed: %v", err)
		return false
	}
	return allowed
}

func dayKey(source string, now time.Time) string {
	return fmt.Sprintf("budget:%s:day:%s", source, now.Format("2006-01-02"))
}

func monthKey(source string, now time.Time) string {
	return fmt.Sprintf("budget:%s:month:%s", source, now.Format("2006-01"))
}
