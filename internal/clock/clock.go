package clock

import (
	"sort"
	"sync"
	"time"

	"auction-site/internal/domain"
)

// TimeSource supplies the raw process time a Clock is derived from.
// Implementations report an error when the source cannot be reached; the
// Clock surfaces that as KindClockUnavailable.
type TimeSource interface {
	Now() (time.Time, error)
}

// SystemTimeSource reads the wall clock in UTC.
type SystemTimeSource struct{}

func NewSystemTimeSource() *SystemTimeSource { return &SystemTimeSource{} }

func (s *SystemTimeSource) Now() (time.Time, error) {
	return time.Now().UTC(), nil
}

// ManualTimeSource is a test-controlled source. Advancing it also drives
// the alarms of every Clock derived from it.
type ManualTimeSource struct {
	mu       sync.Mutex
	now      time.Time
	fail     bool
	watchers []func()
}

func NewManualTimeSource(start time.Time) *ManualTimeSource {
	return &ManualTimeSource{now: start.UTC()}
}

func (s *ManualTimeSource) Now() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return time.Time{}, domain.E(domain.KindClockUnavailable, "time source unreachable")
	}
	return s.now, nil
}

// Advance moves the source forward by d and wakes derived clocks so due
// alarms fire.
func (s *ManualTimeSource) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	watchers := make([]func(), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, w := range watchers {
		w()
	}
}

// SetFailing makes subsequent Now calls fail; used to exercise the
// ClockUnavailable path.
func (s *ManualTimeSource) SetFailing(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *ManualTimeSource) addWatcher(w func()) {
	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()
}

type alarm struct {
	fireAt   time.Time
	callback func()
}

// Clock is the per-site logical clock: source time shifted by the site's
// timezone offset. Two successive Now calls never observe time moving
// backward, and scheduled alarms fire exactly once when observed time
// reaches their deadline.
type Clock struct {
	source   TimeSource
	timezone int

	mu     sync.Mutex
	last   time.Time
	alarms []*alarm
}

// Timezone returns the whole-hour offset this clock applies.
func (c *Clock) Timezone() int { return c.timezone }

// Now returns the site's current logical time.
func (c *Clock) Now() (time.Time, error) {
	raw, err := c.source.Now()
	if err != nil {
		return time.Time{}, domain.Wrap(domain.KindClockUnavailable, "read time source", err)
	}
	shifted := raw.Add(time.Duration(c.timezone) * time.Hour)

	c.mu.Lock()
	if shifted.Before(c.last) {
		shifted = c.last
	} else {
		c.last = shifted
	}
	due := c.takeDueLocked(shifted)
	c.mu.Unlock()

	for _, a := range due {
		a.callback()
	}
	return shifted, nil
}

// Schedule registers callback to run once logical time reaches or passes
// fireAt. The callback runs outside the clock lock and must do its own
// synchronization before mutating shared state.
func (c *Clock) Schedule(fireAt time.Time, callback func()) {
	c.mu.Lock()
	c.alarms = append(c.alarms, &alarm{fireAt: fireAt, callback: callback})
	sort.SliceStable(c.alarms, func(i, j int) bool {
		return c.alarms[i].fireAt.Before(c.alarms[j].fireAt)
	})
	c.mu.Unlock()
}

func (c *Clock) takeDueLocked(now time.Time) []*alarm {
	var due []*alarm
	remaining := c.alarms[:0]
	for _, a := range c.alarms {
		if !now.Before(a.fireAt) {
			due = append(due, a)
		} else {
			remaining = append(remaining, a)
		}
	}
	c.alarms = remaining
	return due
}

// checkAlarms is the watcher hook used by ManualTimeSource.Advance.
func (c *Clock) checkAlarms() {
	_, _ = c.Now()
}

// Factory instantiates per-site clocks over a shared time source.
type Factory struct {
	source TimeSource
}

func NewFactory(source TimeSource) *Factory {
	return &Factory{source: source}
}

// Instantiate builds a clock for the given timezone offset.
func (f *Factory) Instantiate(timezone int) (*Clock, error) {
	if timezone < domain.MinTimezone || timezone > domain.MaxTimezone {
		return nil, domain.Ef(domain.KindValidation, "timezone %d out of range [%d,%d]",
			timezone, domain.MinTimezone, domain.MaxTimezone)
	}
	c := &Clock{source: f.source, timezone: timezone}
	if manual, ok := f.source.(*ManualTimeSource); ok {
		manual.addWatcher(c.checkAlarms)
	}
	return c, nil
}
