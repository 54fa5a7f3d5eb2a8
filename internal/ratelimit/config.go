package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/router-for-me/throttlegate/internal/clock"
	internalsettings "github.com/router-for-me/throttlegate/internal/settings"
)

// Rule is the throttle configuration of one category.
type Rule struct {
	Enabled bool
	Limit   int
	Period  time.Duration
}

// Validate checks the limit and period bounds.
func (r Rule) Validate() error {
	if r.Limit < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, r.Limit)
	}
	if r.Period <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidPeriod, r.Period)
	}
	return nil
}

// Snapshot is an immutable view of every category rule. Snapshots are comparable.
type Snapshot struct {
	rules [numCategories]Rule
}

// DefaultSnapshot returns the built-in rules: every category disabled.
func DefaultSnapshot() Snapshot {
	var s Snapshot
	period := time.Duration(internalsettings.DefaultPeriodInSeconds) * time.Second
	for _, c := range Categories {
		s.rules[c] = Rule{
			Enabled: internalsettings.DefaultThrottleEnabled,
			Limit:   internalsettings.DefaultRequests(c.String()),
			Period:  period,
		}
	}
	return s
}

// Rule returns the rule for c. Unknown categories get the zero Rule.
func (s Snapshot) Rule(c Category) Rule {
	if !c.Valid() {
		return Rule{}
	}
	return s.rules[c]
}

// Rules returns a copy of every category rule.
func (s Snapshot) Rules() map[Category]Rule {
	out := make(map[Category]Rule, len(Categories))
	for _, c := range Categories {
		out[c] = s.rules[c]
	}
	return out
}

// With returns a copy of s with c set to r.
func (s Snapshot) With(c Category, r Rule) Snapshot {
	if c.Valid() {
		s.rules[c] = r
	}
	return s
}

// RulePatch overrides some fields of a category rule. Nil fields keep prior values.
type RulePatch struct {
	Enabled *bool
	Limit   *int
	Period  *time.Duration
}

func (p RulePatch) apply(r Rule) Rule {
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.Limit != nil {
		r.Limit = *p.Limit
	}
	if p.Period != nil {
		r.Period = *p.Period
	}
	return r
}

// Overrides is a partial configuration keyed by category.
type Overrides map[Category]RulePatch

// Merge applies o on top of base and validates the result.
func (o Overrides) Merge(base Snapshot) (Snapshot, error) {
	next := base
	for c, patch := range o {
		if !c.Valid() {
			continue
		}
		if patch.Limit != nil && *patch.Limit < 0 {
			return base, fmt.Errorf("%s: %w: got %d", c, ErrInvalidLimit, *patch.Limit)
		}
		if patch.Period != nil && *patch.Period <= 0 {
			return base, fmt.Errorf("%s: %w: got %s", c, ErrInvalidPeriod, *patch.Period)
		}
		next.rules[c] = patch.apply(next.rules[c])
	}
	for _, c := range Categories {
		if errValidate := next.rules[c].Validate(); errValidate != nil {
			return base, fmt.Errorf("%s: %w", c, errValidate)
		}
	}
	return next, nil
}

// StaleState describes unreachable configuration sources.
type StaleState struct {
	Err   error
	Since time.Time
	// Sources names every source currently unreachable, sorted.
	Sources []string
}

// ConfigStore holds the current snapshot. Reads are lock-free; writers serialize.
type ConfigStore struct {
	current  atomic.Pointer[Snapshot]
	mu       sync.Mutex
	clock    clock.Clock
	observer Observer

	staleMu sync.Mutex
	stale   map[string]StaleState
}

// ConfigOption customizes a ConfigStore.
type ConfigOption func(*ConfigStore)

// WithConfigClock sets the clock used to timestamp stale conditions.
func WithConfigClock(c clock.Clock) ConfigOption {
	return func(s *ConfigStore) { s.clock = clock.OrSystem(c) }
}

// WithConfigObserver sets the observer notified of stale conditions.
func WithConfigObserver(o Observer) ConfigOption {
	return func(s *ConfigStore) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewConfigStore constructs a store seeded with initial.
func NewConfigStore(initial Snapshot, opts ...ConfigOption) (*ConfigStore, error) {
	for _, c := range Categories {
		if errValidate := initial.rules[c].Validate(); errValidate != nil {
			return nil, fmt.Errorf("%s: %w", c, errValidate)
		}
	}
	s := &ConfigStore{
		clock:    clock.System{},
		observer: NopObserver{},
		stale:    make(map[string]StaleState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&initial)
	return s, nil
}

// Current returns the snapshot in effect.
func (s *ConfigStore) Current() Snapshot {
	return *s.current.Load()
}

// Reload merges overrides into the current snapshot and swaps it in atomically.
// On error the previous snapshot stays in effect.
func (s *ConfigStore) Reload(overrides Overrides) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next, errMerge := overrides.Merge(*prev)
	if errMerge != nil {
		return *prev, errMerge
	}
	if next == *prev {
		return next, nil
	}
	s.current.Store(&next)
	return next, nil
}

// MarkStale records that source could not be read. The first failure of a
// source fixes its Since; later failures only replace the error.
func (s *ConfigStore) MarkStale(source string, err error) {
	if err == nil {
		err = ErrConfigUnavailable
	}
	wrapped := fmt.Errorf("%w: %s: %w", ErrConfigUnavailable, source, err)

	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	state := StaleState{Err: wrapped, Since: s.clock.Now()}
	if prev, ok := s.stale[source]; ok {
		state.Since = prev.Since
	}
	s.stale[source] = state
	s.observer.ObserveConfigStale(s.staleLocked().Err)
}

// ClearStale records that source was read successfully.
func (s *ConfigStore) ClearStale(source string) {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	if _, ok := s.stale[source]; !ok {
		return
	}
	delete(s.stale, source)
	s.observer.ObserveConfigStale(s.staleLocked().Err)
}

// Stale returns the combined stale condition of every unreachable source.
func (s *ConfigStore) Stale() (StaleState, bool) {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	state := s.staleLocked()
	return state, len(state.Sources) > 0
}

func (s *ConfigStore) staleLocked() StaleState {
	if len(s.stale) == 0 {
		return StaleState{}
	}
	var out StaleState
	for source := range s.stale {
		out.Sources = append(out.Sources, source)
	}
	sort.Strings(out.Sources)
	errs := make([]error, 0, len(out.Sources))
	for _, source := range out.Sources {
		state := s.stale[source]
		errs = append(errs, state.Err)
		if out.Since.IsZero() || state.Since.Before(out.Since) {
			out.Since = state.Since
		}
	}
	out.Err = errors.Join(errs...)
	return out
}
