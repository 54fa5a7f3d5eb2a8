package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/router-for-me/throttlegate/internal/clock"
)

const (
	// DefaultCounterTimeout bounds a single counter store call.
	DefaultCounterTimeout = 250 * time.Millisecond
	// expiryMargin keeps a counter alive slightly past its window end.
	expiryMargin = time.Second
	// counterWarnInterval spaces out fail-open warnings.
	counterWarnInterval = 10 * time.Second
)

// Engine decides whether requests are admitted.
type Engine struct {
	config         *ConfigStore
	counters       CounterStore
	classifier     *Classifier
	clock          clock.Clock
	observer       Observer
	failure        FailurePolicy
	counterTimeout time.Duration
	warn           rate.Sometimes
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the clock used by Decide.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = clock.OrSystem(c) }
}

// WithPolicy sets the classification policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.classifier = NewClassifier(p) }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithFailurePolicy sets the counter failure policy.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) { e.failure = p }
}

// WithCounterTimeout bounds each counter store call. Non-positive values disable the bound.
func WithCounterTimeout(d time.Duration) Option {
	return func(e *Engine) { e.counterTimeout = d }
}

// NewEngine constructs an Engine over a configuration store and a counter store.
func NewEngine(config *ConfigStore, counters CounterStore, opts ...Option) (*Engine, error) {
	if config == nil {
		return nil, errors.New("ratelimit: config store is required")
	}
	if counters == nil {
		return nil, errors.New("ratelimit: counter store is required")
	}
	e := &Engine{
		config:         config,
		counters:       counters,
		classifier:     NewClassifier(DefaultPolicy()),
		clock:          clock.System{},
		observer:       NopObserver{},
		failure:        FailOpen,
		counterTimeout: DefaultCounterTimeout,
		warn:           rate.Sometimes{Interval: counterWarnInterval},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the configuration store the engine reads.
func (e *Engine) Config() *ConfigStore { return e.config }

// Classifier returns the engine's classifier.
func (e *Engine) Classifier() *Classifier { return e.classifier }

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Decide evaluates req at the engine clock's current time.
func (e *Engine) Decide(ctx context.Context, req Descriptor, id Identity) Result {
	return e.DecideAt(ctx, req, id, e.clock.Now())
}

// DecideAt evaluates req as of now.
func (e *Engine) DecideAt(ctx context.Context, req Descriptor, id Identity, now time.Time) Result {
	res := e.decide(ctx, req, id, now)
	e.observer.ObserveDecision(res)
	return res
}

func (e *Engine) decide(ctx context.Context, req Descriptor, id Identity, now time.Time) Result {
	cls, ok := e.classifier.Classify(req, id)
	if !ok {
		return Result{Decision: Allow}
	}
	rule := e.config.Current().Rule(cls.Category)
	res := Result{
		Decision:   Allow,
		Classified: true,
		Category:   cls.Category,
		Limit:      rule.Limit,
		Period:     rule.Period,
	}
	if !rule.Enabled {
		return res
	}

	start, end := Window(now, rule.Period)
	res.Key = CounterKey(cls, rule.Period, start)
	res.ResetAt = end

	if ctx == nil {
		ctx = context.Background()
	}
	if e.counterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.counterTimeout)
		defer cancel()
	}
	count, errIncr := e.counters.IncrementAndGet(ctx, res.Key, end.Add(expiryMargin))
	if errIncr != nil {
		res.Err = fmt.Errorf("%w: %w", ErrCounterUnavailable, errIncr)
		e.observer.ObserveCounterError(cls.Category, res.Err)
		if e.failure == FailClosed {
			res.Decision = Reject
			return res
		}
		e.warn.Do(func() {
			log.WithError(errIncr).WithField("category", cls.Category.String()).
				Warn("rate limit: counter store failed, admitting request")
		})
		return res
	}

	res.Count = count
	if count > int64(rule.Limit) {
		res.Decision = Reject
	}
	return res
}
