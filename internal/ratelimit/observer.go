package ratelimit

// Observer receives throttle events. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveDecision(res Result)
	ObserveCounterError(category Category, err error)
	// ObserveConfigStale is called with a non-nil error when the configuration
	// source becomes unavailable and with nil once a reload succeeds.
	ObserveConfigStale(err error)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ObserveDecision(Result)              {}
func (NopObserver) ObserveCounterError(Category, error) {}
func (NopObserver) ObserveConfigStale(error)            {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) ObserveDecision(res Result) {
	for _, obs := range o {
		obs.ObserveDecision(res)
	}
}

func (o Observers) ObserveCounterError(category Category, err error) {
	for _, obs := range o {
		obs.ObserveCounterError(category, err)
	}
}

func (o Observers) ObserveConfigStale(err error) {
	for _, obs := range o {
		obs.ObserveConfigStale(err)
	}
}
