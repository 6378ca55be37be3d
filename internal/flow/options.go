package flow

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTimeout is the inactivity window after which a non-terminal
// session is treated as not found.
const DefaultSessionTimeout = 30 * time.Minute

// Options configures the controller and orchestrator.
type Options struct {
	SessionTimeout time.Duration
	MaxSessionAge  time.Duration
	SafetyTimeout  time.Duration
	Now            func() time.Time
	NewID          func() string
}

// Option sets a field on Options.
type Option func(*Options)

// WithSessionTimeout overrides the inactivity expiry window.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.SessionTimeout = d
	}
}

// WithMaxSessionAge overrides the TIME_BOUNDED session age ceiling.
func WithMaxSessionAge(d time.Duration) Option {
	return func(o *Options) {
		o.MaxSessionAge = d
	}
}

// WithSafetyTimeout bounds each Safety Validator call.
func WithSafetyTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.SafetyTimeout = d
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// WithIDGenerator overrides how session and message ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(o *Options) {
		o.NewID = newID
	}
}

func applyOptions(opts []Option) Options {
	o := Options{
		SessionTimeout: DefaultSessionTimeout,
		MaxSessionAge:  DefaultMaxSessionAge,
		SafetyTimeout:  DefaultValidatorTimeout,
		Now:            time.Now,
		NewID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}
