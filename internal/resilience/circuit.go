package resilience

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses an outbound call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	// HalfOpen lets a single trial call through after the cool-off.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s State) gauge() float64 {
	switch s {
	case Closed, Open, HalfOpen:
		return float64(s)
	default:
		return -1
	}
}

// Outcome classifies one upstream call for the breaker.
type Outcome int

const (
	Success Outcome = iota
	Failure
	// Neutral calls say nothing about upstream health: the provider refused
	// the receipt itself, or the caller went away first.
	Neutral
)

// ProviderOutcome maps the result of a provider call to an Outcome. Transport
// errors, 429 and 5xx count against the provider. Other 4xx responses reject
// the upload, not the provider, and leave the breaker alone.
func ProviderOutcome(ctx context.Context, status int, err error) Outcome {
	switch {
	case err != nil && ctx.Err() != nil:
		return Neutral
	case err != nil:
		return Failure
	case retryable(status):
		return Failure
	case status >= http.StatusBadRequest:
		return Neutral
	default:
		return Success
	}
}

type window struct {
	ok, failed int
}

func (w window) total() int { return w.ok + w.failed }

// Breaker opens when the failure ratio over the current window reaches the
// threshold once minCalls outcomes have been seen.
type Breaker struct {
	mu        sync.Mutex
	state     State
	counts    window
	trial     bool
	minCalls  int
	ratio     float64
	openFor   time.Duration
	openUntil time.Time
	target    string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewBreaker builds a closed breaker. Out-of-range arguments fall back to one
// call, a 0.5 ratio and a 30s cool-off.
func NewBreaker(minCalls int, ratio float64, openFor time.Duration) *Breaker {
	if minCalls <= 0 {
		minCalls = 1
	}
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		minCalls: minCalls,
		ratio:    ratio,
		openFor:  openFor,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
}

// WithTarget names the upstream in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishLocked()
	return b
}

// WithLogger sets the fallback logger for transitions. A logger on the call
// context wins.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// State reports the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may go out. Once the cool-off has elapsed the
// first caller gets the trial slot and everyone else is refused until the
// trial is recorded.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Before(b.openUntil) {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
		b.trial = true
		return true
	default:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
}

// Record feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Record(ctx context.Context, outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.trial = false
		switch outcome {
		case Success:
			b.moveLocked(ctx, Closed)
		case Failure:
			b.moveLocked(ctx, Open)
		}
		return
	}

	switch outcome {
	case Success:
		b.counts.ok++
	case Failure:
		b.counts.failed++
	default:
		return
	}
	total := b.counts.total()
	if total < b.minCalls {
		return
	}
	if float64(b.counts.failed)/float64(total) >= b.ratio {
		b.moveLocked(ctx, Open)
		return
	}
	if total > 2*b.minCalls {
		// Halve the window so old successes do not mask a new outage.
		b.counts = window{ok: (b.counts.ok + 1) / 2, failed: (b.counts.failed + 1) / 2}
	}
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	b.counts = window{}
	if next == Open {
		b.openUntil = b.now().Add(b.openFor)
	}
	b.publishLocked()
	if prev == next {
		return
	}

	label := b.label()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	}
	if next == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}
	logger := b.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	evt := logger.Info().Str("target", label).Str("from_state", prev.String()).Str("to_state", next.String())
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		evt = evt.Str("trace_id", span.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishLocked() {
	if BreakerState != nil {
		BreakerState.WithLabelValues(b.label()).Set(b.state.gauge())
	}
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}
