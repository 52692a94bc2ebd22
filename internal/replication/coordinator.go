package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWriteTimeout bounds a single target attempt.
const DefaultWriteTimeout = 30 * time.Second

// WriteObserver receives one callback per target attempt.
type WriteObserver interface {
	ObserveTargetWrite(target string, err error, elapsed time.Duration)
}

// Attempt is the result of writing one row to one target.
type Attempt struct {
	Target  string
	Err     error
	Elapsed time.Duration
}

// Outcome aggregates the attempts of one Write call, in target order.
type Outcome struct {
	Attempts  []Attempt
	Succeeded int
}

// Total returns the number of targets attempted.
func (o Outcome) Total() int { return len(o.Attempts) }

// Failed returns the attempts that did not succeed.
func (o Outcome) Failed() []Attempt {
	var out []Attempt
	for _, a := range o.Attempts {
		if a.Err != nil {
			out = append(out, a)
		}
	}
	return out
}

// Err is nil when every target succeeded, a *PartialWriteFailure when some
// did, and a *WriteFailure when none did.
func (o Outcome) Err() error {
	switch {
	case o.Succeeded == o.Total():
		return nil
	case o.Succeeded == 0:
		return &WriteFailure{Failed: o.Failed()}
	default:
		return &PartialWriteFailure{Failed: o.Failed(), Succeeded: o.Succeeded, Total: o.Total()}
	}
}

// PartialWriteFailure reports that some, but not all, targets accepted a row.
type PartialWriteFailure struct {
	Failed    []Attempt
	Succeeded int
	Total     int
}

func (e *PartialWriteFailure) Error() string {
	return fmt.Sprintf("partial write: %d of %d targets succeeded (%s)", e.Succeeded, e.Total, describe(e.Failed))
}

// WriteFailure reports that no target accepted a row.
type WriteFailure struct {
	Failed []Attempt
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write failed on every target (%s)", describe(e.Failed))
}

// Unwrap exposes the per-target errors to errors.Is / errors.As.
func (e *WriteFailure) Unwrap() []error { return unwrapAll(e.Failed) }

// Unwrap exposes the per-target errors to errors.Is / errors.As.
func (e *PartialWriteFailure) Unwrap() []error { return unwrapAll(e.Failed) }

func unwrapAll(attempts []Attempt) []error {
	out := make([]error, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Err)
	}
	return out
}

func describe(attempts []Attempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Target, a.Err))
	}
	return strings.Join(parts, "; ")
}

// Coordinator executes one insert against every target with per-target
// failure isolation. It never retries.
type Coordinator struct {
	targets  []Target
	logger   *zap.Logger
	observer WriteObserver
	timeout  time.Duration
	parallel bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used to report per-target failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o WriteObserver) Option { return func(c *Coordinator) { c.observer = o } }

// WithTimeout bounds each target attempt; zero or negative disables the bound.
func WithTimeout(d time.Duration) Option { return func(c *Coordinator) { c.timeout = d } }

// WithParallel attempts targets concurrently instead of in order.
func WithParallel(p bool) Option { return func(c *Coordinator) { c.parallel = p } }

// NewCoordinator returns a coordinator over targets.
func NewCoordinator(targets []Target, opts ...Option) (*Coordinator, error) {
	if len(targets) == 0 {
		return nil, errors.New("coordinator requires at least one target")
	}
	c := &Coordinator{
		targets: append([]Target(nil), targets...),
		logger:  zap.NewNop(),
		timeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Targets returns the configured targets.
func (c *Coordinator) Targets() []Target { return append([]Target(nil), c.targets...) }

// Write attempts stmt on every target exactly once and reports how many succeeded.
func (c *Coordinator) Write(ctx context.Context, stmt Statement, args []any) Outcome {
	attempts := make([]Attempt, len(c.targets))
	if c.parallel {
		var g errgroup.Group
		for i, t := range c.targets {
			i, t := i, t
			g.Go(func() error {
				attempts[i] = c.attempt(ctx, t, stmt, args)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, t := range c.targets {
			attempts[i] = c.attempt(ctx, t, stmt, args)
		}
	}
	out := Outcome{Attempts: attempts}
	for _, a := range attempts {
		if a.Err == nil {
			out.Succeeded++
		}
	}
	return out
}

func (c *Coordinator) attempt(ctx context.Context, t Target, stmt Statement, args []any) (a Attempt) {
	a.Target = t.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.Err = fmt.Errorf("target panicked: %v", r)
		}
		a.Elapsed = time.Since(start)
		if a.Err != nil {
			c.logger.Warn("target write failed",
				zap.String("target", a.Target),
				zap.String("table", stmt.Table),
				zap.Duration("elapsed", a.Elapsed),
				zap.Error(a.Err))
		}
		if c.observer != nil {
			c.observer.ObserveTargetWrite(a.Target, a.Err, a.Elapsed)
		}
	}()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	a.Err = t.Write(ctx, stmt, args)
	return a
}

// AcceptancePolicy decides whether a write outcome admits the row to the session.
type AcceptancePolicy string

const (
	// AcceptIfAny admits a row when at least one target succeeded. Replicas may diverge.
	AcceptIfAny AcceptancePolicy = "accept-if-any"
	// AcceptIfAll admits a row only when every target succeeded.
	AcceptIfAll AcceptancePolicy = "accept-if-all"
)

// ParsePolicy maps a configuration value to a policy; empty selects AcceptIfAny.
func ParsePolicy(s string) (AcceptancePolicy, error) {
	switch AcceptancePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AcceptIfAny:
		return AcceptIfAny, nil
	case AcceptIfAll:
		return AcceptIfAll, nil
	default:
		return "", fmt.Errorf("unknown acceptance policy %q", s)
	}
}

// Accepts applies the policy to o.
func (p AcceptancePolicy) Accepts(o Outcome) bool {
	if p == AcceptIfAll {
		return o.Total() > 0 && o.Succeeded == o.Total()
	}
	return o.Succeeded > 0
}
