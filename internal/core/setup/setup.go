// Package setup drives subjects through an ordered list of onboarding
// steps. Every inbound action passes the chain's gate first; while a step is
// unfinished the action is swallowed and the step is prompted instead.
package setup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/pagewatch/internal/core/chat"
)

var (
	// ErrNoOptions is returned by Execute when a selection step found nothing
	// to offer. The chain retries a bounded number of times.
	ErrNoOptions = errors.New("no options available")
	// ErrPreconditionUnmet is returned when a step runs before an upstream
	// step finished.
	ErrPreconditionUnmet = errors.New("setup precondition unmet")
)

// Subject identifies who is being onboarded and where prompts go.
type Subject struct {
	ID     int64
	ChatID int64
}

// Step is one stage of onboarding. Applicable and Finished must be derived
// from persisted state so they can be re-evaluated at any time.
type Step interface {
	Name() string
	Applicable(ctx context.Context, s Subject) (bool, error)
	Finished(ctx context.Context, s Subject) (bool, error)
	Execute(ctx context.Context, s Subject) error
}

// Claimer is implemented by steps that consume some inbound actions
// themselves, such as their own button presses.
type Claimer interface {
	Claims(a chat.Action) bool
}

// NoOptionsHandler is implemented by steps that tell the subject when
// there is nothing to choose from after all retries.
type NoOptionsHandler interface {
	NoOptions(ctx context.Context, s Subject) error
}

// Decision is the outcome of the gate.
type Decision int

const (
	// Proceed means the subject is fully onboarded.
	Proceed Decision = iota
	// Claimed means the pending step consumes the action.
	Claimed
	// Suppressed means the action was dropped and the pending step prompted.
	Suppressed
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Claimed:
		return "claimed"
	case Suppressed:
		return "suppressed"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Options bounds retries when a step has nothing to offer.
type Options struct {
	MaxEmptyRetries int
	EmptyRetryDelay time.Duration
	// OnIntercept runs before a pending step is prompted in place of the
	// subject's action.
	OnIntercept func(ctx context.Context, s Subject, a chat.Action, step Step)
}

// Chain is a flat, ordered list of steps. It holds no per-subject state.
type Chain struct {
	steps []Step
	opts  Options
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// NewChain creates a chain over steps in order.
func NewChain(log zerolog.Logger, opts Options, steps ...Step) *Chain {
	if opts.MaxEmptyRetries < 0 {
		opts.MaxEmptyRetries = 0
	}
	return &Chain{
		steps: steps,
		opts:  opts,
		log:   log,
		sleep: sleepCtx,
	}
}

// Steps returns the steps in order.
func (c *Chain) Steps() []Step {
	return c.steps
}

// Pending returns the first applicable, unfinished step.
func (c *Chain) Pending(ctx context.Context, s Subject) (Step, bool, error) {
	for _, step := range c.steps {
		applicable, err := step.Applicable(ctx, s)
		if err != nil {
			return nil, false, fmt.Errorf("step %s applicable: %w", step.Name(), err)
		}
		if !applicable {
			continue
		}

		finished, err := step.Finished(ctx, s)
		if err != nil {
			return nil, false, fmt.Errorf("step %s finished: %w", step.Name(), err)
		}
		if !finished {
			return step, true, nil
		}
	}
	return nil, false, nil
}

// Gate decides what happens to an inbound action. When a step is pending
// and does not claim the action, the step is executed and the action is
// suppressed.
func (c *Chain) Gate(ctx context.Context, s Subject, a chat.Action) (Decision, Step, error) {
	step, ok, err := c.Pending(ctx, s)
	if err != nil {
		return Suppressed, nil, err
	}
	if !ok {
		return Proceed, nil, nil
	}

	if claimer, ok := step.(Claimer); ok && claimer.Claims(a) {
		return Claimed, step, nil
	}

	c.log.Debug().Ctx(ctx).
		Str("step", step.Name()).
		Str("action", string(a.Kind)).
		Msg("action suppressed by pending setup step")

	if c.opts.OnIntercept != nil {
		c.opts.OnIntercept(ctx, s, a, step)
	}

	return Suppressed, step, c.Run(ctx, s, step)
}

// Advance prompts the next pending step, if any. Completion handlers call it
// after persisting their result. It reports whether onboarding is done.
func (c *Chain) Advance(ctx context.Context, s Subject) (bool, error) {
	step, ok, err := c.Pending(ctx, s)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return false, c.Run(ctx, s, step)
}

// Run executes step, retrying while it reports ErrNoOptions. Once retries
// are exhausted the step's NoOptions handler is invoked and nil is returned.
func (c *Chain) Run(ctx context.Context, s Subject, step Step) error {
	for attempt := 0; ; attempt++ {
		err := step.Execute(ctx, s)
		if !errors.Is(err, ErrNoOptions) {
			return err
		}

		if attempt >= c.opts.MaxEmptyRetries {
			c.log.Info().Ctx(ctx).
				Str("step", step.Name()).
				Int("attempts", attempt+1).
				Msg("setup step has no options")

			if h, ok := step.(NoOptionsHandler); ok {
				return h.NoOptions(ctx, s)
			}
			return nil
		}

		if err := c.sleep(ctx, c.opts.EmptyRetryDelay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
