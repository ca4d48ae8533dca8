// internal/provision/wizard.go
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
)

// StepAction is what the engine does with a located element.
type StepAction int

const (
	// ActionClick activates the element.
	ActionClick StepAction = iota
	// ActionType fills the element with the step's Input text.
	ActionType
)

// Step is one declarative unit of the creation wizard: an intent, an action,
// and an optional advance intent (the "next" button) clicked afterwards.
type Step struct {
	Intent  Intent
	Action  StepAction
	Input   string
	Advance *Intent

	// Mandatory steps abort the workflow when unresolved; best-effort steps
	// record a soft failure and the engine moves on.
	Mandatory bool

	// SettleAfter waits for the page to settle once the step completed,
	// for steps that trigger navigation or slide transitions.
	SettleAfter bool
}

// Engine executes an ordered step sequence against a page.
type Engine struct {
	logger   *zap.Logger
	locator  *Locator
	stepWait time.Duration
}

func NewEngine(locator *Locator, stepWait time.Duration, logger *zap.Logger) *Engine {
	if stepWait <= 0 {
		stepWait = 15 * time.Second
	}
	return &Engine{
		logger:   logger.Named("wizard"),
		locator:  locator,
		stepWait: stepWait,
	}
}

// Run executes the steps strictly in order. A mandatory step that no
// strategy can resolve returns an error naming the step; best-effort
// failures are logged and skipped.
func (e *Engine) Run(ctx context.Context, page schemas.Page, steps []Step) error {
	for i, step := range steps {
		if err := e.runStep(ctx, page, step); err != nil {
			if errors.Is(err, ErrBrowserDisconnected) || ctx.Err() != nil {
				return err
			}
			if step.Mandatory {
				return fmt.Errorf("step %q unresolved: %w", step.Intent.Name, err)
			}
			e.logger.Warn("Best-effort step skipped.",
				zap.Int("index", i),
				zap.String("step", step.Intent.Name),
				zap.Error(err))
		}
	}
	return nil
}

// runStep resolves the step's intent within the step wait budget, performs
// the action, then resolves and clicks the advance intent if present.
// Transient element-not-yet-rendered failures are retried internally and
// never surfaced.
func (e *Engine) runStep(ctx context.Context, page schemas.Page, step Step) error {
	e.logger.Info("Running wizard step.", zap.String("step", step.Intent.Name))

	match, err := e.resolve(ctx, page, step.Intent)
	if err != nil {
		return err
	}

	switch step.Action {
	case ActionType:
		if err := page.Type(ctx, match.Element.Selector, step.Input); err != nil {
			return e.foldPageErr(err)
		}
	default:
		if err := page.Click(ctx, match.Element.Selector); err != nil {
			return e.foldPageErr(err)
		}
	}

	e.logger.Info("Step action performed.",
		zap.String("step", step.Intent.Name),
		zap.String("strategy", string(match.Strategy)))

	if step.Advance != nil {
		adv, err := e.resolve(ctx, page, *step.Advance)
		if err != nil {
			return fmt.Errorf("advance for %q: %w", step.Intent.Name, err)
		}
		if err := page.Click(ctx, adv.Element.Selector); err != nil {
			return e.foldPageErr(err)
		}
	}

	if step.SettleAfter {
		if err := page.WaitSettled(ctx, e.stepWait); err != nil && (ctx.Err() != nil || errors.Is(err, schemas.ErrPageClosed)) {
			return e.foldPageErr(err)
		}
	}
	return nil
}

// resolve retries the locator until the wait budget is exhausted. SPA slides
// render lazily; the first discovery often lands mid-transition.
func (e *Engine) resolve(ctx context.Context, page schemas.Page, intent Intent) (Match, error) {
	deadline := time.Now().Add(e.stepWait)
	for {
		match, ok, err := e.locator.Find(ctx, page, intent)
		if err != nil {
			return Match{}, e.foldPageErr(err)
		}
		if ok {
			return match, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Match{}, fmt.Errorf("no locator strategy matched intent %q", intent.Name)
		}
		wait := defaultPollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return Match{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (e *Engine) foldPageErr(err error) error {
	if errors.Is(err, schemas.ErrPageClosed) {
		return fmt.Errorf("%w: %v", ErrBrowserDisconnected, err)
	}
	return err
}
