package safety

import (
	"context"
	"fmt"
	"time"
)

// Chain runs validators in order. A blocking verdict stops the chain and is
// returned at once. Any error aborts the chain with that error. Otherwise the
// most severe verdict is returned, safe only if every validator said safe.
type Chain []Validator

// Validate implements Validator.
func (c Chain) Validate(ctx context.Context, text string, sc Context) (Verdict, error) {
	out := Safe()
	for i, v := range c {
		verdict, err := v.Validate(ctx, text, sc)
		if err != nil {
			return Verdict{}, fmt.Errorf("validator %d: %w", i, err)
		}
		if verdict.IsBlocking() {
			return verdict, nil
		}
		out = Worse(out, verdict)
	}
	return out, nil
}

type timeoutValidator struct {
	next    Validator
	timeout time.Duration
}

// WithTimeout bounds every call to v by d, returning ErrValidatorTimeout when
// v does not answer in time, even if v ignores its context.
func WithTimeout(v Validator, d time.Duration) Validator {
	if d <= 0 {
		return v
	}
	return &timeoutValidator{next: v, timeout: d}
}

type result struct {
	verdict Verdict
	err     error
}

func (t *timeoutValidator) Validate(ctx context.Context, text string, sc Context) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		v, err := t.next.Validate(ctx, text, sc)
		done <- result{verdict: v, err: err}
	}()

	select {
	case r := <-done:
		return r.verdict, r.err
	case <-ctx.Done():
		return Verdict{}, fmt.Errorf("%w after %s", ErrValidatorTimeout, t.timeout)
	}
}
