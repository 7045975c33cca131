package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/af-corp/hearth/internal/types"
)

const defaultMaxParallel = 4

// Doer is anything that can serve one Call.
type Doer interface {
	Dispatch(ctx context.Context, call Call) (*types.BackendResult, error)
}

// Outcome is the result of one call in a batch. Exactly one of Result and
// Err is set.
type Outcome struct {
	Call     Call
	Result   *types.BackendResult
	Err      error
	Duration time.Duration
}

// Executor runs independent calls concurrently under one batch deadline.
type Executor struct {
	doer        Doer
	maxParallel int
}

func NewExecutor(doer Doer, maxParallel int) *Executor {
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	return &Executor{doer: doer, maxParallel: maxParallel}
}

type indexed struct {
	i   int
	out Outcome
}

// Execute returns one Outcome per call, in call order. Calls still running
// at the deadline are reported as timed-out failures; one call's failure
// never cancels the others.
func (e *Executor) Execute(ctx context.Context, calls []Call, deadline time.Duration) []Outcome {
	outcomes := make([]Outcome, len(calls))
	if len(calls) == 0 {
		return outcomes
	}

	bctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make(chan indexed, len(calls))
	var g errgroup.Group
	g.SetLimit(e.maxParallel)

	go func() {
		for i := range calls {
			g.Go(func() error {
				if bctx.Err() != nil {
					return nil
				}
				start := time.Now()
				res, err := e.doer.Dispatch(bctx, calls[i])
				results <- indexed{i: i, out: Outcome{Call: calls[i], Result: res, Err: err, Duration: time.Since(start)}}
				return nil
			})
		}
	}()

	done := make([]bool, len(calls))
	for received := 0; received < len(calls); received++ {
		select {
		case r := <-results:
			outcomes[r.i] = r.out
			done[r.i] = true
		case <-bctx.Done():
			received = len(calls)
		}
	}

	for i := range calls {
		if done[i] {
			continue
		}
		outcomes[i] = Outcome{
			Call:     calls[i],
			Err:      &types.UpstreamError{Backend: calls[i].Describe(), Timeout: true, Err: context.DeadlineExceeded},
			Duration: deadline,
		}
	}
	return outcomes
}
