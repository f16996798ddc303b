package runs

import (
	"context"
	"time"
)

// WaitOutcome is what agent.wait reports for a run.
type WaitOutcome struct {
	RunID      string
	Status     string
	SessionKey string
	// Result is set only when Status is completed.
	Result *Result
}

// Completed reports whether the run finished with a result.
func (o WaitOutcome) Completed() bool { return o.Status == string(StatusCompleted) }

// Wait blocks until the run is terminal or timeout elapses. An unknown run id is
// treated as one that has not arrived yet: Wait keeps watching for it and reports
// a timeout echoing the id if it never shows up. The error is non-nil only when
// ctx ends first.
func (r *Registry) Wait(ctx context.Context, runID string, timeout time.Duration) (WaitOutcome, error) {
	if timeout < 0 {
		timeout = 0
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		e, run, arrived := r.lookup(runID)
		if e != nil {
			if run.Status.Terminal() {
				return outcomeFor(run), nil
			}
			select {
			case <-e.done:
				run, _ = r.Get(runID)
				return outcomeFor(run), nil
			case <-timer.C:
				return r.timedOut(runID), nil
			case <-ctx.Done():
				return WaitOutcome{}, ctx.Err()
			}
		}

		select {
		case <-arrived:
		case <-timer.C:
			return r.timedOut(runID), nil
		case <-ctx.Done():
			return WaitOutcome{}, ctx.Err()
		}
	}
}

// timedOut rechecks the run once so that a transition racing the timer still wins.
func (r *Registry) timedOut(runID string) WaitOutcome {
	if run, err := r.Get(runID); err == nil && run.Status.Terminal() {
		return outcomeFor(run)
	}
	return WaitOutcome{RunID: runID, Status: OutcomeTimeout}
}

func outcomeFor(run Run) WaitOutcome {
	out := WaitOutcome{RunID: run.RunID, Status: string(run.Status), SessionKey: run.SessionKey}
	if run.Status == StatusCompleted && run.Result != nil {
		res := *run.Result
		out.Result = &res
	}
	return out
}
