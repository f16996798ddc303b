package runs

import "fmt"

// AbortOutcome is what chat.abort reports.
type AbortOutcome struct {
	// Aborted is true when this call moved at least one run to aborted.
	Aborted bool
	RunIDs  []string
}

// Abort cancels one run of a session, or every active run of the session when
// runID is empty. The whole operation holds the registry lock, so a run aborted
// here is what every concurrent or later Wait observes.
func (r *Registry) Abort(sessionKey, runID string) (AbortOutcome, error) {
	if sessionKey == "" {
		return AbortOutcome{}, ErrSessionRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if runID == "" {
		ids := r.activeLocked(sessionKey)
		for _, id := range ids {
			if _, err := r.transitionLocked(id, StatusAborted, nil); err != nil {
				return AbortOutcome{}, fmt.Errorf("abort session %s: %w", sessionKey, err)
			}
		}
		return AbortOutcome{Aborted: len(ids) > 0, RunIDs: ids}, nil
	}

	e, ok := r.runs[runID]
	if !ok || e.run.SessionKey != sessionKey {
		return AbortOutcome{}, fmt.Errorf("abort run %s in session %s: %w", runID, sessionKey, ErrRunNotInSession)
	}
	if e.run.Status.Terminal() {
		return AbortOutcome{Aborted: false, RunIDs: []string{runID}}, nil
	}
	if _, err := r.transitionLocked(runID, StatusAborted, nil); err != nil {
		return AbortOutcome{}, err
	}
	return AbortOutcome{Aborted: true, RunIDs: []string{runID}}, nil
}
