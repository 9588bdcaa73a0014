package reflection

import (
	"context"
	"errors"
	"fmt"

	"github.com/nidhogg/reflecta/internal/reference"
)

var (
	// ErrNotFound reports a referenced session or reflection that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPersistence reports a failed read or write against durable state.
	ErrPersistence = errors.New("persistence failure")
	// ErrMalformedConfig reports a run request rejected before it started.
	ErrMalformedConfig = errors.New("malformed configuration")
	// ErrAlreadyRunning reports a second loop for a session with an active one.
	ErrAlreadyRunning = errors.New("reflection loop already running")
	// ErrReferenceUnavailable is recovered locally and never returned by a run.
	ErrReferenceUnavailable = reference.ErrUnavailable
)

// Phase names the part of a run that failed.
type Phase string

const (
	PhaseValidate     Phase = "validate"
	PhaseStart        Phase = "start"
	PhaseBootstrap    Phase = "bootstrap"
	PhaseAnalysis     Phase = "analysis"
	PhaseMemoryRecall Phase = "memory_recall"
	PhaseStrategy     Phase = "strategy"
	PhaseNoise        Phase = "noise_injection"
	PhaseInsight      Phase = "insight"
	PhaseLearning     Phase = "learning"
	PhaseFinalize     Phase = "finalize"
)

// PhaseError is the structured failure of a run.
type PhaseError struct {
	Phase     Phase
	SessionID string
	Cycle     int
	Err       error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("session %s: %s (cycle %d): %v", e.SessionID, e.Phase, e.Cycle, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// storeErr classifies a store error: not-found passes through, everything
// else, timeouts included, becomes ErrPersistence.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPersistence) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out: %w", ErrPersistence, err)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
