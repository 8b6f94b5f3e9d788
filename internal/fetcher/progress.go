package fetcher

import "time"

// ProgressPhase represents the current fetch phase
type ProgressPhase string

const (
	PhaseWalking   ProgressPhase = "walking"
	PhaseResolving ProgressPhase = "resolving"
)

// Progress represents the current fetch progress
type Progress struct {
	Phase       ProgressPhase
	Current     int       // Pages fetched while walking, threads handled while resolving
	Total       int       // Threads to resolve; 0 while walking
	Found       int       // Links discovered so far
	Fraction    float64   // Walking only: how far the walk got through the date window (0..1)
	Description string    // Human-readable description
	StartedAt   time.Time // When this phase started (for ETA calculation)
}

// ProgressCallback is called with progress updates during a run
type ProgressCallback func(Progress)

// ETA returns the estimated time remaining based on current progress
func (p Progress) ETA() time.Duration {
	if p.Current == 0 || p.Total == 0 || p.StartedAt.IsZero() {
		return 0
	}
	elapsed := time.Since(p.StartedAt)
	rate := float64(p.Current) / elapsed.Seconds()
	if rate <= 0 {
		return 0
	}
	remaining := p.Total - p.Current
	return time.Duration(float64(remaining)/rate) * time.Second
}

// Percentage returns the completion percentage (0-100)
func (p Progress) Percentage() int {
	if p.Phase == PhaseWalking {
		return int(p.Fraction * 100)
	}
	if p.Total == 0 {
		return 0
	}
	return (p.Current * 100) / p.Total
}
