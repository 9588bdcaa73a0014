package reflection

import "time"

// ReflectionKind tags what a reflection row represents.
type ReflectionKind string

const (
	KindUserInput      ReflectionKind = "user_input"
	KindAnalysis       ReflectionKind = "analysis"
	KindMemoryRecall   ReflectionKind = "memory_recall"
	KindStrategy       ReflectionKind = "strategy"
	KindRefinement     ReflectionKind = "refinement"
	KindNoiseInjection ReflectionKind = "noise_injection"
)

// InsightKind is the six-valued memory insight taxonomy.
type InsightKind string

const (
	InsightPatternRecognition InsightKind = "pattern_recognition"
	InsightLearning           InsightKind = "learning"
	InsightOptimization       InsightKind = "optimization"
	InsightAdaptation         InsightKind = "adaptation"
	InsightCorrection         InsightKind = "correction"
	InsightEnhancement        InsightKind = "enhancement"
)

// InsightKinds lists the taxonomy in a fixed order.
var InsightKinds = []InsightKind{
	InsightPatternRecognition,
	InsightLearning,
	InsightOptimization,
	InsightAdaptation,
	InsightCorrection,
	InsightEnhancement,
}

// State is the lifecycle position of a run.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateFinalizing State = "finalizing"
	StateComplete   State = "complete"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Session is one reflection run's bookkeeping.
type Session struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Objective        string     `json:"objective"`
	Active           bool       `json:"active"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	TotalReflections int        `json:"total_reflections"`
	ImprovementRate  float64    `json:"improvement_rate"`
}

// Reflection is an append-only cycle artifact. Cycle 0 is the user input.
type Reflection struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Cycle     int            `json:"cycle"`
	Kind      ReflectionKind `json:"kind"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MemoryInsight is an append-only note connected to cycle indices.
type MemoryInsight struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id"`
	Kind        InsightKind `json:"kind"`
	Content     string      `json:"content"`
	Connections []int       `json:"connections"`
	CreatedAt   time.Time   `json:"created_at"`
}

// GeneratedContent is the streamed final output of a run.
type GeneratedContent struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	ReflectionID  string    `json:"reflection_id"`
	Content       string    `json:"content"`
	IsComplete    bool      `json:"is_complete"`
	Quality       float64   `json:"quality"`
	Coherence     float64   `json:"coherence"`
	GoalAlignment float64   `json:"goal_alignment"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
