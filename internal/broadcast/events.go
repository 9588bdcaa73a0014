package broadcast

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the four event cases.
type Kind string

const (
	KindReflection  Kind = "reflection"
	KindInsight     Kind = "memory_insight"
	KindGeneration  Kind = "generation"
	KindPerformance Kind = "performance_update"
)

// Event is the closed set of notifications the reflection loop emits.
// Dispatch with a type switch over the four concrete cases.
type Event interface {
	Kind() Kind
	Session() string
	sealed()
}

// ReflectionEvent announces a newly created reflection.
type ReflectionEvent struct {
	SessionID      string         `json:"session_id"`
	Cycle          int            `json:"cycle"`
	ReflectionKind string         `json:"kind"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// InsightEvent announces a newly synthesized memory insight.
type InsightEvent struct {
	SessionID   string    `json:"session_id"`
	InsightKind string    `json:"kind"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Connections []int     `json:"connections"`
}

// GenerationMetrics accompanies every generation delta.
type GenerationMetrics struct {
	Words         int     `json:"words"`
	Coherence     float64 `json:"coherence"`
	GoalAlignment float64 `json:"goal_alignment"`
}

// GenerationEvent carries the content generated so far.
type GenerationEvent struct {
	SessionID  string            `json:"session_id"`
	Content    string            `json:"content"`
	IsComplete bool              `json:"is_complete"`
	Metrics    GenerationMetrics `json:"metrics"`
}

// PerformanceEvent is a per-cycle snapshot. All values are in [0,100]
// except AvgReflectionTime, which is in seconds.
type PerformanceEvent struct {
	SessionID         string  `json:"session_id"`
	Cycle             int     `json:"cycle"`
	ResponseQuality   float64 `json:"response_quality"`
	LearningProgress  float64 `json:"learning_progress"`
	AvgReflectionTime float64 `json:"avg_reflection_time"`
	MemoryUtilization float64 `json:"memory_utilization"`
}

func (ReflectionEvent) Kind() Kind  { return KindReflection }
func (InsightEvent) Kind() Kind     { return KindInsight }
func (GenerationEvent) Kind() Kind  { return KindGeneration }
func (PerformanceEvent) Kind() Kind { return KindPerformance }

func (e ReflectionEvent) Session() string  { return e.SessionID }
func (e InsightEvent) Session() string     { return e.SessionID }
func (e GenerationEvent) Session() string  { return e.SessionID }
func (e PerformanceEvent) Session() string { return e.SessionID }

func (ReflectionEvent) sealed()  {}
func (InsightEvent) sealed()     {}
func (GenerationEvent) sealed()  {}
func (PerformanceEvent) sealed() {}

// Envelope is the wire form of an Event.
type Envelope struct {
	Type    Kind            `json:"type"`
	Session string          `json:"session_id"`
	Data    json.RawMessage `json:"data"`
}

// Marshal encodes ev inside an Envelope.
func Marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{Type: ev.Kind(), Session: ev.Session(), Data: data})
}

// Unmarshal decodes an Envelope back into its concrete Event.
func Unmarshal(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var (
		ev  Event
		err error
	)
	switch env.Type {
	case KindReflection:
		var e ReflectionEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case KindInsight:
		var e InsightEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case KindGeneration:
		var e GenerationEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case KindPerformance:
		var e PerformanceEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.Type, err)
	}
	return ev, nil
}
