package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/nidhogg/reflecta/internal/broadcast"
	"github.com/nidhogg/reflecta/internal/reflection"
)

var (
	cycleColor   = color.New(color.FgCyan)
	insightColor = color.New(color.FgMagenta)
	perfColor    = color.New(color.FgYellow)
	okColor      = color.New(color.FgGreen)
	headColor    = color.New(color.Bold)
	dimColor     = color.New(color.Faint)
	errorColor   = color.New(color.FgRed)
)

// renderer prints events as they arrive. In quiet mode only a cycle
// progress bar and the final text are shown.
type renderer struct {
	quiet bool
	bar   *progressbar.ProgressBar
}

func newRenderer(quiet bool, cycles int) *renderer {
	r := &renderer{quiet: quiet}
	if quiet {
		r.bar = progressbar.NewOptions(cycles,
			progressbar.OptionSetDescription("  Reflecting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

func (r *renderer) note(format string, args ...any) {
	if r.quiet {
		return
	}
	fmt.Println(dimColor.Sprintf(format, args...))
}

func (r *renderer) render(ev broadcast.Event) {
	switch e := ev.(type) {
	case broadcast.ReflectionEvent:
		if !r.quiet {
			fmt.Printf("%s %s\n", cycleColor.Sprintf("[cycle %d %s]", e.Cycle, e.ReflectionKind), e.Content)
		}
	case broadcast.InsightEvent:
		if !r.quiet {
			fmt.Printf("%s %s\n", insightColor.Sprintf("[insight %s]", e.InsightKind), e.Content)
		}
	case broadcast.PerformanceEvent:
		if r.quiet {
			r.bar.Add(1)
			return
		}
		fmt.Println(perfColor.Sprintf("[cycle %d] quality %.1f, progress %.0f%%, memory %.0f%%",
			e.Cycle, e.ResponseQuality, e.LearningProgress, e.MemoryUtilization))
	case broadcast.GenerationEvent:
		if r.quiet {
			if e.IsComplete {
				r.finish()
				fmt.Println(e.Content)
			}
			return
		}
		fmt.Printf("\r\033[K%s", e.Content)
		if e.IsComplete {
			fmt.Println()
			fmt.Println(okColor.Sprintf("(%d words, coherence %.0f, alignment %.0f)",
				e.Metrics.Words, e.Metrics.Coherence, e.Metrics.GoalAlignment))
		}
	}
}

func (r *renderer) summary(res *reflection.Result) {
	r.finish()
	fmt.Println(headColor.Sprintf("[%s] %d cycles, %d reflections",
		res.State, res.CyclesCompleted, res.Session.TotalReflections))
}

func (r *renderer) finish() {
	if r.bar != nil {
		r.bar.Finish()
	}
}
