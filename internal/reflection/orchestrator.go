package reflection

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/reflecta/internal/learning"
	"github.com/nidhogg/reflecta/internal/reference"
	"go.uber.org/zap"
)

// Options tunes the reflection loop.
type Options struct {
	DefaultCycles     int
	MaxCycles         int
	CycleDelay        time.Duration
	DeltaDelayMin     time.Duration
	DeltaDelayMax     time.Duration
	StepTimeout       time.Duration
	RecallWindow      int
	MaxConcurrentRuns int
	// Seed fixes every run's random source when non-zero.
	Seed     int64
	Learning learning.Config
}

// DefaultOptions returns the interactive pacing.
func DefaultOptions() Options {
	return Options{
		DefaultCycles:     3,
		MaxCycles:         50,
		CycleDelay:        2 * time.Second,
		DeltaDelayMin:     100 * time.Millisecond,
		DeltaDelayMax:     300 * time.Millisecond,
		StepTimeout:       30 * time.Second,
		RecallWindow:      10,
		MaxConcurrentRuns: 8,
		Learning:          learning.DefaultConfig(),
	}
}

// BatchOptions returns DefaultOptions without any pacing delays.
func BatchOptions() Options {
	o := DefaultOptions()
	o.CycleDelay = 0
	o.DeltaDelayMin = 0
	o.DeltaDelayMax = 0
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxCycles <= 0 {
		o.MaxCycles = d.MaxCycles
	}
	if o.DefaultCycles <= 0 {
		o.DefaultCycles = d.DefaultCycles
	}
	if o.RecallWindow <= 0 {
		o.RecallWindow = d.RecallWindow
	}
	if o.MaxConcurrentRuns <= 0 {
		o.MaxConcurrentRuns = d.MaxConcurrentRuns
	}
	if o.DeltaDelayMax < o.DeltaDelayMin {
		o.DeltaDelayMax = o.DeltaDelayMin
	}
	return o
}

// StartRequest describes one run. SessionID resumes an existing session;
// empty creates a new one.
type StartRequest struct {
	SessionID  string  `json:"session_id,omitempty"`
	Name       string  `json:"name"`
	Objective  string  `json:"objective"`
	Input      string  `json:"input"`
	Cycles     int     `json:"cycles"`
	NoiseLevel float64 `json:"noise_level"`
}

func (r StartRequest) validate(maxCycles int) error {
	switch {
	case strings.TrimSpace(r.Input) == "":
		return fmt.Errorf("%w: input is empty", ErrMalformedConfig)
	case r.Cycles < 0:
		return fmt.Errorf("%w: cycles %d is negative", ErrMalformedConfig, r.Cycles)
	case r.Cycles > maxCycles:
		return fmt.Errorf("%w: cycles %d exceeds %d", ErrMalformedConfig, r.Cycles, maxCycles)
	case math.IsNaN(r.NoiseLevel) || r.NoiseLevel < 0 || r.NoiseLevel > 1:
		return fmt.Errorf("%w: noise level %v outside [0,1]", ErrMalformedConfig, r.NoiseLevel)
	}
	return nil
}

// Result is what a finished run reports.
type Result struct {
	Session         *Session              `json:"session"`
	State           State                 `json:"state"`
	CyclesCompleted int                   `json:"cycles_completed"`
	Content         *GeneratedContent     `json:"content,omitempty"`
	Learning        *learning.CycleResult `json:"learning,omitempty"`
}

// Run is the handle of a started loop.
type Run struct {
	session *Session
	req     StartRequest
	rng     *rand.Rand
	engine  *learning.Engine
	input   *Reflection

	stopOnce sync.Once
	stop     chan struct{}
	state    atomic.Value
	done     chan struct{}

	result *Result
	err    error
}

// SessionID returns the session this run drives.
func (r *Run) SessionID() string { return r.session.ID }

// Stop asks the loop to finish after the current cycle.
func (r *Run) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *Run) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// State reports the lifecycle position.
func (r *Run) State() State { return r.state.Load().(State) }

func (r *Run) setState(s State) { r.state.Store(s) }

// Wait blocks until the run finishes. If ctx ends first the run is asked
// to stop and Wait still returns its final result.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		r.Stop()
		<-r.done
	}
	return r.result, r.err
}

// Orchestrator runs reflection loops, at most one per session.
type Orchestrator struct {
	store     Store
	pub       Publisher
	ref       reference.Generator
	recallers []Recaller
	opts      Options

	mu    sync.Mutex
	runs  map[string]*Run
	seeds *rand.Rand
	pool  chan struct{}

	logger *zap.Logger
}

// New creates an orchestrator. ref may be nil, in which case the
// deterministic template is used.
func New(store Store, pub Publisher, ref reference.Generator, opts Options, logger *zap.Logger) *Orchestrator {
	opts = opts.withDefaults()
	if ref == nil {
		ref = reference.Template{}
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Orchestrator{
		store:  store,
		pub:    pub,
		ref:    ref,
		opts:   opts,
		runs:   make(map[string]*Run),
		seeds:  rand.New(rand.NewSource(seed)),
		pool:   make(chan struct{}, opts.MaxConcurrentRuns),
		logger: logger,
	}
}

// AddRecaller registers an association source for the memory-recall step.
func (o *Orchestrator) AddRecaller(r Recaller) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recallers = append(o.recallers, r)
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options { return o.opts }

// Run starts a loop and waits for it to finish.
func (o *Orchestrator) Run(ctx context.Context, req StartRequest) (*Result, error) {
	r, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Wait(ctx)
}

// Start validates req, creates or reactivates the session and launches the
// loop in the background. Rejected requests leave no state behind.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Run, error) {
	if err := req.validate(o.opts.MaxCycles); err != nil {
		return nil, &PhaseError{Phase: PhaseValidate, SessionID: req.SessionID, Err: err}
	}

	var sess *Session
	if req.SessionID != "" {
		cctx, cancel := o.stepContext(ctx)
		existing, err := o.store.GetSession(cctx, req.SessionID)
		cancel()
		if err != nil {
			return nil, &PhaseError{Phase: PhaseStart, SessionID: req.SessionID, Err: storeErr(err)}
		}
		sess = existing
	} else {
		sess = &Session{
			ID:        uuid.New().String(),
			Name:      req.Name,
			Objective: req.Objective,
		}
	}

	o.mu.Lock()
	if _, busy := o.runs[sess.ID]; busy {
		o.mu.Unlock()
		return nil, &PhaseError{Phase: PhaseStart, SessionID: sess.ID, Err: ErrAlreadyRunning}
	}
	r := &Run{
		session: sess,
		req:     req,
		rng:     o.runRand(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.setState(StateIdle)
	o.runs[sess.ID] = r
	o.mu.Unlock()

	if err := o.activate(ctx, r, req.SessionID == ""); err != nil {
		o.release(sess.ID)
		return nil, &PhaseError{Phase: PhaseStart, SessionID: sess.ID, Err: storeErr(err)}
	}

	o.logger.Info("reflection loop started",
		zap.String("session", sess.ID),
		zap.Int("cycles", req.Cycles),
		zap.Float64("noise", req.NoiseLevel))

	go o.execute(context.WithoutCancel(ctx), r)
	return r, nil
}

// Stop asks the active loop of sessionID to finish early.
func (o *Orchestrator) Stop(sessionID string) error {
	o.mu.Lock()
	r, ok := o.runs[sessionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active loop for session %s: %w", sessionID, ErrNotFound)
	}
	r.Stop()
	o.logger.Info("reflection loop stop requested", zap.String("session", sessionID))
	return nil
}

// Active lists the sessions with a running loop.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) activate(ctx context.Context, r *Run, fresh bool) error {
	cctx, cancel := o.stepContext(ctx)
	defer cancel()
	r.session.Active = true
	r.session.StartedAt = time.Now()
	r.session.EndedAt = nil
	if fresh {
		return o.store.CreateSession(cctx, r.session)
	}
	if r.req.Objective != "" {
		r.session.Objective = r.req.Objective
	}
	return o.store.UpdateSession(cctx, r.session)
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	delete(o.runs, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) runRand() *rand.Rand {
	return rand.New(rand.NewSource(o.seeds.Int63()))
}

func (o *Orchestrator) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.opts.StepTimeout)
}

func (o *Orchestrator) execute(ctx context.Context, r *Run) {
	defer close(r.done)
	defer o.release(r.session.ID)

	o.pool <- struct{}{}
	defer func() { <-o.pool }()

	res, err := o.loop(ctx, r)
	if err != nil {
		r.setState(StateFailed)
		o.abandon(ctx, r)
		o.logger.Error("reflection loop failed",
			zap.String("session", r.session.ID), zap.Error(err))
		r.err = err
		return
	}
	r.result = res
	o.logger.Info("reflection loop finished",
		zap.String("session", r.session.ID),
		zap.String("state", string(res.State)),
		zap.Int("cycles", res.CyclesCompleted),
		zap.Int("reflections", r.session.TotalReflections))
}

// abandon marks a failed session inactive. The store may be the cause of
// the failure, so errors are only logged.
func (o *Orchestrator) abandon(ctx context.Context, r *Run) {
	cctx, cancel := o.stepContext(ctx)
	defer cancel()
	now := time.Now()
	r.session.Active = false
	r.session.EndedAt = &now
	if err := o.store.UpdateSession(cctx, r.session); err != nil {
		o.logger.Warn("could not close failed session",
			zap.String("session", r.session.ID), zap.Error(err))
	}
}

func (o *Orchestrator) loop(ctx context.Context, r *Run) (*Result, error) {
	r.setState(StateRunning)
	sid := r.session.ID

	in, err := o.appendReflection(ctx, r, 0, KindUserInput, r.req.Input,
		map[string]any{"objective": r.session.Objective, "noise_level": r.req.NoiseLevel})
	if err != nil {
		return nil, &PhaseError{Phase: PhaseStart, SessionID: sid, Err: err}
	}
	r.input = in

	r.engine = learning.NewEngine(sid, o.opts.Learning, o.store, r.rng, o.logger)
	bctx, cancel := o.stepContext(ctx)
	err = r.engine.Bootstrap(bctx)
	cancel()
	if err != nil {
		return nil, &PhaseError{Phase: PhaseBootstrap, SessionID: sid, Err: storeErr(err)}
	}

	res := &Result{Session: r.session}
	for c := 1; c <= r.req.Cycles; c++ {
		if r.stopping() {
			break
		}
		lr, err := o.cycle(ctx, r, c)
		if err != nil {
			return nil, err
		}
		res.CyclesCompleted = c
		res.Learning = lr
		if c < r.req.Cycles && !r.stopping() {
			o.pause(ctx, r, o.opts.CycleDelay)
		}
	}
	stopped := r.stopping() && res.CyclesCompleted < r.req.Cycles

	content, err := o.finalize(ctx, r)
	if err != nil {
		return nil, err
	}
	res.Content = content

	cctx, cancel := o.stepContext(ctx)
	defer cancel()
	now := time.Now()
	r.session.Active = false
	r.session.EndedAt = &now
	if err := o.store.UpdateSession(cctx, r.session); err != nil {
		return nil, &PhaseError{Phase: PhaseFinalize, SessionID: sid, Err: storeErr(err)}
	}

	res.State = StateComplete
	if stopped {
		res.State = StateStopped
	}
	r.setState(res.State)
	return res, nil
}

// pause sleeps for d, waking early on stop.
func (o *Orchestrator) pause(ctx context.Context, r *Run, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-r.stop:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) appendReflection(ctx context.Context, r *Run, cycle int, kind ReflectionKind, content string, meta map[string]any) (*Reflection, error) {
	ref := &Reflection{
		ID:        uuid.New().String(),
		SessionID: r.session.ID,
		Cycle:     cycle,
		Kind:      kind,
		Content:   content,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
	cctx, cancel := o.stepContext(ctx)
	defer cancel()
	if err := o.store.AppendReflection(cctx, ref); err != nil {
		return nil, storeErr(err)
	}
	r.session.TotalReflections++
	o.publishReflection(ctx, ref)
	return ref, nil
}

func (o *Orchestrator) activeRecallers() []Recaller {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Recaller(nil), o.recallers...)
}
