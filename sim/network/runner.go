// Package network hosts the live simulation: one runner goroutine per
// hospital driving its engine off the wall clock, and a process-level
// simulator that owns the runners and reacts to the control topics.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/sim"
)

// TickInterval is the wall cadence of the runner loop.
const TickInterval = 100 * time.Millisecond

// Cadences and the advancement slice bound, in engine ticks.
const (
	statsEveryTicks   = 2 * sim.TicksPerMinute
	contextEveryTicks = 60 * sim.TicksPerMinute
	maxSliceTicks     = 10 * sim.TicksPerMinute
)

// SystemContext is the wire record published to system-context: the
// demand factors a hospital's generator is currently running on.
type SystemContext struct {
	HospitalID    sim.HospitalID `json:"hospitalId"`
	Factors       sim.Factors    `json:"factors"`
	EffectiveRate float64        `json:"effectiveRate"`
	DemandFactor  float64        `json:"demandFactor"`
	Timestamp     bus.UTCTime    `json:"timestamp"`
}

// RunnerOpts wire one hospital runner.
type RunnerOpts struct {
	Engine    *sim.Engine
	Generator *sim.Generator
	Provider  sim.ContextProvider
	Publisher sim.Publisher

	// Speed returns the current wall-to-sim ratio: speed s means one
	// wall second advances s simulated minutes.
	Speed func() float64

	// Running gates advancement; while it reports false the clock
	// holds still but commands are still served.
	Running func() bool

	// HorizonTicks bounds the run; 0 means unbounded.
	HorizonTicks int64
}

// Runner drives one hospital's engine: a wall ticker converts elapsed
// real time into simulated ticks, pumps generator arrivals in, and
// publishes the cadenced snapshots.
//
// The engine and generator are owned by the runner goroutine. All
// cross-goroutine access goes through the command channel.
type Runner struct {
	cfg      sim.HospitalConfig
	engine   *sim.Engine
	gen      *sim.Generator
	provider sim.ContextProvider
	pub      sim.Publisher
	speed    func() float64
	running  func() bool
	horizon  int64

	commands chan func()
	done     chan struct{}
	finished chan struct{}
	finOnce  sync.Once

	lastStatsTick   int64
	lastContextTick int64

	mu     sync.RWMutex
	latest sim.HospitalStats
}

// NewRunner builds a runner around an already-constructed engine and
// generator.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Provider == nil {
		opts.Provider = sim.StaticFactors{F: sim.NeutralFactors()}
	}
	if opts.Publisher == nil {
		opts.Publisher = sim.NopPublisher{}
	}
	if opts.Speed == nil {
		opts.Speed = func() float64 { return 1 }
	}
	if opts.Running == nil {
		opts.Running = func() bool { return true }
	}
	r := &Runner{
		cfg:      opts.Engine.Config(),
		engine:   opts.Engine,
		gen:      opts.Generator,
		provider: opts.Provider,
		pub:      opts.Publisher,
		speed:    opts.Speed,
		running:  opts.Running,
		horizon:  opts.HorizonTicks,
		commands: make(chan func(), 64),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	// Cadence anchors below zero so tick 0 publishes immediately.
	r.lastStatsTick = -statsEveryTicks
	r.lastContextTick = -contextEveryTicks
	return r
}

// HospitalID returns the hospital this runner drives.
func (r *Runner) HospitalID() sim.HospitalID { return r.cfg.ID }

// Finished closes once the horizon is reached. Never closes on an
// unbounded run.
func (r *Runner) Finished() <-chan struct{} { return r.finished }

// Start launches the runner goroutine; it exits when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.commands:
			cmd()
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			if !r.running() {
				continue
			}
			r.advance(elapsed)
		}
	}
}

// advance converts elapsed wall time into ticks at the current speed and
// pumps the engine forward in bounded slices, so arrival generation and
// the cadenced publishes interleave with the event flow.
func (r *Runner) advance(elapsed time.Duration) {
	delta := int64(elapsed.Seconds() * r.speed() * float64(sim.TicksPerMinute))
	if delta <= 0 {
		return
	}
	target := r.engine.Clock() + delta
	if r.horizon > 0 && target > r.horizon {
		target = r.horizon
	}

	for r.engine.Clock() < target {
		sliceEnd := r.engine.Clock() + maxSliceTicks
		if sliceEnd > target {
			sliceEnd = target
		}
		for _, ga := range r.gen.NextUpTo(sliceEnd) {
			r.pub.Publish(bus.TopicPatientArrivals, string(r.cfg.ID), ga.Arrival)
			r.engine.Inject(ga.Arrival, sim.StageReception, ga.Tick)
		}
		r.engine.AdvanceTo(sliceEnd)
		r.publishCadenced()
	}

	if r.horizon > 0 && r.engine.Clock() >= r.horizon {
		r.finOnce.Do(func() {
			logrus.Infof("runner %s: horizon reached at tick %d", r.cfg.ID, r.engine.Clock())
			close(r.finished)
		})
	}
}

func (r *Runner) publishCadenced() {
	clock := r.engine.Clock()
	if clock-r.lastStatsTick >= statsEveryTicks {
		r.lastStatsTick = clock
		stats := r.engine.Snapshot(clock)
		r.mu.Lock()
		r.latest = stats
		r.mu.Unlock()
		r.pub.Publish(bus.TopicHospitalStats, string(r.cfg.ID), stats)
	}
	if clock-r.lastContextTick >= contextEveryTicks {
		r.lastContextTick = clock
		r.pub.Publish(bus.TopicSystemContext, string(r.cfg.ID), r.contextSnapshot(clock))
	}
}

func (r *Runner) contextSnapshot(clock int64) SystemContext {
	wall := sim.WallAt(r.engine.ClockStart(), clock)
	factors, err := r.provider.CurrentFactors(wall)
	if err != nil {
		factors = sim.NeutralFactors()
	}
	rate := sim.EffectiveRate(r.cfg.HourlyRate(), factors)
	return SystemContext{
		HospitalID:    r.cfg.ID,
		Factors:       factors,
		EffectiveRate: rate,
		DemandFactor:  rate / r.cfg.HourlyRate(),
		Timestamp:     bus.NewUTCTime(wall),
	}
}

// do runs fn on the runner goroutine; false if the runner has exited.
func (r *Runner) do(fn func()) bool {
	select {
	case r.commands <- fn:
		return true
	case <-r.done:
		return false
	}
}

// Stats returns the most recent published snapshot. Zero before the
// first cadence fires.
func (r *Runner) Stats() sim.HospitalStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// InjectCasualty enters an incident victim at triage, stamping the
// arrival with the current simulated wall time.
func (r *Runner) InjectCasualty(arr sim.PatientArrival) {
	r.do(func() {
		clock := r.engine.Clock()
		arr.ArrivalWallTime = bus.NewUTCTime(sim.WallAt(r.engine.ClockStart(), clock))
		r.engine.InjectEmergency(arr, clock)
	})
}

// InjectDiverted enters a transferred patient at triage after the
// ambulance ride.
func (r *Runner) InjectDiverted(arr sim.PatientArrival, transferMinutes float64) {
	r.do(func() {
		r.engine.InjectDiverted(arr, r.engine.Clock()+sim.MinutesToTicks(transferMinutes))
	})
}

// Divert pulls a holding patient out for transfer. Synchronous: the
// returned arrival is re-stamped for the destination hospital.
func (r *Runner) Divert(patientID string, dest sim.HospitalID) (sim.PatientArrival, bool) {
	type result struct {
		arr sim.PatientArrival
		ok  bool
	}
	reply := make(chan result, 1)
	if !r.do(func() {
		arr, ok := r.engine.Divert(patientID, dest)
		reply <- result{arr, ok}
	}) {
		return sim.PatientArrival{}, false
	}
	select {
	case out := <-reply:
		return out.arr, out.ok
	case <-r.done:
		return sim.PatientArrival{}, false
	}
}

// SetDoctors applies an absolute doctor total to one consult room.
func (r *Runner) SetDoctors(consultID, doctors int) {
	r.do(func() {
		if err := r.engine.SetDoctors(consultID, doctors); err != nil {
			logrus.Warnf("runner %s: set doctors consult %d: %v", r.cfg.ID, consultID, err)
		}
	})
}
