package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/observability"
	"github.com/pathwise-io/pathwise/pkg/store"
	"github.com/pathwise-io/pathwise/pkg/trace"
)

// OverflowPolicy controls what Signal does when the event queue is full.
type OverflowPolicy string

const (
	// DropNewest rejects the incoming event and keeps the queue intact.
	DropNewest OverflowPolicy = "DROP_NEWEST"
	// Block makes Signal wait for queue space or context cancellation.
	Block OverflowPolicy = "BLOCK"
)

// ErrQueueFull is returned by Signal under the DROP_NEWEST policy.
var ErrQueueFull = errors.New("orchestrator: event queue full")

// ErrStopped is returned by Signal after Stop.
var ErrStopped = errors.New("orchestrator: stopped")

// ProcessConfig tunes the event loop.
type ProcessConfig struct {
	QueueSize     int
	Overflow      OverflowPolicy
	SweepInterval time.Duration
	// RateLimit caps processed events per second; zero means unlimited.
	RateLimit     float64
	RateBurst     int
	ShutdownGrace time.Duration
}

func (c *ProcessConfig) withDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.Overflow == "" {
		c.Overflow = DropNewest
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 16
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
}

// ProcessOrchestrator is the event loop over instance cycles: a bounded
// queue feeds one consumer that fans each event out to its affected
// instances, serialized per instance by a keyed mutex.
type ProcessOrchestrator struct {
	inner     *InstanceOrchestrator
	instances store.InstanceRepository
	tracer    *trace.Tracer
	cfg       ProcessConfig
	logger    *slog.Logger
	clock     func() time.Time
	telemetry *observability.Provider

	queue   chan contracts.Event
	limiter *rate.Limiter

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	resultsMu   sync.Mutex
	lastResults map[string]contracts.OrchestrationResult

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewProcessOrchestrator(inner *InstanceOrchestrator, instances store.InstanceRepository, tracer *trace.Tracer, cfg ProcessConfig, logger *slog.Logger) *ProcessOrchestrator {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	p := &ProcessOrchestrator{
		inner:       inner,
		instances:   instances,
		tracer:      tracer,
		cfg:         cfg,
		logger:      logger.With("component", "process_orchestrator"),
		clock:       time.Now,
		queue:       make(chan contracts.Event, cfg.QueueSize),
		locks:       make(map[string]*sync.Mutex),
		lastResults: make(map[string]contracts.OrchestrationResult),
	}
	if cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return p
}

// WithObservability attaches the telemetry provider.
func (p *ProcessOrchestrator) WithObservability(telemetry *observability.Provider) *ProcessOrchestrator {
	p.telemetry = telemetry
	return p
}

// Sink returns the EventSink instance cycles emit into. Internal emissions
// never block the emitting cycle: a full queue drops the event with a log.
func (p *ProcessOrchestrator) Sink() EventSink {
	return EventSinkFunc(func(ctx context.Context, event contracts.Event) error {
		select {
		case p.queue <- event:
			p.noteQueue(ctx, 1)
			return nil
		default:
			p.logger.Warn("internal event dropped, queue full",
				"event_type", event.Type, "instance_id", event.InstanceID)
			return ErrQueueFull
		}
	})
}

// Start launches the consumer and the periodic sweep. It returns
// immediately; Stop shuts both down.
func (p *ProcessOrchestrator) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return errors.New("orchestrator: already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	// Stop waits on done, which closes only after both the consumer and the
	// sweep have returned.
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		p.consume(runCtx)
	}()
	go func() {
		defer loops.Done()
		p.sweep(runCtx)
	}()
	go func(done chan struct{}) {
		loops.Wait()
		close(done)
	}(p.done)

	p.logger.Info("event loop started",
		"queue_size", p.cfg.QueueSize, "overflow", p.cfg.Overflow, "sweep_interval", p.cfg.SweepInterval)
	return nil
}

// Stop cancels the loop and waits up to the shutdown grace for the current
// event to finish.
func (p *ProcessOrchestrator) Stop() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-time.After(p.cfg.ShutdownGrace):
		return errors.New("orchestrator: shutdown grace exceeded")
	}
}

// Signal enqueues an external event. Under BLOCK it waits for space; under
// DROP_NEWEST a full queue returns ErrQueueFull.
func (p *ProcessOrchestrator) Signal(ctx context.Context, event contracts.Event) error {
	p.runMu.Lock()
	running := p.running
	p.runMu.Unlock()
	if !running {
		return ErrStopped
	}
	if p.cfg.Overflow == Block {
		select {
		case p.queue <- event:
			p.noteQueue(ctx, 1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case p.queue <- event:
		p.noteQueue(ctx, 1)
		return nil
	default:
		p.logger.Warn("event dropped, queue full",
			"event_type", event.Type, "instance_id", event.InstanceID)
		return ErrQueueFull
	}
}

// StartProcess creates and starts a new instance of the graph.
func (p *ProcessOrchestrator) StartProcess(ctx context.Context, graphID, version, correlationID string, initial contracts.ExecutionContext) (*contracts.ProcessInstance, contracts.OrchestrationResult, error) {
	return p.inner.StartInstance(ctx, graphID, version, correlationID, initial)
}

// Suspend pauses an instance; queued events for it will produce WAIT cycles
// until Resume.
func (p *ProcessOrchestrator) Suspend(ctx context.Context, instanceID string) error {
	return p.withInstance(ctx, instanceID, func(instance *contracts.ProcessInstance) error {
		return instance.Suspend()
	})
}

// Resume restores a suspended instance and runs a catch-up cycle.
func (p *ProcessOrchestrator) Resume(ctx context.Context, instanceID string) error {
	err := p.withInstance(ctx, instanceID, func(instance *contracts.ProcessInstance) error {
		return instance.Resume()
	})
	if err != nil {
		return err
	}
	return p.Signal(ctx, contracts.Event{
		EventID:    fmt.Sprintf("resume-%s-%d", instanceID, p.clock().UnixNano()),
		Type:       contracts.EventDataChange,
		Timestamp:  p.clock(),
		InstanceID: instanceID,
		Payload:    map[string]any{"change_type": "RESUMED"},
	})
}

// Cancel terminates an instance and records a cancellation trace.
func (p *ProcessOrchestrator) Cancel(ctx context.Context, instanceID, reason string) error {
	return p.withInstance(ctx, instanceID, func(instance *contracts.ProcessInstance) error {
		if err := instance.MarkCancelled(p.clock()); err != nil {
			return err
		}
		p.tracer.Record(ctx, &contracts.DecisionTrace{
			InstanceID:    instance.ID,
			Type:          contracts.TraceNavigation,
			Timestamp:     p.clock(),
			Outcome:       contracts.OutcomeBlocked,
			OutcomeDetail: "cancelled: " + reason,
		})
		p.logger.Info("instance cancelled", "instance_id", instanceID, "reason", reason)
		return nil
	})
}

// GetStatus returns a snapshot of the instance. Eligibility-level detail is
// only as fresh as the last processed event; LastResult exposes that cycle's
// decision and trace ID.
func (p *ProcessOrchestrator) GetStatus(ctx context.Context, instanceID string) (*contracts.ProcessInstance, error) {
	return p.instances.Get(ctx, instanceID)
}

// consume processes events one at a time, fanning each out to its affected
// instances and waiting for all of them before taking the next event. This
// preserves per-instance event order.
func (p *ProcessOrchestrator) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.queue:
			p.noteQueue(ctx, -1)
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
			}
			p.handleEvent(ctx, event)
		}
	}
}

func (p *ProcessOrchestrator) handleEvent(ctx context.Context, event contracts.Event) {
	ids := p.route(ctx, event)
	if len(ids) == 0 {
		p.logger.Debug("event matched no instances",
			"event_type", event.Type, "event_id", event.EventID)
		return
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(instanceID string) {
			defer wg.Done()
			p.processFor(ctx, instanceID, event)
		}(id)
	}
	wg.Wait()
}

func (p *ProcessOrchestrator) processFor(ctx context.Context, instanceID string, event contracts.Event) {
	lock := p.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := p.instances.Get(ctx, instanceID)
	if err != nil {
		p.logger.Error("instance load failed", "instance_id", instanceID, "error", err)
		return
	}
	if instance.IsTerminal() {
		if instance.Status == contracts.InstanceCancelled {
			p.tracer.Record(ctx, &contracts.DecisionTrace{
				InstanceID:    instance.ID,
				Type:          contracts.TraceWait,
				Timestamp:     p.clock(),
				Outcome:       contracts.OutcomeWaiting,
				OutcomeDetail: "instance cancelled; event " + event.EventID + " ignored",
			})
		}
		return
	}
	var finish func(error)
	if p.telemetry != nil {
		ctx, finish = p.telemetry.TrackCycle(ctx, instance.ID, instance.GraphID)
	}
	result, err := p.inner.ReevaluateAfterEvent(ctx, instance, event)
	if finish != nil {
		finish(err)
	}
	if err != nil {
		p.logger.Error("cycle failed",
			"instance_id", instanceID, "event_type", event.Type, "error", err)
		return
	}
	p.resultsMu.Lock()
	p.lastResults[instanceID] = result
	p.resultsMu.Unlock()
	p.logger.Debug("cycle done",
		"instance_id", instanceID, "event_type", event.Type,
		"status", result.Status, "executed", result.ExecutedNodeIDs)
}

// LastResult returns the outcome of the most recent cycle the loop ran for
// the instance. The second return is false until the loop has processed at
// least one event for it.
func (p *ProcessOrchestrator) LastResult(instanceID string) (contracts.OrchestrationResult, bool) {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	result, ok := p.lastResults[instanceID]
	return result, ok
}

// route resolves which instances an event affects: its addressed instance,
// instances sharing its correlation ID, else every active instance. The
// broadcast is deliberate: event sensitivity can hide in edge guard
// expressions, so no static index can narrow it safely.
func (p *ProcessOrchestrator) route(ctx context.Context, event contracts.Event) []string {
	if event.InstanceID != "" {
		return []string{event.InstanceID}
	}
	active, err := p.instances.ListActive(ctx)
	if err != nil {
		p.logger.Error("active instance listing failed", "error", err)
		return nil
	}
	if event.CorrelationID != "" {
		var ids []string
		for _, instance := range active {
			if instance.CorrelationID == event.CorrelationID {
				ids = append(ids, instance.ID)
			}
		}
		// A correlated domain event that matches nothing still broadcasts;
		// the other variants route by correlation alone.
		if len(ids) > 0 || event.Type != contracts.EventDomainEvent {
			return ids
		}
	}
	ids := make([]string, 0, len(active))
	for _, instance := range active {
		ids = append(ids, instance.ID)
	}
	return ids
}

// sweep periodically synthesizes TimerExpired events for overdue,
// unsatisfied obligations on active instances.
func (p *ProcessOrchestrator) sweep(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *ProcessOrchestrator) sweepOnce(ctx context.Context) {
	active, err := p.instances.ListActive(ctx)
	if err != nil {
		p.logger.Error("sweep listing failed", "error", err)
		return
	}
	now := p.clock()
	for _, instance := range active {
		for _, obligation := range instance.Context.Operational.Obligations {
			if !obligation.Overdue(now) {
				continue
			}
			event := contracts.NewTimerExpired(instance.ID, obligation.ID,
				contracts.TimerDeadline, obligation.Deadline, obligation.ID)
			select {
			case p.queue <- event:
				p.noteQueue(ctx, 1)
				p.logger.Info("obligation overdue",
					"instance_id", instance.ID, "obligation_id", obligation.ID)
			default:
				p.logger.Warn("sweep event dropped, queue full", "instance_id", instance.ID)
			}
		}
	}
}

func (p *ProcessOrchestrator) withInstance(ctx context.Context, instanceID string, mutate func(*contracts.ProcessInstance) error) error {
	lock := p.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := p.instances.Get(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return contracts.NewError(contracts.KindInstanceNotFound, "instance "+instanceID)
		}
		return err
	}
	if err := mutate(instance); err != nil {
		return err
	}
	return p.instances.Save(ctx, instance)
}

func (p *ProcessOrchestrator) noteQueue(ctx context.Context, delta int64) {
	if p.telemetry != nil {
		p.telemetry.RecordQueueDepth(ctx, delta)
	}
}

func (p *ProcessOrchestrator) lockFor(instanceID string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	if lock, ok := p.locks[instanceID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	p.locks[instanceID] = lock
	return lock
}

