package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/config"
	"github.com/roach88/edgesync/internal/engine"
	"github.com/roach88/edgesync/internal/events"
	"github.com/roach88/edgesync/internal/identity"
	"github.com/roach88/edgesync/internal/netmon"
	"github.com/roach88/edgesync/internal/queue"
	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/remote"
	"github.com/roach88/edgesync/internal/store"
	"github.com/roach88/edgesync/internal/testutil"
)

// DeviceID is the local device of every scenario. Seeded entities
// default to OtherDeviceID.
const (
	DeviceID      = "device-a"
	OtherDeviceID = "device-b"
)

var errInjected = errors.New("injected failure")

// Harness runs one scenario against a fresh in-memory store.
type Harness struct {
	scenario *Scenario
	clock    *testutil.Clock
	memory   *remote.Memory
	network  *netmon.Monitor
	store    *store.Store
	cache    *queue.EntityCache
	engine   *engine.Engine
	logger   *zap.Logger

	reachable atomic.Bool

	mu     sync.Mutex
	result *Result
}

// RunOption configures Run.
type RunOption func(*Harness)

// WithLogger routes engine logs to l. Scenarios are silent by default.
func WithLogger(l *zap.Logger) RunOption {
	return func(h *Harness) { h.logger = l }
}

// Run executes scenario and evaluates its assertions. The returned error
// is set only when the session could not be built; step and assertion
// failures are reported in Result.
//
// Every run uses a stepping clock starting at testutil.Epoch, sequential
// record ids (rec-1, rec-2, ...) and conflict ids (conflict-1, ...), and
// pushes one record at a time, so the trace is identical across runs.
func Run(ctx context.Context, scenario *Scenario, opts ...RunOption) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		clock:    testutil.NewClock(testutil.Epoch, time.Second),
		logger:   zap.NewNop(),
		result:   NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.setup(ctx); err != nil {
		return nil, err
	}
	defer h.teardown()

	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, step); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.action(), err))
		}
	}

	actx := &AssertionContext{Ctx: ctx, Engine: h.engine, Cache: h.cache, Remote: h.memory}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) setup(ctx context.Context) error {
	cfg := h.config()

	st, err := engine.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create in-memory store: %w", err)
	}
	h.store = st
	h.cache = queue.NewEntityCache(st)

	h.memory = remote.NewMemory(remote.WithMemoryClock(h.clock.Now))
	for i, seed := range h.scenario.Seed {
		data, err := record.ObjectFromGo(seed.Data)
		if err != nil {
			st.Close()
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		device := seed.Device
		if device == "" {
			device = OtherDeviceID
		}
		h.memory.Seed(seed.EntityType, seed.EntityID, data, device)
	}

	h.reachable.Store(true)
	h.network = netmon.New(
		netmon.WithChecker(netmon.CheckerFunc(func(context.Context) (netmon.CheckResult, error) {
			return netmon.CheckResult{Reachable: h.reachable.Load()}, nil
		})),
		netmon.WithClock(h.clock.Now),
		netmon.WithLogger(h.logger.Named("netmon")),
	)
	h.network.Subscribe(func(info netmon.NetworkInfo) {
		h.add(KindNetwork, record.Obj(record.O("status", record.String(info.Status))))
	})

	h.engine, err = engine.New(cfg, st, h.memory,
		engine.WithNetwork(h.network),
		engine.WithIdentity(identity.Static(DeviceID)),
		engine.WithIDGenerator(testutil.NewSequenceIDs("rec")),
		engine.WithConflictIDGenerator(testutil.NewSequenceIDs("conflict")),
		engine.WithClock(h.clock.Now),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to create engine: %w", err)
	}
	h.subscribe()
	if err := h.engine.Start(ctx); err != nil {
		h.teardown()
		return fmt.Errorf("failed to start engine: %w", err)
	}
	return nil
}

func (h *Harness) teardown() {
	h.engine.Close()
	h.store.Close()
}

func (h *Harness) config() config.EdgeConfig {
	cfg := config.Default()
	cfg.AppName = "scenario"
	cfg.DatabasePath = ":memory:"
	cfg.OfflineMode = string(engine.OfflineManual)
	cfg.MaxConcurrentRequests = 1

	o := h.scenario.Config
	if o.ConflictResolutionStrategy != "" {
		cfg.ConflictResolutionStrategy = o.ConflictResolutionStrategy
	}
	if len(o.ConflictStrategies) > 0 {
		cfg.ConflictStrategies = o.ConflictStrategies
	}
	if o.MaxRetries > 0 {
		cfg.MaxRetries = o.MaxRetries
	}
	if o.MaxQueueSize > 0 {
		cfg.MaxQueueSize = o.MaxQueueSize
	}
	if o.BatchSize > 0 {
		cfg.BatchSize = o.BatchSize
	}
	if o.PriorityLevels > 0 {
		cfg.PriorityLevels = o.PriorityLevels
	}
	if o.CacheStrategy != "" {
		cfg.CacheStrategy = o.CacheStrategy
	}
	return cfg
}

func (h *Harness) add(kind string, fields record.Object) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.add(kind, fields)
}

func (h *Harness) subscribe() {
	bus := h.engine.Events()
	events.Subscribe(bus, engine.SyncStart, func(ev engine.SyncStartEvent) {
		h.add(KindSyncStart, record.Obj(record.O("pending", record.Int(ev.Pending))))
	})
	events.Subscribe(bus, engine.SyncProgress, func(p queue.Progress) {
		h.add(KindSyncProgress, record.Obj(
			record.O("record_id", record.String(p.RecordID)),
			record.O("status", record.String(p.Status)),
			record.O("processed", record.Int(p.Processed)),
			record.O("total", record.Int(p.Total)),
		))
	})
	events.Subscribe(bus, engine.ConflictDetected, func(ev engine.ConflictEvent) {
		fields := record.Obj(
			record.O("record_id", record.String(ev.Conflict.SyncRecord.ID)),
			record.O("entity", record.String(ev.Conflict.EntityKey())),
			record.O("resolved", record.Bool(ev.Verdict.Resolved)),
		)
		if ev.Verdict.Resolution != "" {
			fields["resolution"] = record.String(ev.Verdict.Resolution)
		}
		if ev.Verdict.ConflictID != "" {
			fields["conflict_id"] = record.String(ev.Verdict.ConflictID)
		}
		h.add(KindConflictDetected, fields)
	})
	events.Subscribe(bus, engine.SyncComplete, func(res engine.SyncResult) {
		h.add(KindSyncComplete, record.Obj(
			record.O("success", record.Bool(res.Success)),
			record.O("processed", record.Int(res.RecordsProcessed)),
			record.O("succeeded", record.Int(res.RecordsSucceeded)),
			record.O("failed", record.Int(res.RecordsFailed)),
			record.O("conflicts_detected", record.Int(res.ConflictsDetected)),
			record.O("conflicts_resolved", record.Int(res.ConflictsResolved)),
			record.O("errors", record.Int(len(res.Errors))),
		))
	})
	events.Subscribe(bus, engine.SyncError, func(res engine.SyncResult) {
		h.add(KindSyncError, record.Obj(record.O("error", record.String(res.Error))))
	})
}

func (h *Harness) runStep(ctx context.Context, step Step) error {
	switch step.action() {
	case "register":
		return h.register(ctx, step.Register)
	case "sync":
		return h.sync(ctx, step.Sync)
	case "network":
		h.setNetwork(ctx, step.Network)
		return nil
	case "fail_next":
		errs := make([]error, len(step.FailNext))
		for i, code := range step.FailNext {
			if record.ErrorCode(code) == record.CodeValidation {
				errs[i] = record.ValidationError("push", "injected rejection")
			} else {
				errs[i] = record.NetworkError("push", errInjected)
			}
		}
		h.memory.FailNext(errs...)
		return nil
	case "resolve":
		return h.resolve(ctx, step.Resolve)
	case "cleanup":
		return h.cleanup(ctx, step.Cleanup)
	case "fetch":
		return h.fetch(ctx, step.Fetch)
	case "advance":
		h.clock.Advance(step.Advance)
		return nil
	default:
		return fmt.Errorf("exactly one action is required")
	}
}

func (h *Harness) register(ctx context.Context, r *RegisterStep) error {
	change, err := record.ParseChangeType(r.Change)
	if err != nil {
		return err
	}
	data, err := record.ObjectFromGo(r.Data)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	var opts []engine.ChangeOption
	if r.Priority != nil {
		opts = append(opts, engine.WithPriority(*r.Priority))
	}
	if r.BaseVersion != nil {
		opts = append(opts, engine.WithBaseVersion(*r.BaseVersion))
	}

	key := record.EntityKey(r.EntityType, r.EntityID)
	id, err := h.engine.RegisterChange(ctx, r.EntityType, r.EntityID, change, data, opts...)
	if err != nil {
		h.add(KindRegister, record.Obj(
			record.O("entity", record.String(key)),
			record.O("error", record.String(record.CodeOf(err))),
		))
		return expectError(r.ExpectError, err)
	}
	h.add(KindRegister, record.Obj(
		record.O("entity", record.String(key)),
		record.O("record_id", record.String(id)),
	))
	return expectError(r.ExpectError, nil)
}

// expectError compares the outcome of a step with the expected error code.
func expectError(want string, err error) error {
	switch {
	case want == "" && err != nil:
		return err
	case want == "":
		return nil
	case err == nil:
		return fmt.Errorf("expected %s error, step succeeded", want)
	case string(record.CodeOf(err)) != want:
		return fmt.Errorf("expected %s error, got %s: %v", want, record.CodeOf(err), err)
	}
	return nil
}

func (h *Harness) sync(ctx context.Context, s *SyncStep) error {
	res := h.engine.Sync(ctx)
	if res.Reason != "" {
		h.add(KindSyncSkipped, record.Obj(record.O("reason", record.String(res.Reason))))
	}
	if s.Expect == nil {
		return nil
	}

	var mismatches []string
	e := s.Expect
	check := func(field string, want *int, got int) {
		if want != nil && *want != got {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %d, got %d", field, *want, got))
		}
	}
	if e.Success != nil && *e.Success != res.Success {
		mismatches = append(mismatches, fmt.Sprintf("success: expected %t, got %t", *e.Success, res.Success))
	}
	if e.Reason != "" && e.Reason != res.Reason {
		mismatches = append(mismatches, fmt.Sprintf("reason: expected %q, got %q", e.Reason, res.Reason))
	}
	check("processed", e.Processed, res.RecordsProcessed)
	check("succeeded", e.Succeeded, res.RecordsSucceeded)
	check("failed", e.Failed, res.RecordsFailed)
	check("conflicts_detected", e.ConflictsDetected, res.ConflictsDetected)
	check("conflicts_resolved", e.ConflictsResolved, res.ConflictsResolved)
	if len(mismatches) > 0 {
		return errors.New(strings.Join(mismatches, "; "))
	}
	return nil
}

func (h *Harness) setNetwork(ctx context.Context, state string) {
	switch state {
	case NetworkOffline:
		h.network.SetPlatformStatus(false, "")
	case NetworkOnline:
		h.reachable.Store(true)
		h.network.SetPlatformStatus(true, "wifi")
		h.network.Check(ctx)
	case NetworkLimited:
		h.reachable.Store(false)
		h.network.SetPlatformStatus(true, "wifi")
		h.network.Check(ctx)
	}
}

func (h *Harness) resolve(ctx context.Context, r *ResolveStep) error {
	winner := record.Resolution(r.Winner)
	_, err := h.engine.ResolveConflict(ctx, r.Conflict, winner)
	fields := record.Obj(
		record.O("conflict_id", record.String(r.Conflict)),
		record.O("winner", record.String(winner)),
	)
	if err != nil {
		fields["error"] = record.String(record.CodeOf(err))
	}
	h.add(KindResolve, fields)
	return expectError(r.ExpectError, err)
}

func (h *Harness) cleanup(ctx context.Context, c *CleanupStep) error {
	n, err := h.engine.CleanupCompletedRecords(ctx, c.MaxAge)
	if err != nil {
		return err
	}
	h.add(KindCleanup, record.Obj(record.O("removed", record.Int(n))))
	if c.Expect != nil && *c.Expect != n {
		return fmt.Errorf("expected %d records removed, got %d", *c.Expect, n)
	}
	return nil
}

func (h *Harness) fetch(ctx context.Context, f *FetchStep) error {
	key := record.EntityKey(f.EntityType, f.EntityID)
	ent, found, err := h.engine.Entity(ctx, f.EntityType, f.EntityID)
	if err != nil {
		h.add(KindFetch, record.Obj(
			record.O("entity", record.String(key)),
			record.O("error", record.String(record.CodeOf(err))),
		))
		return err
	}
	fields := record.Obj(
		record.O("entity", record.String(key)),
		record.O("found", record.Bool(found)),
	)
	if found {
		fields["version"] = record.Int(ent.Version)
		fields["data"] = ent.Data
	}
	h.add(KindFetch, fields)

	switch {
	case f.Absent && found:
		return fmt.Errorf("expected %s to be absent, got version %d", key, ent.Version)
	case f.Absent:
		return nil
	case !found:
		return fmt.Errorf("entity %s not found", key)
	}
	want, err := record.ObjectFromGo(f.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}
	if field, ok := subsetMatch(ent.Data, want); !ok {
		return fmt.Errorf("%s: expected %s, got %s", field, render(want[field]), render(ent.Data[field]))
	}
	return nil
}
