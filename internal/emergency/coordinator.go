// Package emergency owns the system-wide stop and resume state. All other
// components query it instead of keeping their own flag; the persisted
// singleton row exists only for restart recovery.
package emergency

import (
	"context"
	"sync"
	"time"

	"fincontrol/internal/allocation"
	"fincontrol/internal/bus"
	"fincontrol/internal/ledger"
	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/internal/obs"
	"fincontrol/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Config holds coordinator tunables.
type Config struct {
	// AckTimeout is how long modules have to acknowledge a stop or recovery
	// broadcast before missing acks are logged.
	AckTimeout time.Duration
}

// Coordinator is the Normal / EmergencyStopped state machine.
type Coordinator struct {
	store   *ledger.Store
	bus     *bus.Bus
	alloc   *allocation.Engine
	metrics *obs.Metrics
	cfg     Config
	source  string

	mu    sync.Mutex
	state model.EmergencyState
	acks  map[string]map[string]bool
}

// NewCoordinator builds the coordinator. Call Restore before wiring handlers.
func NewCoordinator(store *ledger.Store, b *bus.Bus, alloc *allocation.Engine, metrics *obs.Metrics, cfg Config, source string) *Coordinator {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	return &Coordinator{
		store:   store,
		bus:     b,
		alloc:   alloc,
		metrics: metrics,
		cfg:     cfg,
		source:  source,
		state:   model.EmergencyState{ID: model.EmergencyStateID},
		acks:    make(map[string]map[string]bool),
	}
}

// Restore loads the persisted state so a stop survives a restart.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c == nil {
		return exception.ErrNilInstance
	}
	state, err := c.store.Emergency.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load emergency state")
	}
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	if state.Active {
		logs.Warnf("restored active emergency stop: scope=%s target=%s reason=%q", state.Scope, state.TargetID, state.Reason)
	}
	return nil
}

// Stopped reports whether the system is in EmergencyStopped.
func (c *Coordinator) Stopped() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active
}

// State returns a copy of the current state.
func (c *Coordinator) State() model.EmergencyState {
	if c == nil {
		return model.EmergencyState{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func validateCommand(cmd bus.EmergencyCommand) error {
	if !cmd.Action.IsAvailable() {
		return errors.Wrap(exception.ErrEmergencyUnknownAction, "validate").With("action", cmd.Action)
	}
	if !cmd.Scope.IsAvailable() {
		return errors.Wrap(exception.ErrEmergencyUnknownScope, "validate").With("scope", cmd.Scope)
	}
	if cmd.Scope != enum.EmergencyScopeSystem && cmd.TargetID == "" {
		return errors.Wrap(exception.ErrEmergencyMissingTarget, "validate").With("scope", cmd.Scope)
	}
	if cmd.Action == enum.EmergencyActionStop && cmd.Reason == "" {
		return exception.ErrEmergencyEmptyReason
	}
	return nil
}

// Execute runs one control command through the state machine.
func (c *Coordinator) Execute(ctx context.Context, cmd bus.EmergencyCommand) error {
	if c == nil {
		return exception.ErrNilInstance
	}
	if err := validateCommand(cmd); err != nil {
		return err
	}
	switch cmd.Action {
	case enum.EmergencyActionStop:
		return c.stop(ctx, cmd)
	case enum.EmergencyActionResume:
		return c.resume(ctx, cmd)
	case enum.EmergencyActionPause, enum.EmergencyActionRestart:
		// Advisory: downstream modules react to the action field, stored
		// state is untouched.
		c.broadcast(ctx, bus.TypeEmergencyStop, cmd)
		logs.Infof("advisory %s broadcast: scope=%s target=%s", cmd.Action, cmd.Scope, cmd.TargetID)
		return nil
	default:
		return exception.ErrEmergencyUnknownAction
	}
}

func (c *Coordinator) stop(ctx context.Context, cmd bus.EmergencyCommand) error {
	now := time.Now().UTC()
	c.mu.Lock()
	// A stop for a different scope would replace the stored state while the
	// earlier freeze tag is still on the allocations; resume must run first.
	if c.state.Active && (c.state.Scope != cmd.Scope || c.state.TargetID != cmd.TargetID) {
		scope, target := c.state.Scope, c.state.TargetID
		c.mu.Unlock()
		return errors.Wrap(exception.ErrInvalidState, "stop scope conflicts with active stop").
			With("activeScope", scope).
			With("activeTarget", target).
			With("scope", cmd.Scope).
			With("target", cmd.TargetID)
	}
	repeat := c.state.Active
	c.state = model.EmergencyState{
		ID:          model.EmergencyStateID,
		Active:      true,
		Reason:      cmd.Reason,
		InitiatedBy: cmd.InitiatedBy,
		Scope:       cmd.Scope,
		TargetID:    cmd.TargetID,
		Severity:    cmd.Severity,
		StoppedAt:   now,
	}
	state := c.state
	c.mu.Unlock()

	if err := c.store.Emergency.Save(ctx, state); err != nil {
		return errors.Wrap(err, "persist emergency stop")
	}

	correlationID := c.broadcast(ctx, bus.TypeEmergencyStop, cmd)
	c.trackAcks(correlationID, string(cmd.Action))

	tag := allocation.FreezeTag(cmd.Scope, cmd.TargetID)
	frozen, err := c.alloc.Freeze(ctx, cmd.Scope, cmd.TargetID, tag)
	if err != nil {
		logs.Errorf("freeze allocations for %s: %v", tag, err)
	}
	if repeat {
		logs.Warnf("repeated emergency stop for scope=%s target=%s, %d newly frozen", cmd.Scope, cmd.TargetID, len(frozen))
	} else {
		logs.Warnf("emergency stop: scope=%s target=%s reason=%q frozen=%d", cmd.Scope, cmd.TargetID, cmd.Reason, len(frozen))
	}

	c.record(ctx, model.SystemEvent{
		ID:           uuid.NewString(),
		Type:         "emergency_stop",
		Category:     "emergency",
		Severity:     enum.SeverityCritical,
		SourceModule: c.source,
		Title:        "emergency stop activated",
		Description:  describe(cmd),
	})
	c.metrics.IncEmergencyStop()
	return nil
}

func (c *Coordinator) resume(ctx context.Context, cmd bus.EmergencyCommand) error {
	c.mu.Lock()
	if !c.state.Active {
		c.mu.Unlock()
		return exception.ErrEmergencyNotStopped
	}
	if c.state.Scope != cmd.Scope || c.state.TargetID != cmd.TargetID {
		scope, target := c.state.Scope, c.state.TargetID
		c.mu.Unlock()
		return errors.Wrap(exception.ErrInvalidState, "resume scope mismatch").
			With("activeScope", scope).
			With("activeTarget", target).
			With("scope", cmd.Scope).
			With("target", cmd.TargetID)
	}
	now := time.Now().UTC()
	c.state = model.EmergencyState{
		ID:        model.EmergencyStateID,
		Active:    false,
		ResumedAt: now,
	}
	state := c.state
	c.mu.Unlock()

	if err := c.store.Emergency.Save(ctx, state); err != nil {
		return errors.Wrap(err, "persist emergency resume")
	}

	correlationID := c.broadcast(ctx, bus.TypeSystemRecovery, cmd)
	c.trackAcks(correlationID, string(cmd.Action))

	tag := allocation.FreezeTag(cmd.Scope, cmd.TargetID)
	thawed, err := c.alloc.Unfreeze(ctx, tag)
	if err != nil {
		logs.Errorf("unfreeze allocations for %s: %v", tag, err)
	}
	logs.Infof("system recovery: scope=%s target=%s thawed=%d", cmd.Scope, cmd.TargetID, len(thawed))

	c.record(ctx, model.SystemEvent{
		ID:           uuid.NewString(),
		Type:         "system_recovery",
		Category:     "emergency",
		Severity:     enum.SeverityInfo,
		SourceModule: c.source,
		Title:        "emergency stop lifted",
		Description:  describe(cmd),
	})
	c.metrics.IncEmergencyResume()
	return nil
}

func describe(cmd bus.EmergencyCommand) string {
	out := string(cmd.Action) + " scope=" + string(cmd.Scope)
	if cmd.TargetID != "" {
		out += " target=" + cmd.TargetID
	}
	if cmd.Reason != "" {
		out += " reason=" + cmd.Reason
	}
	if cmd.InitiatedBy != "" {
		out += " by=" + cmd.InitiatedBy
	}
	return out
}

// broadcast publishes the control message and returns its id for ack
// correlation. A transport failure is logged, never retried here.
func (c *Coordinator) broadcast(_ context.Context, msgType bus.MessageType, cmd bus.EmergencyCommand) string {
	if c.bus == nil {
		return ""
	}
	m, err := bus.NewMessage(msgType, c.source, cmd)
	if err != nil {
		logs.Errorf("build %s broadcast: %v", msgType, err)
		return ""
	}
	m.CorrelationID = m.ID
	c.metrics.IncMessageOut(string(m.Type))
	if err := c.bus.Publish(m); err != nil {
		logs.Errorf("publish %s broadcast: %v", msgType, err)
	}
	return m.ID
}

// trackAcks waits for module acknowledgements and logs the modules that
// stayed silent. Lost acks are assumed failed, never retried.
func (c *Coordinator) trackAcks(correlationID, action string) {
	if correlationID == "" {
		return
	}
	c.mu.Lock()
	c.acks[correlationID] = make(map[string]bool)
	c.mu.Unlock()

	time.AfterFunc(c.cfg.AckTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		c.mu.Lock()
		got := c.acks[correlationID]
		delete(c.acks, correlationID)
		c.mu.Unlock()

		modules, err := c.store.Modules.List(ctx)
		if err != nil {
			logs.Errorf("list modules for ack check: %v", err)
			return
		}
		for _, m := range modules {
			if !got[m.ModuleName] {
				logs.Warnf("module %s did not acknowledge %s within %s", m.ModuleName, action, c.cfg.AckTimeout)
			}
		}
	})
}

// HandleAck records a module's acknowledgement of a control broadcast.
func (c *Coordinator) HandleAck(m bus.Message, ack bus.EmergencyAck) {
	if c == nil || m.CorrelationID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if got, ok := c.acks[m.CorrelationID]; ok {
		got[ack.ModuleName] = ack.Accepted
	}
}

func (c *Coordinator) record(ctx context.Context, event model.SystemEvent) {
	if err := c.store.Events.Create(ctx, &event); err != nil {
		logs.Errorf("record %s event: %v", event.Type, err)
	}
}

// HandleCommand is the EMERGENCY_STOP / SYSTEM_RECOVERY bus handler. The
// coordinator's own broadcasts come back on the same topics and are skipped
// by source.
func (c *Coordinator) HandleCommand(ctx context.Context, m bus.Message) {
	if c == nil || m.Source == c.source {
		return
	}
	c.metrics.IncMessageIn(string(m.Type))
	decoded, err := bus.DecodePayload(m)
	if err != nil {
		logs.Warnf("decode emergency command from %s: %v", m.Source, err)
		return
	}
	cmd, ok := decoded.(bus.EmergencyCommand)
	if !ok {
		logs.Warnf("unexpected emergency payload %T from %s", decoded, m.Source)
		return
	}
	if err := c.Execute(ctx, cmd); err != nil {
		logs.Errorf("execute %s from %s: %v", cmd.Action, m.Source, err)
	}
}
