package conductor

import (
	"context"
	"time"
)

// ExecutionCallbacks defines the callback interface for engine events
type ExecutionCallbacks interface {
	// Burst-level callbacks
	BeforeBurst(ctx context.Context, event *BurstEvent)
	AfterBurst(ctx context.Context, event *BurstEvent)

	// Activity-level callbacks
	BeforeActivityExecution(ctx context.Context, event *ActivityEvent)
	AfterActivityExecution(ctx context.Context, event *ActivityEvent)

	// OnIncident is invoked whenever an unhandled fault is recorded
	OnIncident(ctx context.Context, event *IncidentEvent)
}

// BurstEvent provides context for burst boundary events
type BurstEvent struct {
	InstanceID    string
	DefinitionID  string
	Status        InstanceStatus
	Resuming      bool
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	BookmarkCount int
	Error         error
}

// ActivityEvent provides context for activity execution events
type ActivityEvent struct {
	InstanceID   string
	DefinitionID string
	NodeKey      string
	NodeID       string
	ActivityType string
	Status       ActivityStatus
	Outcome      string
	Output       map[string]any
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Error        error
}

// IncidentEvent provides context for incident recording events
type IncidentEvent struct {
	InstanceID string
	Incident   *Incident
	Strategy   FaultStrategy
}

// BaseExecutionCallbacks provides a default implementation that does nothing.
// Embed this in your own callbacks to only implement the events you need.
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) BeforeBurst(ctx context.Context, event *BurstEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterBurst(ctx context.Context, event *BurstEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BeforeActivityExecution(ctx context.Context, event *ActivityEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterActivityExecution(ctx context.Context, event *ActivityEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) OnIncident(ctx context.Context, event *IncidentEvent) {
	// noop
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeBurst(ctx context.Context, event *BurstEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeBurst(ctx, event)
	}
}

func (c *CallbackChain) AfterBurst(ctx context.Context, event *BurstEvent) {
	for _, callback := range c.callbacks {
		callback.AfterBurst(ctx, event)
	}
}

func (c *CallbackChain) BeforeActivityExecution(ctx context.Context, event *ActivityEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeActivityExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterActivityExecution(ctx context.Context, event *ActivityEvent) {
	for _, callback := range c.callbacks {
		callback.AfterActivityExecution(ctx, event)
	}
}

func (c *CallbackChain) OnIncident(ctx context.Context, event *IncidentEvent) {
	for _, callback := range c.callbacks {
		callback.OnIncident(ctx, event)
	}
}
