package conductor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/conductor/script"
)

// EngineOptions configures a workflow engine.
type EngineOptions struct {
	Store        Store
	LockProvider LockProvider
	Registry     *Registry
	Compiler     script.Compiler
	Logger       *slog.Logger
	Callbacks    ExecutionCallbacks
	Recorder     ActivityRecorder
	Settings     *Settings
}

// Engine coordinates workflow instances across their lifecycle: starting,
// resuming on stimuli, timer firing, and cancellation. Every state change
// happens inside a burst executed under the instance's distributed lock and
// persisted as one atomic commit, so a crash between bursts never leaves an
// instance half-updated.
type Engine struct {
	store        Store
	lockProvider LockProvider
	registry     *Registry
	compiler     script.Compiler
	logger       *slog.Logger
	callbacks    ExecutionCallbacks
	recorder     ActivityRecorder
	settings     *Settings

	mutex       sync.RWMutex
	definitions map[string]map[int]*Definition
	latest      map[string]int
}

// NewEngine creates a workflow engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.LockProvider == nil {
		return nil, fmt.Errorf("lock provider is required")
	}
	if opts.Registry == nil {
		registry, err := NewRegistry(CoreActivities()...)
		if err != nil {
			return nil, err
		}
		opts.Registry = registry
	}
	if opts.Compiler == nil {
		opts.Compiler = script.NewRisorEngine(script.DefaultRisorGlobals())
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	if opts.Recorder == nil {
		opts.Recorder = NewNullActivityRecorder()
	}
	if opts.Settings == nil {
		opts.Settings = DefaultSettings()
	}
	return &Engine{
		store:        opts.Store,
		lockProvider: opts.LockProvider,
		registry:     opts.Registry,
		compiler:     opts.Compiler,
		logger:       opts.Logger,
		callbacks:    opts.Callbacks,
		recorder:     opts.Recorder,
		settings:     opts.Settings,
		definitions:  map[string]map[int]*Definition{},
		latest:       map[string]int{},
	}, nil
}

// RegisterDefinition makes a workflow definition available for new
// instances and for resuming existing ones. Registering the same id and
// version twice is an error.
func (e *Engine) RegisterDefinition(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition is required")
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	versions, ok := e.definitions[def.ID()]
	if !ok {
		versions = map[int]*Definition{}
		e.definitions[def.ID()] = versions
	}
	if _, exists := versions[def.Version()]; exists {
		return fmt.Errorf("definition %q version %d already registered", def.ID(), def.Version())
	}
	versions[def.Version()] = def
	if def.Version() > e.latest[def.ID()] {
		e.latest[def.ID()] = def.Version()
	}
	return nil
}

// Definition returns a registered definition by id and version. A version
// of zero selects the latest registered version.
func (e *Engine) Definition(id string, version int) (*Definition, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	versions, ok := e.definitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDefinitionNotFound, id)
	}
	if version == 0 {
		version = e.latest[id]
	}
	def, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q version %d", ErrDefinitionNotFound, id, version)
	}
	return def, nil
}

// StartOptions configures a new workflow instance.
type StartOptions struct {
	// DefinitionID selects the registered workflow definition.
	DefinitionID string

	// DefinitionVersion pins a definition version. Zero means latest.
	DefinitionVersion int

	// CorrelationID scopes the instance's stimulus matching. Optional.
	CorrelationID string

	// Variables seeds instance variables on top of the definition's
	// initial variables.
	Variables map[string]any

	// Stimulus is the event that launched the instance, when one did. A
	// trigger node matching this stimulus completes immediately instead of
	// suspending to wait for the event that already happened.
	Stimulus *Stimulus
}

// StartInstance creates a new instance of a registered definition and runs
// its first burst.
func (e *Engine) StartInstance(ctx context.Context, opts StartOptions) (*Instance, error) {
	def, err := e.Definition(opts.DefinitionID, opts.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	instance := NewInstance(def, opts.CorrelationID)
	for name, value := range opts.Variables {
		instance.Variables[name] = value
	}

	lease, err := e.acquireInstanceLock(ctx, instance.ID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, fmt.Errorf("failed to lock new instance %s", instance.ID)
	}
	defer e.releaseLease(ctx, lease)

	execution, err := NewExecution(ExecutionOptions{
		Definition:    def,
		Instance:      instance,
		Registry:      e.registry,
		Compiler:      e.compiler,
		Logger:        e.logger,
		Callbacks:     e.callbacks,
		Recorder:      e.recorder,
		StartStimulus: opts.Stimulus,
	})
	if err != nil {
		return nil, err
	}
	execution.ScheduleRoot()

	result, err := execution.RunBurst(ctx)
	if err != nil {
		return nil, err
	}
	// The instance record is born with its first burst commit, so a failed
	// first burst leaves nothing behind in the store.
	if err := e.commitBurst(ctx, lease, result, true); err != nil {
		return nil, err
	}
	return instance, nil
}

// GetInstance loads an instance by id.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	return e.store.LoadInstance(ctx, instanceID)
}

// ListInstances returns summaries of all known instances.
func (e *Engine) ListInstances(ctx context.Context) ([]*InstanceSummary, error) {
	return e.store.ListInstances(ctx)
}

// GetBookmarks returns the outstanding bookmarks of an instance.
func (e *Engine) GetBookmarks(ctx context.Context, instanceID string) ([]*Bookmark, error) {
	return e.store.FindBookmarksByInstance(ctx, instanceID)
}

// CancelInstance cancels a non-terminal instance: every active node state
// becomes Cancelled and every outstanding bookmark and scheduled task is
// removed, so no later stimulus or timer can touch the instance.
func (e *Engine) CancelInstance(ctx context.Context, instanceID string) error {
	lease, err := e.acquireInstanceLock(ctx, instanceID)
	if err != nil {
		return err
	}
	if lease == nil {
		return fmt.Errorf("instance %s is locked by another node", instanceID)
	}
	defer e.releaseLease(ctx, lease)

	instance, err := e.store.LoadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if instance.Status == InstanceStatusCancelled {
		// Cancelling twice is a no-op.
		return nil
	}
	if instance.Status.Terminal() {
		return fmt.Errorf("instance %s is already %s", instanceID, instance.Status)
	}

	now := time.Now().UTC()
	for _, state := range instance.Nodes {
		if !state.Status.Terminal() {
			state.Status = ActivityStatusCancelled
			state.ResumePoint = ""
			state.FinishedAt = now
		}
	}
	instance.Status = InstanceStatusCancelled
	instance.SubStatus = ""
	instance.UpdatedAt = now

	bookmarks, err := e.store.FindBookmarksByInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	commit := &BurstCommit{Instance: instance}
	for _, bookmark := range bookmarks {
		commit.DeleteBookmarks = append(commit.DeleteBookmarks, bookmark.ID)
	}
	if lease.Expired(time.Now()) {
		return fmt.Errorf("cancel instance %s: %w", instanceID, ErrLeaseExpired)
	}
	if err := e.store.CommitBurst(ctx, commit); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}
	e.logger.Info("instance cancelled", "instance_id", instanceID)
	return nil
}

func (e *Engine) acquireInstanceLock(ctx context.Context, instanceID string) (*Lease, error) {
	lease, err := e.lockProvider.Acquire(ctx, InstanceLockKey(instanceID), e.settings.LockAcquireTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	return lease, nil
}

// commitBurst persists a burst result, refusing to write when the lease
// protecting it lapsed. A lapsed lease means another node may already own
// the instance, and a blind write could clobber its state.
func (e *Engine) commitBurst(ctx context.Context, lease *Lease, result *BurstResult, create bool) error {
	if lease.Expired(time.Now()) {
		return fmt.Errorf("instance %s: %w", result.Instance.ID, ErrLeaseExpired)
	}
	commit := result.Commit()
	commit.Create = create
	if err := e.store.CommitBurst(ctx, commit); err != nil {
		return fmt.Errorf("failed to commit burst: %w", err)
	}
	return nil
}

func (e *Engine) releaseLease(ctx context.Context, lease *Lease) {
	if err := lease.Release(ctx); err != nil {
		e.logger.Warn("failed to release instance lock",
			"key", lease.Key(), "error", err)
	}
}
