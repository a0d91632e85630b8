package conductor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/conductor/script"
)

// workItem is one scheduled unit of work inside a burst: execute a node (or
// resume it) under a specific state key.
type workItem struct {
	key       string
	nodeID    string
	parentKey string
	resume    bool
	input     map[string]any
	scratch   map[string]any
}

// ExecutionOptions configures a workflow execution context.
type ExecutionOptions struct {
	Definition    *Definition
	Instance      *Instance
	Registry      *Registry
	Compiler      script.Compiler
	Logger        *slog.Logger
	Callbacks     ExecutionCallbacks
	Recorder      ActivityRecorder
	Bookmarks     []*Bookmark
	StartStimulus *Stimulus
}

// Execution owns a workflow instance for the duration of one burst of
// execution: the unit of synchronous work performed before the engine either
// finishes the instance or parks it and returns control. Within a burst the
// work queue is drained cooperatively by a single goroutine, so activity
// state transitions are applied sequentially and execution order is
// deterministic for a given definition.
type Execution struct {
	def       *Definition
	instance  *Instance
	registry  *Registry
	compiler  script.Compiler
	logger    *slog.Logger
	callbacks ExecutionCallbacks
	recorder  ActivityRecorder

	// Outstanding persisted bookmarks for the instance, needed so branch
	// cancellation can clean up bookmarks created in earlier bursts.
	persistedBookmarks []*Bookmark

	startStimulus     *Stimulus
	startStimulusUsed bool

	queue     []*workItem
	cancelled map[string]bool
	aborted   bool

	createBookmarks []*Bookmark
	deleteBookmarks []string
	createTasks     []*ScheduledTask
	deleteTasks     []string
}

// NewExecution creates an execution context for one burst over an instance.
func NewExecution(opts ExecutionOptions) (*Execution, error) {
	if opts.Definition == nil {
		return nil, fmt.Errorf("definition is required")
	}
	if opts.Instance == nil {
		return nil, fmt.Errorf("instance is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
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
	return &Execution{
		def:                opts.Definition,
		instance:           opts.Instance,
		registry:           opts.Registry,
		compiler:           opts.Compiler,
		logger:             opts.Logger.With("instance_id", opts.Instance.ID),
		callbacks:          opts.Callbacks,
		recorder:           opts.Recorder,
		persistedBookmarks: opts.Bookmarks,
		startStimulus:      opts.StartStimulus,
		cancelled:          map[string]bool{},
	}, nil
}

// Instance returns the instance owned by this execution
func (e *Execution) Instance() *Instance {
	return e.instance
}

// ScheduleRoot schedules the definition's root node as the burst entry point.
func (e *Execution) ScheduleRoot() {
	root := e.def.Root()
	e.enqueue(&workItem{key: root.ID, nodeID: root.ID})
}

// ScheduleResume schedules the suspended node that owns a matched bookmark,
// delivering the stimulus input. The bookmark is consumed (queued for
// deletion) when it is auto-burn.
func (e *Execution) ScheduleResume(bookmark *Bookmark, input map[string]any) error {
	state, ok := e.instance.Nodes[bookmark.NodeKey]
	if !ok {
		return fmt.Errorf("bookmark %s references unknown node state %q", bookmark.ID, bookmark.NodeKey)
	}
	if state.Status != ActivityStatusSuspended {
		return fmt.Errorf("node %q is %s, not suspended", bookmark.NodeKey, state.Status)
	}
	if bookmark.AutoBurn {
		e.deleteBookmarks = append(e.deleteBookmarks, bookmark.ID)
	}
	e.enqueue(&workItem{
		key:       state.Key,
		nodeID:    state.NodeID,
		parentKey: state.ParentKey,
		resume:    true,
		input:     input,
	})
	return nil
}

func (e *Execution) enqueue(item *workItem) {
	e.queue = append(e.queue, item)
}

// BurstResult captures everything a burst produced, to be persisted as a
// single atomic unit.
type BurstResult struct {
	Instance        *Instance
	CreateBookmarks []*Bookmark
	DeleteBookmarks []string
	CreateTasks     []*ScheduledTask
	DeleteTasks     []string
}

// Commit converts the result into the store's atomic commit record.
func (b *BurstResult) Commit() *BurstCommit {
	return &BurstCommit{
		Instance:        b.Instance,
		CreateBookmarks: b.CreateBookmarks,
		DeleteBookmarks: b.DeleteBookmarks,
		CreateTasks:     b.CreateTasks,
		DeleteTasks:     b.DeleteTasks,
	}
}

// RunBurst advances the state machine for all currently-runnable nodes until
// the instance reaches a terminal status or every active branch is
// suspended awaiting bookmarks, whichever comes first.
func (e *Execution) RunBurst(ctx context.Context) (*BurstResult, error) {
	startTime := time.Now()
	resuming := len(e.queue) > 0 && e.queue[0].resume
	e.callbacks.BeforeBurst(ctx, &BurstEvent{
		InstanceID:   e.instance.ID,
		DefinitionID: e.instance.DefinitionID,
		Status:       e.instance.Status,
		Resuming:     resuming,
		StartTime:    startTime,
	})

	for len(e.queue) > 0 && !e.aborted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := e.queue[0]
		e.queue = e.queue[1:]
		e.executeItem(ctx, item)
	}

	e.finalize()

	endTime := time.Now()
	e.callbacks.AfterBurst(ctx, &BurstEvent{
		InstanceID:    e.instance.ID,
		DefinitionID:  e.instance.DefinitionID,
		Status:        e.instance.Status,
		Resuming:      resuming,
		StartTime:     startTime,
		EndTime:       endTime,
		Duration:      endTime.Sub(startTime),
		BookmarkCount: len(e.createBookmarks),
	})

	return &BurstResult{
		Instance:        e.instance,
		CreateBookmarks: e.createBookmarks,
		DeleteBookmarks: e.deleteBookmarks,
		CreateTasks:     e.createTasks,
		DeleteTasks:     e.deleteTasks,
	}, nil
}

// executeItem drives a single node through one state machine step.
func (e *Execution) executeItem(ctx context.Context, item *workItem) {
	if e.skippable(item) {
		return
	}

	node, ok := e.def.Node(item.nodeID)
	if !ok {
		e.logger.Error("scheduled node not found in definition", "node_id", item.nodeID)
		e.aborted = true
		return
	}

	state := e.instance.Node(item.key, item.nodeID)
	if item.parentKey != "" {
		state.ParentKey = item.parentKey
	}
	if item.scratch != nil {
		state.Scratch = copyMap(item.scratch)
	}

	if item.resume {
		if state.Status != ActivityStatusSuspended {
			e.logger.Warn("skipping resume of non-suspended node",
				"node_key", state.Key, "status", state.Status)
			return
		}
	} else if state.Status.Terminal() {
		return
	}

	activity, ok := e.registry.Get(node.Type)
	if !ok {
		e.faultNode(ctx, node, state, NewFaultError(FaultTypeFatal,
			fmt.Sprintf("activity type %q not registered", node.Type)))
		return
	}

	state.Status = ActivityStatusRunning
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now().UTC()
	}

	run := newActivityContext(e, node, state, item.input)
	startTime := time.Now()
	e.callbacks.BeforeActivityExecution(ctx, e.activityEvent(node, state, startTime, time.Time{}, nil))

	var err error
	if item.resume {
		err = e.resumeActivity(ctx, activity, run)
	} else {
		err = e.runActivity(ctx, activity, run)
	}

	endTime := time.Now()
	e.resolve(ctx, node, state, run, err)

	event := e.activityEvent(node, state, startTime, endTime, err)
	e.callbacks.AfterActivityExecution(ctx, event)
	e.record(ctx, state, node, startTime, endTime, err)
}

func (e *Execution) runActivity(ctx context.Context, activity Activity, run *ActivityContext) error {
	// A trigger node that is executed in the burst carrying the stimulus
	// that started this instance completes immediately: it must not create
	// a bookmark waiting for the very event that launched the workflow.
	if trigger, ok := activity.(Trigger); ok && e.startStimulus != nil && !e.startStimulusUsed {
		matched, err := e.matchesStartStimulus(ctx, trigger, run)
		if err != nil {
			return err
		}
		if matched {
			e.startStimulusUsed = true
			input := e.startStimulus.Input
			if input == nil {
				input = e.startStimulus.Payload
			}
			run.CompleteWith(OutcomeDone, copyMap(input))
			return nil
		}
	}
	return activity.Execute(ctx, run)
}

func (e *Execution) resumeActivity(ctx context.Context, activity Activity, run *ActivityContext) error {
	resumable, ok := activity.(Resumable)
	if !ok {
		return NewFaultError(FaultTypeFatal,
			fmt.Sprintf("activity type %q cannot be resumed", activity.Type()))
	}
	return resumable.Resume(ctx, run)
}

func (e *Execution) matchesStartStimulus(ctx context.Context, trigger Trigger, run *ActivityContext) (bool, error) {
	stimulus, err := trigger.TriggerStimulus(ctx, run)
	if err != nil {
		return false, err
	}
	triggerHash, err := stimulus.Hash()
	if err != nil {
		return false, err
	}
	startHash, err := e.startStimulus.Hash()
	if err != nil {
		return false, err
	}
	return triggerHash == startHash, nil
}

// resolve applies the activity call's pending effects to the node state.
func (e *Execution) resolve(ctx context.Context, node *Node, state *NodeState, run *ActivityContext, err error) {
	if err != nil {
		e.faultNode(ctx, node, state, err)
		return
	}
	switch {
	case run.suspended:
		state.Status = ActivityStatusSuspended
		state.ResumePoint = run.resumePoint
	case run.completed:
		e.completeNode(ctx, node, state, run.outcome, run.output)
	case run.childCount > 0:
		// Composite waiting on scheduled children stays Running.
	default:
		// Returning without suspending, completing, or scheduling children
		// is an implicit completion with the default outcome.
		e.completeNode(ctx, node, state, OutcomeDone, nil)
	}
}

// completeNode transitions a node to Completed and notifies its parent
// composite, which may in turn complete, cascading up the tree.
func (e *Execution) completeNode(ctx context.Context, node *Node, state *NodeState, outcome string, output map[string]any) {
	state.Status = ActivityStatusCompleted
	state.Outcome = outcome
	state.Output = output
	state.ResumePoint = ""
	state.FinishedAt = time.Now().UTC()

	e.logger.Debug("activity completed", "node_key", state.Key, "outcome", outcome)
	e.notifyParent(ctx, state)
}

// notifyParent delivers a child's terminal completion to its scheduling
// composite.
func (e *Execution) notifyParent(ctx context.Context, child *NodeState) {
	if child.ParentKey == "" {
		return
	}
	parentState, ok := e.instance.Nodes[child.ParentKey]
	if !ok || parentState.Status != ActivityStatusRunning {
		return
	}
	parentNode, ok := e.def.Node(parentState.NodeID)
	if !ok {
		return
	}
	activity, ok := e.registry.Get(parentNode.Type)
	if !ok {
		return
	}
	observer, ok := activity.(ChildObserver)
	if !ok {
		return
	}

	run := newActivityContext(e, parentNode, parentState, nil)
	if err := observer.OnChildCompleted(ctx, run, child); err != nil {
		e.faultNode(ctx, parentNode, parentState, err)
		return
	}
	// The parent may have completed or suspended in response; implicit
	// completion does not apply here since composites complete explicitly.
	switch {
	case run.suspended:
		parentState.Status = ActivityStatusSuspended
		parentState.ResumePoint = run.resumePoint
	case run.completed:
		e.completeNode(ctx, parentNode, parentState, run.outcome, run.output)
	}
}

// faultNode records an incident for an unhandled activity fault and applies
// the definition's fault strategy.
func (e *Execution) faultNode(ctx context.Context, node *Node, state *NodeState, err error) {
	fault := ClassifyFault(err)
	incident := &Incident{
		ID:           NewIncidentID(),
		NodeKey:      state.Key,
		ActivityType: node.Type,
		FaultType:    fault.Type,
		Message:      fault.Cause,
		Timestamp:    time.Now().UTC(),
	}
	e.instance.Incidents = append(e.instance.Incidents, incident)

	state.Status = ActivityStatusFaulted
	state.Fault = fault.Cause
	state.FinishedAt = time.Now().UTC()

	strategy := e.def.FaultStrategy()
	e.logger.Error("activity faulted",
		"node_key", state.Key, "fault_type", fault.Type, "error", fault.Cause,
		"strategy", strategy)
	e.callbacks.OnIncident(ctx, &IncidentEvent{
		InstanceID: e.instance.ID,
		Incident:   incident,
		Strategy:   strategy,
	})

	if strategy == FaultStrategyContinue {
		// Report the faulted child to its parent so joins still converge;
		// siblings and subsequent activities proceed.
		state.Outcome = OutcomeFaulted
		e.notifyParent(ctx, state)
		return
	}
	e.aborted = true
}

// cancelBranch cancels the subtree rooted at a state key: every
// non-terminal descendant becomes Cancelled and its bookmarks (persisted or
// created this burst) are removed.
func (e *Execution) cancelBranch(rootKey string) {
	keys := e.subtreeKeys(rootKey)
	for _, key := range keys {
		e.cancelled[key] = true
		if state, ok := e.instance.Nodes[key]; ok && !state.Status.Terminal() {
			state.Status = ActivityStatusCancelled
			state.ResumePoint = ""
			state.FinishedAt = time.Now().UTC()
		}
	}

	cancelledSet := make(map[string]bool, len(keys))
	for _, key := range keys {
		cancelledSet[key] = true
	}
	for _, bookmark := range e.persistedBookmarks {
		if cancelledSet[bookmark.NodeKey] {
			e.deleteBookmarks = append(e.deleteBookmarks, bookmark.ID)
		}
	}
	var kept []*Bookmark
	for _, bookmark := range e.createBookmarks {
		if cancelledSet[bookmark.NodeKey] {
			e.dropTasksForBookmark(bookmark.ID)
			continue
		}
		kept = append(kept, bookmark)
	}
	e.createBookmarks = kept
}

func (e *Execution) dropTasksForBookmark(bookmarkID string) {
	var kept []*ScheduledTask
	for _, task := range e.createTasks {
		if task.BookmarkID != bookmarkID {
			kept = append(kept, task)
		}
	}
	e.createTasks = kept
}

// subtreeKeys returns the state keys of a branch: the root key plus every
// existing state whose parent chain reaches it.
func (e *Execution) subtreeKeys(rootKey string) []string {
	keys := []string{rootKey}
	members := map[string]bool{rootKey: true}
	// States are keyed by parent chains, so repeated sweeps converge.
	for changed := true; changed; {
		changed = false
		for key, state := range e.instance.Nodes {
			if members[key] || !members[state.ParentKey] {
				continue
			}
			members[key] = true
			keys = append(keys, key)
			changed = true
		}
	}
	return keys
}

// skippable reports whether a queued item belongs to a cancelled branch.
func (e *Execution) skippable(item *workItem) bool {
	if e.cancelled[item.key] {
		return true
	}
	if item.parentKey != "" && e.cancelled[item.parentKey] {
		return true
	}
	if parent, ok := e.instance.Nodes[item.parentKey]; ok && parent.Status == ActivityStatusCancelled {
		return true
	}
	return false
}

// finalize computes the instance status at the burst boundary.
func (e *Execution) finalize() {
	now := time.Now().UTC()
	e.instance.UpdatedAt = now

	if e.instance.Status == InstanceStatusCancelled {
		return
	}
	if e.aborted {
		e.instance.Status = InstanceStatusFaulted
		e.instance.SubStatus = "incident"
		return
	}

	rootState, rootExists := e.instance.Nodes[e.def.Root().ID]
	if rootExists && rootState.Status == ActivityStatusCompleted {
		e.instance.Status = InstanceStatusFinished
		e.instance.SubStatus = ""
		return
	}
	if rootExists && rootState.Status == ActivityStatusFaulted {
		e.instance.Status = InstanceStatusFaulted
		e.instance.SubStatus = "incident"
		return
	}
	if rootExists && rootState.Status == ActivityStatusCancelled {
		e.instance.Status = InstanceStatusCancelled
		return
	}

	for _, state := range e.instance.Nodes {
		if state.Status == ActivityStatusSuspended {
			e.instance.Status = InstanceStatusSuspended
			e.instance.SubStatus = "awaiting_stimulus"
			return
		}
	}

	// Queue drained, nothing suspended, root not terminal: the definition
	// stalled (e.g. a composite never completed). Fail closed.
	e.instance.Incidents = append(e.instance.Incidents, &Incident{
		ID:        NewIncidentID(),
		FaultType: FaultTypeFatal,
		Message:   "execution stalled: no runnable or suspended activities remain",
		Timestamp: now,
	})
	e.instance.Status = InstanceStatusFaulted
	e.instance.SubStatus = "stalled"
}

func (e *Execution) activityEvent(node *Node, state *NodeState, startTime, endTime time.Time, err error) *ActivityEvent {
	event := &ActivityEvent{
		InstanceID:   e.instance.ID,
		DefinitionID: e.instance.DefinitionID,
		NodeKey:      state.Key,
		NodeID:       node.ID,
		ActivityType: node.Type,
		Status:       state.Status,
		Outcome:      state.Outcome,
		Output:       copyMap(state.Output),
		StartTime:    startTime,
		Error:        err,
	}
	if !endTime.IsZero() {
		event.EndTime = endTime
		event.Duration = endTime.Sub(startTime)
	}
	return event
}

func (e *Execution) record(ctx context.Context, state *NodeState, node *Node, startTime, endTime time.Time, err error) {
	record := &ActivityRecord{
		ID:           NewRecordID(),
		InstanceID:   e.instance.ID,
		NodeKey:      state.Key,
		ActivityType: node.Type,
		Status:       state.Status,
		Outcome:      state.Outcome,
		Output:       copyMap(state.Output),
		StartTime:    startTime,
		Duration:     endTime.Sub(startTime).Seconds(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	if len(e.instance.Incidents) > 0 {
		last := e.instance.Incidents[len(e.instance.Incidents)-1]
		if last.NodeKey == state.Key {
			record.IncidentID = last.ID
		}
	}
	if recordErr := e.recorder.RecordActivity(ctx, record); recordErr != nil {
		e.logger.Error("failed to record activity execution", "error", recordErr)
	}
}
