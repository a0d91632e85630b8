package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deepnoodle-ai/conductor/script"
)

// ActivityContext is the narrow capability surface an activity executes
// against: property access with expression evaluation, instance variables,
// bookmark creation, completion signaling, and child scheduling. Activities
// never receive the execution, store, or lock provider directly.
type ActivityContext struct {
	exec  *Execution
	node  *Node
	state *NodeState
	input map[string]any

	// Pending effects, resolved by the state machine after the call.
	completed   bool
	outcome     string
	output      map[string]any
	suspended   bool
	childCount  int
	resumePoint string
}

func newActivityContext(exec *Execution, node *Node, state *NodeState, input map[string]any) *ActivityContext {
	return &ActivityContext{
		exec:  exec,
		node:  node,
		state: state,
		input: input,
	}
}

// InstanceID returns the id of the owning workflow instance
func (r *ActivityContext) InstanceID() string {
	return r.exec.instance.ID
}

// CorrelationID returns the instance's correlation id, if any
func (r *ActivityContext) CorrelationID() string {
	return r.exec.instance.CorrelationID
}

// Node returns the definition node being executed
func (r *ActivityContext) Node() *Node {
	return r.node
}

// State returns the node's execution state
func (r *ActivityContext) State() *NodeState {
	return r.state
}

// Logger returns a logger carrying instance and node attributes
func (r *ActivityContext) Logger() *slog.Logger {
	return r.exec.logger.With("node_key", r.state.Key, "activity_type", r.node.Type)
}

// Input returns the input delivered by the stimulus that resumed this
// activity. Nil outside of a resume.
func (r *ActivityContext) Input() map[string]any {
	return r.input
}

// ResumePoint returns the continuation tag recorded when the activity
// suspended. Empty outside of a resume.
func (r *ActivityContext) ResumePoint() string {
	return r.state.ResumePoint
}

// Scratch returns the activity's private persisted state, creating it on
// first use. Contents must be JSON-serializable.
func (r *ActivityContext) Scratch() map[string]any {
	if r.state.Scratch == nil {
		r.state.Scratch = map[string]any{}
	}
	return r.state.Scratch
}

// Variable returns the value of an instance variable
func (r *ActivityContext) Variable(name string) (any, bool) {
	value, ok := r.exec.instance.Variables[name]
	return value, ok
}

// SetVariable sets an instance variable
func (r *ActivityContext) SetVariable(name string, value any) {
	if r.exec.instance.Variables == nil {
		r.exec.instance.Variables = map[string]any{}
	}
	r.exec.instance.Variables[name] = value
}

// Property returns the raw value of a node property
func (r *ActivityContext) Property(name string) (any, bool) {
	value, ok := r.node.Properties[name]
	return value, ok
}

// EvalProperty returns a node property with template expansion applied:
// string values containing ${...} expressions are evaluated against the
// current globals, everything else is returned as-is.
func (r *ActivityContext) EvalProperty(ctx context.Context, name string) (any, error) {
	value, ok := r.node.Properties[name]
	if !ok {
		return nil, nil
	}
	raw, isString := value.(string)
	if !isString || !strings.Contains(raw, "${") {
		return value, nil
	}
	template, err := script.NewTemplate(r.exec.compiler, raw)
	if err != nil {
		return nil, &FaultError{Type: FaultTypeExpression, Cause: err.Error(), Wrapped: err}
	}
	result, err := template.Eval(ctx, r.globals())
	if err != nil {
		return nil, &FaultError{Type: FaultTypeExpression, Cause: err.Error(), Wrapped: err}
	}
	return result, nil
}

// StringProperty returns a node property as a string after template
// expansion. Missing properties return the empty string.
func (r *ActivityContext) StringProperty(ctx context.Context, name string) (string, error) {
	value, err := r.EvalProperty(ctx, name)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", value), nil
}

// Evaluate compiles and evaluates an expression against the current globals.
func (r *ActivityContext) Evaluate(ctx context.Context, code string) (script.Value, error) {
	compiled, err := r.exec.compiler.Compile(ctx, code)
	if err != nil {
		return nil, &FaultError{Type: FaultTypeExpression, Cause: err.Error(), Wrapped: err}
	}
	result, err := compiled.Evaluate(ctx, r.globals())
	if err != nil {
		return nil, &FaultError{Type: FaultTypeExpression, Cause: err.Error(), Wrapped: err}
	}
	return result, nil
}

// globals builds the evaluation scope for expressions: instance variables,
// delivered input, and the foreach iteration values when present.
func (r *ActivityContext) globals() map[string]any {
	globals := map[string]any{
		"variables":      copyMap(r.exec.instance.Variables),
		"input":          copyMap(r.input),
		"correlation_id": r.exec.instance.CorrelationID,
	}
	if r.state.Scratch != nil {
		if item, ok := r.state.Scratch["item"]; ok {
			globals["item"] = item
		}
		if index, ok := r.state.Scratch["index"]; ok {
			globals["index"] = index
		}
	}
	return globals
}

// CreateBookmark parks the activity on a bookmark: the node transitions to
// Suspended once the activity returns, and the containing burst ends on
// this branch. This is the only path to suspension.
func (r *ActivityContext) CreateBookmark(spec BookmarkSpec) error {
	hash, err := StimulusHash(r.node.Type, spec.Name, spec.Payload, r.exec.instance.CorrelationID)
	if err != nil {
		return fmt.Errorf("create bookmark %q: %w", spec.Name, err)
	}
	now := time.Now().UTC()
	bookmark := &Bookmark{
		ID:            NewBookmarkID(),
		InstanceID:    r.exec.instance.ID,
		NodeKey:       r.state.Key,
		ActivityType:  r.node.Type,
		Name:          spec.Name,
		Payload:       copyMap(spec.Payload),
		Hash:          hash,
		CorrelationID: r.exec.instance.CorrelationID,
		AutoBurn:      !spec.KeepAfterMatch,
		CreatedAt:     now,
		ExpiresAt:     spec.ExpiresAt,
	}
	r.exec.createBookmarks = append(r.exec.createBookmarks, bookmark)
	if spec.FireAt != nil {
		r.exec.createTasks = append(r.exec.createTasks, &ScheduledTask{
			ID:         NewTaskID(),
			BookmarkID: bookmark.ID,
			InstanceID: r.exec.instance.ID,
			Hash:       hash,
			FireAt:     spec.FireAt.UTC(),
			CreatedAt:  now,
		})
	}
	r.suspended = true
	r.resumePoint = spec.ResumePoint
	return nil
}

// Complete marks the activity completed with the default outcome.
func (r *ActivityContext) Complete() {
	r.CompleteWith(OutcomeDone, nil)
}

// CompleteWith marks the activity completed with a named outcome and an
// optional typed output stored on the node state.
func (r *ActivityContext) CompleteWith(outcome string, output map[string]any) {
	r.completed = true
	r.outcome = outcome
	r.output = output
}

// Children returns the ids of the node's children in definition order
func (r *ActivityContext) Children() []string {
	return r.node.Children
}

// ChildKey returns the state key a child node executes under, accounting
// for the iteration suffix of the current node's own key.
func (r *ActivityContext) ChildKey(childID string) string {
	return childID + r.keySuffix()
}

// ChildState returns the execution state of a child by state key
func (r *ActivityContext) ChildState(key string) (*NodeState, bool) {
	state, ok := r.exec.instance.Nodes[key]
	return state, ok
}

// ScheduleChild schedules a child node for execution within this burst.
func (r *ActivityContext) ScheduleChild(childID string) error {
	return r.ScheduleChildKeyed(childID, r.keySuffix(), nil)
}

// ScheduleChildKeyed schedules a child node under an explicit iteration
// suffix with seed scratch state. Used by foreach to instantiate the body
// once per element.
func (r *ActivityContext) ScheduleChildKeyed(childID, suffix string, scratch map[string]any) error {
	if _, ok := r.exec.def.Node(childID); !ok {
		return fmt.Errorf("node %q references unknown child %q", r.node.ID, childID)
	}
	r.childCount++
	r.exec.enqueue(&workItem{
		key:       childID + suffix,
		nodeID:    childID,
		parentKey: r.state.Key,
		scratch:   scratch,
	})
	return nil
}

// CancelBranch cancels the subtree rooted at the given child state key:
// every non-terminal descendant state becomes Cancelled and its outstanding
// bookmarks are removed so no phantom resume can arrive later.
func (r *ActivityContext) CancelBranch(childKey string) {
	r.exec.cancelBranch(childKey)
}

func (r *ActivityContext) keySuffix() string {
	return strings.TrimPrefix(r.state.Key, r.node.ID)
}
