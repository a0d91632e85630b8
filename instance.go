package conductor

import (
	"time"

	"go.jetify.com/typeid"
)

// NewInstanceID returns a new unique workflow instance identifier
func NewInstanceID() string {
	id, err := typeid.WithPrefix("wf")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// InstanceStatus represents the status of a workflow instance
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusSuspended InstanceStatus = "suspended"
	InstanceStatusFinished  InstanceStatus = "finished"
	InstanceStatusFaulted   InstanceStatus = "faulted"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusFinished || s == InstanceStatusFaulted || s == InstanceStatusCancelled
}

// ActivityStatus represents the lifecycle state of a single activity node
type ActivityStatus string

const (
	ActivityStatusPending   ActivityStatus = "pending"
	ActivityStatusRunning   ActivityStatus = "running"
	ActivityStatusSuspended ActivityStatus = "suspended"
	ActivityStatusCompleted ActivityStatus = "completed"
	ActivityStatusFaulted   ActivityStatus = "faulted"
	ActivityStatusCancelled ActivityStatus = "cancelled"
)

// Terminal reports whether the status is final for the activity.
func (s ActivityStatus) Terminal() bool {
	return s == ActivityStatusCompleted || s == ActivityStatusFaulted || s == ActivityStatusCancelled
}

// JoinMode selects the fan-in policy of a composite activity.
type JoinMode string

const (
	JoinWaitAll JoinMode = "wait_all"
	JoinWaitAny JoinMode = "wait_any"
)

// JoinState tracks fan-in progress for a composite node. It lives on the
// scheduling node's own state rather than as a separate global entity.
type JoinState struct {
	Mode      JoinMode `json:"mode"`
	Expected  []string `json:"expected"`
	Completed []string `json:"completed,omitempty"`
}

// MarkCompleted records a branch completion. It is idempotent per branch.
func (j *JoinState) MarkCompleted(key string) {
	for _, done := range j.Completed {
		if done == key {
			return
		}
	}
	j.Completed = append(j.Completed, key)
}

// Satisfied reports whether the join policy has been met.
func (j *JoinState) Satisfied() bool {
	switch j.Mode {
	case JoinWaitAny:
		return len(j.Completed) > 0 || len(j.Expected) == 0
	default:
		return len(j.Completed) >= len(j.Expected)
	}
}

// Copy returns a copy of the join state.
func (j *JoinState) Copy() *JoinState {
	if j == nil {
		return nil
	}
	return &JoinState{
		Mode:      j.Mode,
		Expected:  append([]string(nil), j.Expected...),
		Completed: append([]string(nil), j.Completed...),
	}
}

// NodeState tracks the execution state of one activity node instance. Nodes
// inside foreach iterations execute once per element, so states are keyed by
// node id plus an iteration suffix. This struct is fully JSON serializable.
type NodeState struct {
	Key         string         `json:"key"`
	NodeID      string         `json:"node_id"`
	ParentKey   string         `json:"parent_key,omitempty"`
	Status      ActivityStatus `json:"status"`
	ResumePoint string         `json:"resume_point,omitempty"`
	Outcome     string         `json:"outcome,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Join        *JoinState     `json:"join,omitempty"`
	Scratch     map[string]any `json:"scratch,omitempty"`
	Fault       string         `json:"fault,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	FinishedAt  time.Time      `json:"finished_at,omitzero"`
}

// Copy returns a copy of the node state with its own maps.
func (n *NodeState) Copy() *NodeState {
	dup := *n
	dup.Output = copyMap(n.Output)
	dup.Scratch = copyMap(n.Scratch)
	dup.Join = n.Join.Copy()
	return &dup
}

// Incident records an unhandled fault within a workflow instance. Incidents
// are append-only and never mutated after creation.
type Incident struct {
	ID           string    `json:"id"`
	NodeKey      string    `json:"node_key"`
	ActivityType string    `json:"activity_type"`
	FaultType    string    `json:"fault_type"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewIncidentID returns a new unique incident identifier
func NewIncidentID() string {
	id, err := typeid.WithPrefix("inc")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Instance represents one execution of a workflow definition. It is owned
// exclusively by a single Execution during a burst and persisted atomically
// at burst boundaries. The struct is fully JSON serializable.
type Instance struct {
	ID                string                `json:"id"`
	DefinitionID      string                `json:"definition_id"`
	DefinitionVersion int                   `json:"definition_version"`
	Status            InstanceStatus        `json:"status"`
	SubStatus         string                `json:"sub_status,omitempty"`
	CorrelationID     string                `json:"correlation_id,omitempty"`
	Variables         map[string]any        `json:"variables"`
	Nodes             map[string]*NodeState `json:"nodes"`
	Incidents         []*Incident           `json:"incidents,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// NewInstance creates a new instance of the given definition.
func NewInstance(def *Definition, correlationID string) *Instance {
	now := time.Now().UTC()
	variables := copyMap(def.InitialVariables())
	if variables == nil {
		variables = map[string]any{}
	}
	return &Instance{
		ID:                NewInstanceID(),
		DefinitionID:      def.ID(),
		DefinitionVersion: def.Version(),
		Status:            InstanceStatusRunning,
		CorrelationID:     correlationID,
		Variables:         variables,
		Nodes:             map[string]*NodeState{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Node returns the state for a node key, creating a Pending state if absent.
func (i *Instance) Node(key, nodeID string) *NodeState {
	if state, ok := i.Nodes[key]; ok {
		return state
	}
	state := &NodeState{Key: key, NodeID: nodeID, Status: ActivityStatusPending}
	i.Nodes[key] = state
	return state
}

// Copy returns a deep copy of the instance.
func (i *Instance) Copy() *Instance {
	dup := *i
	dup.Variables = copyMap(i.Variables)
	dup.Nodes = make(map[string]*NodeState, len(i.Nodes))
	for key, state := range i.Nodes {
		dup.Nodes[key] = state.Copy()
	}
	dup.Incidents = make([]*Incident, len(i.Incidents))
	for idx, incident := range i.Incidents {
		inc := *incident
		dup.Incidents[idx] = &inc
	}
	if len(dup.Incidents) == 0 {
		dup.Incidents = nil
	}
	return &dup
}

// copyMap creates a shallow copy of a map
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	dup := make(map[string]any, len(m))
	for k, v := range m {
		dup[k] = v
	}
	return dup
}
