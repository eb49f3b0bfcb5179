package v1

// AgentRole is the expertise category an Agent is dispatched against.
type AgentRole string

const (
	AgentRoleCoder      AgentRole = "coder"
	AgentRoleReviewer   AgentRole = "reviewer"
	AgentRoleTester     AgentRole = "tester"
	AgentRoleDevOps     AgentRole = "devops"
	AgentRoleResearcher AgentRole = "researcher"
	AgentRoleCustom     AgentRole = "custom"
)

// AgentState is the Orchestrator's agent state machine (spec §4.4).
type AgentState string

const (
	AgentStateSpawning   AgentState = "spawning"
	AgentStateIdle       AgentState = "idle"
	AgentStateWorking    AgentState = "working"
	AgentStateError      AgentState = "error"
	AgentStateCompleted  AgentState = "completed"
	AgentStateTerminated AgentState = "terminated"
)

// Agent is a live binding of a pane to an AI-CLI process the Orchestrator
// tracks and dispatches tasks to.
type Agent struct {
	ID              string     `json:"id"`
	Role            AgentRole  `json:"role"`
	Provider        string     `json:"provider"`
	Model           *string    `json:"model,omitempty"`
	RuntimeID       string     `json:"runtimeId"`
	SessionName     string     `json:"sessionName"`
	WindowIndex     int        `json:"windowIndex"`
	PaneIndex       int        `json:"paneIndex"`
	State           AgentState `json:"state"`
	TeamID          *string    `json:"teamId,omitempty"`
	CurrentTaskID   *string    `json:"currentTaskId,omitempty"`
	Expertise       []string   `json:"expertise,omitempty"`
	CreatedAt       int64      `json:"createdAt"`
	LastActivityAt  int64      `json:"lastActivityAt"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
}

// Binding is the 4-tuple that ties a task or agent to a live pane.
type Binding struct {
	RuntimeID   string `json:"runtimeId"`
	SessionName string `json:"sessionName"`
	WindowIndex int    `json:"windowIndex"`
	PaneIndex   int    `json:"paneIndex"`
}

// AgentMessage is the optional inter-agent side-channel (spec §4.4).
type AgentMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
	Ts      int64  `json:"ts"`
	Read    bool   `json:"read"`
}

// Team groups agents, optionally bound to a pipeline.
type Team struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	AgentIDs   []string `json:"agentIds,omitempty"`
	PipelineID *string  `json:"pipelineId,omitempty"`
	CreatedAt  int64    `json:"createdAt"`
}
