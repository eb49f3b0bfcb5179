package v1

// StageType is the scheduling shape of a pipeline Stage.
type StageType string

const (
	StageSequential StageType = "sequential"
	StageParallel   StageType = "parallel"
	StageConditional StageType = "conditional"
	StageFanOut     StageType = "fan_out"
)

// Stage is one node of a Pipeline's DAG.
type Stage struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            StageType `json:"type"`
	AgentRole       AgentRole `json:"agentRole"`
	TaskDescription string    `json:"taskDescription"`
	DependsOn       []string  `json:"dependsOn,omitempty"`
	FanOutCount     int       `json:"fanOutCount,omitempty"`
	Condition       *string   `json:"condition,omitempty"`
	TimeoutSeconds  int       `json:"timeoutSeconds,omitempty"`
}

// Pipeline is a named, versioned DAG of stages.
type Pipeline struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Stages    []Stage `json:"stages"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt int64   `json:"updatedAt"`
}

// RunStatus is the lifecycle state of a PipelineRun.
type RunStatus string

const (
	RunDraft     RunStatus = "draft"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StageResultStatus is the terminal/non-terminal status of one stage result
// inside a PipelineRun.
type StageResultStatus string

const (
	StageResultRunning   StageResultStatus = "running"
	StageResultCompleted StageResultStatus = "completed"
	StageResultFailed    StageResultStatus = "failed"
)

// StageResult records the outcome of one stage within a run.
type StageResult struct {
	Status       StageResultStatus `json:"status"`
	AgentID      *string           `json:"agentId,omitempty"`
	Output       *string           `json:"output,omitempty"`
	ErrorMessage *string           `json:"errorMessage,omitempty"`
	StartedAt    *int64            `json:"startedAt,omitempty"`
	CompletedAt  *int64            `json:"completedAt,omitempty"`
}

// PipelineRun is one execution of a Pipeline.
type PipelineRun struct {
	ID           string                  `json:"id"`
	PipelineID   string                  `json:"pipelineId"`
	Status       RunStatus               `json:"status"`
	StageResults map[string]StageResult  `json:"stageResults"`
	StartedAt    int64                   `json:"startedAt"`
	CompletedAt  *int64                  `json:"completedAt,omitempty"`
}
