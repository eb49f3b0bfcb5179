package v1

// TaskStatus is the Orchestrator/TaskLauncher state machine for a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// KanbanColumn is the board-facing lane a task sits in, distinct from its
// internal TaskStatus.
type KanbanColumn string

const (
	KanbanBacklog    KanbanColumn = "backlog"
	KanbanTodo       KanbanColumn = "todo"
	KanbanInProgress KanbanColumn = "in_progress"
	KanbanInReview   KanbanColumn = "in_review"
	KanbanDone       KanbanColumn = "done"
)

// VerificationStatus tracks whether a completed task's sentinel summary was
// well-formed.
type VerificationStatus string

const (
	VerificationNone    VerificationStatus = "none"
	VerificationPending VerificationStatus = "pending"
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
)

// Task is the unit of work the Orchestrator and TaskLauncher drive forward.
type Task struct {
	ID                 string              `json:"id"`
	SwimLaneID         *string             `json:"swimLaneId,omitempty"`
	Description         string              `json:"description"`
	Details             *string             `json:"details,omitempty"`
	TargetRole          *string             `json:"targetRole,omitempty"`
	Priority            int                 `json:"priority"`
	Status              TaskStatus          `json:"status"`
	KanbanColumn        KanbanColumn        `json:"kanbanColumn"`
	AutoStart           TriState            `json:"autoStart,omitempty"`
	AutoPilot           TriState            `json:"autoPilot,omitempty"`
	AutoClose           TriState            `json:"autoClose,omitempty"`
	UseWorktree         TriState            `json:"useWorktree,omitempty"`
	AIProvider          *string             `json:"aiProvider,omitempty"`
	AIModel             *string             `json:"aiModel,omitempty"`
	DependsOn           []string            `json:"dependsOn,omitempty"`
	ParentTaskID        *string             `json:"parentTaskId,omitempty"`
	SubtaskIDs          []string            `json:"subtaskIds,omitempty"`
	Output              *string             `json:"output,omitempty"`
	ErrorMessage        *string             `json:"errorMessage,omitempty"`
	VerificationStatus  VerificationStatus  `json:"verificationStatus"`
	AssignedAgentID     *string             `json:"assignedAgentId,omitempty"`
	TmuxSessionName     *string             `json:"tmuxSessionName,omitempty"`
	TmuxWindowIndex     *int                `json:"tmuxWindowIndex,omitempty"`
	TmuxPaneIndex       *int                `json:"tmuxPaneIndex,omitempty"`
	TmuxRuntimeID       *string             `json:"tmuxRuntimeId,omitempty"`
	WorktreePath        *string             `json:"worktreePath,omitempty"`
	PipelineStageID     *string             `json:"pipelineStageId,omitempty"`
	DoneAt              *int64              `json:"doneAt,omitempty"`
	CreatedAt           int64               `json:"createdAt"`
	StartedAt           *int64              `json:"startedAt,omitempty"`
	CompletedAt         *int64              `json:"completedAt,omitempty"`
}

// IsTaskBox reports whether t aggregates subtasks rather than being leaf work
// (spec §3 invariant ii).
func (t *Task) IsTaskBox() bool {
	return len(t.SubtaskIDs) > 0
}

// TaskEvent records a single state transition for the audit log supplement
// described in SPEC_FULL.md.
type TaskEvent struct {
	ID        int64         `json:"id"`
	TaskID    string        `json:"taskId"`
	OldColumn *KanbanColumn `json:"oldColumn,omitempty"`
	NewColumn *KanbanColumn `json:"newColumn,omitempty"`
	Actor     string        `json:"actor,omitempty"`
	CreatedAt int64         `json:"createdAt"`
}
