package v1

// TriState models a nullable boolean that may additionally "inherit" its
// value from the owning swim-lane at read time (spec §4.3 schema invariant).
type TriState string

const (
	TriTrue    TriState = "true"
	TriFalse   TriState = "false"
	TriInherit TriState = "inherit"
)

// Resolve returns the effective boolean for this tri-state, falling back to
// laneValue when the tri-state is "inherit" or empty.
func (t TriState) Resolve(laneValue bool) bool {
	switch t {
	case TriTrue:
		return true
	case TriFalse:
		return false
	default:
		return laneValue
	}
}

// SwimLane owns exactly one multiplexer session on its runtime. The session
// is lazily (re-)created on first task launch.
type SwimLane struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	RuntimeID           string  `json:"runtimeId"`
	WorkingDir          string  `json:"workingDir"`
	SessionName         string  `json:"sessionName"`
	SessionActive       bool    `json:"sessionActive"`
	ContextInstructions *string `json:"contextInstructions,omitempty"`
	AIProvider          *string `json:"aiProvider,omitempty"`
	Model               *string `json:"model,omitempty"`
	MemoryFileID        *string `json:"memoryFileId,omitempty"`
	AutoStart           bool    `json:"autoStart,omitempty"`
	AutoPilot           bool    `json:"autoPilot,omitempty"`
	AutoClose           bool    `json:"autoClose,omitempty"`
	UseWorktree         bool    `json:"useWorktree,omitempty"`
	CreatedAt           int64   `json:"createdAt"`
}
