package v1

// Favourite keys a client's pinned entity — named but left undefined in
// spec.md §2's Store responsibility row; SPEC_FULL.md's supplemented
// features section fills in the shape.
type Favourite struct {
	ClientID   string `json:"clientId"`
	EntityType string `json:"entityType"` // "task", "lane", "pipeline", ...
	EntityID   string `json:"entityId"`
	CreatedAt  int64  `json:"createdAt"`
}

// TaskTemplate is a reusable task skeleton — spec §6 names the `template.*`
// RPC family without defining its shape; SPEC_FULL.md's supplement does.
type TaskTemplate struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Role                AgentRole `json:"role"`
	DescriptionTemplate string    `json:"descriptionTemplate"`
	DefaultPriority     int       `json:"defaultPriority"`
	BuiltIn             bool      `json:"builtIn"`
	CreatedAt           int64     `json:"createdAt"`
}
