// Package v1 holds the daemon's wire-level domain types: the entities the
// Store persists and the RPC surface exchanges with clients.
package v1

// RuntimeKind identifies how a Runtime's multiplexer commands are reached.
type RuntimeKind string

const (
	RuntimeKindLocalMux RuntimeKind = "local-mux"
	RuntimeKindSSHMux   RuntimeKind = "ssh-mux"
	RuntimeKindDocker   RuntimeKind = "local-docker"
)

// LocalRuntimeID is reserved for the host daemon's own multiplexer.
const LocalRuntimeID = "local"

// SSHConfig describes how to reach a Runtime of kind ssh-mux.
type SSHConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	User         string `json:"user" mapstructure:"user"`
	IdentityFile string `json:"identityFile,omitempty" mapstructure:"identity_file"`
	ConfigFile   string `json:"configFile,omitempty" mapstructure:"config_file"`
}

// DockerConfig describes how to reach a Runtime of kind local-docker.
type DockerConfig struct {
	Container string `json:"container" mapstructure:"container"`
}

// Runtime is a reachable host on which multiplexer commands can be executed.
// Runtimes are created from configuration at startup; their lifetime is the
// daemon process's lifetime.
type Runtime struct {
	ID     string       `json:"id"`
	Kind   RuntimeKind  `json:"kind"`
	Label  string       `json:"label"`
	SSH    *SSHConfig   `json:"ssh,omitempty"`
	Docker *DockerConfig `json:"docker,omitempty"`
}

// RuntimeStatus reports reachability for runtime.testConnection.
type RuntimeStatus struct {
	RuntimeID string `json:"runtimeId"`
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
}
