package boxliteapi

// Messages below are grouped by the service that owns them, named after
// the three collaborators spec.md §4.6 lists: Guest (VM-wide lifecycle),
// Container (the single workload inside the box), and Execution (one
// command run inside that container).

// PingRequest/PingResponse check that the guest agent is alive and
// report its self-observed readiness state.
type PingRequest struct{}

type PingResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// ShutdownRequest asks the guest to terminate its container and power off.
type ShutdownRequest struct {
	GraceSeconds int `json:"grace_seconds"`
}

type ShutdownResponse struct{}

// StartContainerRequest carries everything the guest needs to exec the
// entrypoint: resolved command line, environment, and working directory
// (spec.md §4.3 Stage 2, §4.6).
type StartContainerRequest struct {
	Entrypoint []string `json:"entrypoint"`
	Cmd        []string `json:"cmd"`
	Env        []string `json:"env"`
	WorkingDir string   `json:"working_dir"`
}

type StartContainerResponse struct {
	PID int `json:"pid"`
}

// ContainerStatusRequest/Response report the workload's current state.
type ContainerStatusRequest struct{}

type ContainerStatusResponse struct {
	Running  bool `json:"running"`
	ExitCode int  `json:"exit_code"`
}

// ExecRequest starts a new command inside the running container, separate
// from the container's own entrypoint (spec.md §4.6 Execution service).
type ExecRequest struct {
	ExecID  string   `json:"exec_id"`
	Command []string `json:"command"`
	Env     []string `json:"env"`
	TTY     bool     `json:"tty"`
}

type ExecResponse struct {
	Accepted bool `json:"accepted"`
}

// ExecIOChunk multiplexes stdin (host to guest) and stdout/stderr (guest
// to host) over one stream, identified by Stream: "stdin", "stdout" or
// "stderr"; a chunk with Closed=true marks the end of that stream.
type ExecIOChunk struct {
	ExecID string `json:"exec_id"`
	Stream string `json:"stream"`
	Data   []byte `json:"data,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}

// ExecWaitRequest/Response — the exit notification for one execution.
type ExecWaitRequest struct {
	ExecID string `json:"exec_id"`
}

type ExecWaitResponse struct {
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}
