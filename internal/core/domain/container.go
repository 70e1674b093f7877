package domain

// Container represents a container as reported by the runtime listing.
type Container struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Image  string            `json:"image"`
	Status string            `json:"status"`
	State  string            `json:"state"` // created, running, exited, etc.
	Labels map[string]string `json:"labels,omitempty"`
}

// Running reports whether the container still has a live process.
func (c Container) Running() bool {
	switch c.State {
	case "running", "restarting", "paused":
		return true
	}
	return false
}

// Exited reports whether the container has terminated.
func (c Container) Exited() bool {
	return c.State == "exited" || c.State == "dead"
}

// ContainerHandle identifies a container created for a single job.
type ContainerHandle struct {
	ID       string   `json:"id"`
	Warnings []string `json:"warnings,omitempty"`
}

// JobSpec is the fully resolved input for one container run.
type JobSpec struct {
	Image      string
	Command    []string
	WorkingDir string
	Mounts     map[string]string // host path -> container path
	Labels     map[string]string
}
