package types

// BackendInfo describes a registered agent backend kind.
type BackendInfo struct {
	ID          string `json:"id"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

// PersonaInfo describes a loadable persona.
type PersonaInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Backend     string `json:"backend,omitempty"`
}

// Task is one row of the external task feed.
type Task struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
}
