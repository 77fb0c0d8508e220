package models

// Edge is a directed data dependency from a source output handle to a target
// input handle. A paused edge stays in the graph structurally but carries no
// data until unpaused.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
	Paused       bool   `json:"paused,omitempty"`
}

// Group is an organizational container on the canvas. It owns node IDs for
// selection and collective movement only and has no execution semantics.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Color    string   `json:"color,omitempty"`
	Position Position `json:"position"`
	Size     Size     `json:"size"`
	Locked   bool     `json:"locked,omitempty"`
	NodeIDs  []string `json:"nodeIds,omitempty"`
}
