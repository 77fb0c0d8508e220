package models

import "time"

// HandleKind is the content type a handle carries. Edges only connect
// handles of the same kind.
type HandleKind string

const (
	KindImage HandleKind = "image"
	KindText  HandleKind = "text"
	KindVideo HandleKind = "video"
)

// Output is a single produced value: one image, video, or text result.
// Entries are immutable once appended to a history.
type Output struct {
	Kind      HandleKind     `json:"kind"`
	URL       string         `json:"url,omitempty"`
	Data      string         `json:"data,omitempty"` // base64 payload when the provider returns bytes
	Text      string         `json:"text,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	Seed      int64          `json:"seed,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// History is the ordered list of outputs a node has produced, with a movable
// selected pointer. Selecting an older entry never truncates the list; the
// next generation appends at the tail.
type History struct {
	Entries  []Output `json:"entries"`
	Selected int      `json:"selected"` // index into Entries, -1 when empty
}
