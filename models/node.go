package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NodeType identifies what a node does on the canvas.
type NodeType string

const (
	TypeImageInput    NodeType = "imageInput"
	TypeAnnotation    NodeType = "annotation"
	TypePrompt        NodeType = "prompt"
	TypeGenerateImage NodeType = "generate-image"
	TypeGenerateVideo NodeType = "generate-video"
	TypeLLMGenerate   NodeType = "llm-generate"
	TypeSplitGrid     NodeType = "split-grid"
	TypeOutput        NodeType = "output"
)

// GenerationCapable reports whether nodes of this type call a provider and
// therefore carry a cost.
func (t NodeType) GenerationCapable() bool {
	switch t {
	case TypeGenerateImage, TypeGenerateVideo, TypeLLMGenerate:
		return true
	}
	return false
}

// NodeStatus is the serialized node state. The engine's internal run states
// queued and running both surface here as StatusLoading.
type NodeStatus string

const (
	StatusIdle    NodeStatus = "idle"
	StatusLoading NodeStatus = "loading"
	StatusSuccess NodeStatus = "success"
	StatusError   NodeStatus = "error"
)

// Node is one unit of work in the graph: an input, a transform, or a
// generation step. Status, Error and the output/history parts of Data are
// written by the engine; everything else is user-edited while idle.
type Node struct {
	ID        string     `json:"id"`
	Type      NodeType   `json:"type"`
	Position  Position   `json:"position"`
	Data      NodeData   `json:"data"`
	Status    NodeStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	SpawnedBy string     `json:"spawnedBy,omitempty"` // split-grid parent for spawned children
}

// NewNode creates a node of the given type with a fresh ID and an empty
// payload.
func NewNode(t NodeType) (*Node, error) {
	data, err := NewNodeData(t)
	if err != nil {
		return nil, err
	}
	return &Node{
		ID:     uuid.New().String(),
		Type:   t,
		Data:   data,
		Status: StatusIdle,
	}, nil
}

// UnmarshalJSON decodes the type-tagged data payload into its concrete
// variant so documents round-trip exactly.
func (n *Node) UnmarshalJSON(b []byte) error {
	type alias struct {
		ID        string          `json:"id"`
		Type      NodeType        `json:"type"`
		Position  Position        `json:"position"`
		Data      json.RawMessage `json:"data"`
		Status    NodeStatus      `json:"status"`
		Error     string          `json:"error"`
		SpawnedBy string          `json:"spawnedBy"`
	}
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	data, err := NewNodeData(a.Type)
	if err != nil {
		return err
	}
	if len(a.Data) > 0 && string(a.Data) != "null" {
		if err := json.Unmarshal(a.Data, data); err != nil {
			return fmt.Errorf("failed to decode %s node data: %w", a.Type, err)
		}
	}
	n.ID = a.ID
	n.Type = a.Type
	n.Position = a.Position
	n.Data = data
	n.Status = a.Status
	if n.Status == "" {
		n.Status = StatusIdle
	}
	n.Error = a.Error
	n.SpawnedBy = a.SpawnedBy
	return nil
}

// NodeData is the type-specific payload attached to a node. Every variant
// embeds OutputState, the part of the payload the engine writes.
type NodeData interface {
	State() *OutputState
}

// NewNodeData returns an empty payload for the given node type.
func NewNodeData(t NodeType) (NodeData, error) {
	switch t {
	case TypeImageInput:
		return &ImageInputData{}, nil
	case TypeAnnotation:
		return &AnnotationData{}, nil
	case TypePrompt:
		return &PromptData{}, nil
	case TypeGenerateImage:
		return &GenerateImageData{}, nil
	case TypeGenerateVideo:
		return &GenerateVideoData{}, nil
	case TypeLLMGenerate:
		return &LLMGenerateData{}, nil
	case TypeSplitGrid:
		return &SplitGridData{}, nil
	case TypeOutput:
		return &OutputData{}, nil
	default:
		return nil, fmt.Errorf("unknown node type: %q", t)
	}
}

// OutputState is the shared output/history container inside a node payload:
// the most recent resolved output plus the append-only history of prior ones.
type OutputState struct {
	Output  *Output  `json:"output,omitempty"`
	History *History `json:"history,omitempty"`
}

// State implements NodeData for every variant embedding OutputState.
func (s *OutputState) State() *OutputState { return s }

// ImageInputData holds a user-supplied source image.
type ImageInputData struct {
	ImageURL  string `json:"imageUrl,omitempty"`
	ImageData string `json:"imageData,omitempty"` // base64, used when no URL
	FileName  string `json:"fileName,omitempty"`
	OutputState
}

// AnnotationData is a text note stamped onto an image as it passes through.
type AnnotationData struct {
	Text  string `json:"text,omitempty"`
	Color string `json:"color,omitempty"`
	OutputState
}

// PromptData holds freeform prompt text.
type PromptData struct {
	Text string `json:"text,omitempty"`
	OutputState
}

// GenerateImageData configures an image generation call.
type GenerateImageData struct {
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Prompt     string `json:"prompt,omitempty"`     // inline prompt, used when no prompt edge
	Resolution string `json:"resolution,omitempty"` // preset name, see ResolutionPresets
	Seed       int64  `json:"seed,omitempty"`
	OutputState
}

// GenerateVideoData configures a video generation call.
type GenerateVideoData struct {
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	DurationSec int    `json:"durationSec,omitempty"`
	OutputState
}

// LLMGenerateData configures a text generation call.
type LLMGenerateData struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	OutputState
}

// SplitGridData configures grid splitting. Cells and ChildIDs are written by
// the engine when the node runs.
type SplitGridData struct {
	Rows     int      `json:"rows,omitempty"`
	Cols     int      `json:"cols,omitempty"`
	Cells    []Output `json:"cells,omitempty"`    // row-major
	ChildIDs []string `json:"childIds,omitempty"` // spawned generate-image nodes, in cell order
	OutputState
}

// OutputData marks a terminal display node.
type OutputData struct {
	Label string `json:"label,omitempty"`
	OutputState
}

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a canvas extent.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
