package models

import "fmt"

// Handle names shared across node types.
const (
	HandleImage  = "image"
	HandleText   = "text"
	HandlePrompt = "prompt"
	HandleVideo  = "video"
)

// HandleSpec describes one named, typed port on a node.
type HandleSpec struct {
	Name string
	Kind HandleKind
}

// nodeHandles maps each node type to its fixed input and output ports.
// split-grid output handles are dynamic (cell-{row}-{col}) and resolved in
// OutputHandle.
var nodeHandles = map[NodeType]struct {
	Inputs  []HandleSpec
	Outputs []HandleSpec
}{
	TypeImageInput: {
		Outputs: []HandleSpec{{HandleImage, KindImage}},
	},
	TypeAnnotation: {
		Inputs:  []HandleSpec{{HandleImage, KindImage}},
		Outputs: []HandleSpec{{HandleImage, KindImage}},
	},
	TypePrompt: {
		Outputs: []HandleSpec{{HandleText, KindText}},
	},
	TypeGenerateImage: {
		Inputs:  []HandleSpec{{HandlePrompt, KindText}, {HandleImage, KindImage}},
		Outputs: []HandleSpec{{HandleImage, KindImage}},
	},
	TypeGenerateVideo: {
		Inputs:  []HandleSpec{{HandlePrompt, KindText}, {HandleImage, KindImage}},
		Outputs: []HandleSpec{{HandleVideo, KindVideo}},
	},
	TypeLLMGenerate: {
		Inputs:  []HandleSpec{{HandlePrompt, KindText}},
		Outputs: []HandleSpec{{HandleText, KindText}},
	},
	TypeSplitGrid: {
		Inputs: []HandleSpec{{HandleImage, KindImage}},
	},
	TypeOutput: {
		Inputs: []HandleSpec{{HandleImage, KindImage}, {HandleText, KindText}, {HandleVideo, KindVideo}},
	},
}

// InputHandles returns the input ports defined for a node type.
func InputHandles(t NodeType) []HandleSpec {
	return nodeHandles[t].Inputs
}

// OutputHandles returns the fixed output ports defined for a node type.
func OutputHandles(t NodeType) []HandleSpec {
	return nodeHandles[t].Outputs
}

// InputHandle resolves a named input port on this node.
func (n *Node) InputHandle(name string) (HandleSpec, bool) {
	for _, h := range nodeHandles[n.Type].Inputs {
		if h.Name == name {
			return h, true
		}
	}
	return HandleSpec{}, false
}

// OutputHandle resolves a named output port on this node, including the
// dynamic cell handles of a configured split-grid.
func (n *Node) OutputHandle(name string) (HandleSpec, bool) {
	if n.Type == TypeSplitGrid {
		row, col, ok := ParseCellHandle(name)
		if !ok {
			return HandleSpec{}, false
		}
		data, _ := n.Data.(*SplitGridData)
		if data == nil || row >= data.Rows || col >= data.Cols {
			return HandleSpec{}, false
		}
		return HandleSpec{Name: name, Kind: KindImage}, true
	}
	for _, h := range nodeHandles[n.Type].Outputs {
		if h.Name == name {
			return h, true
		}
	}
	return HandleSpec{}, false
}

// CellHandle returns the split-grid output handle name for a grid cell.
func CellHandle(row, col int) string {
	return fmt.Sprintf("cell-%d-%d", row, col)
}

// ParseCellHandle parses a cell-{row}-{col} handle name.
func ParseCellHandle(name string) (row, col int, ok bool) {
	if _, err := fmt.Sscanf(name, "cell-%d-%d", &row, &col); err != nil {
		return 0, 0, false
	}
	if row < 0 || col < 0 || CellHandle(row, col) != name {
		return 0, 0, false
	}
	return row, col, true
}
