package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a workflow definition that cannot be loaded.
var ErrInvalid = errors.New("invalid workflow")

// LoadFile reads and parses a single workflow file.
func LoadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return t, nil
}

// LoadDir loads every file matching pattern (e.g. "configs/*.yaml").
// Labels must be unique across the files.
func LoadDir(pattern string) ([]*Tree, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("workflow: glob %q: %w", pattern, err)
	}
	sort.Strings(paths)

	var trees []*Tree
	byLabel := make(map[string]string)
	for _, p := range paths {
		t, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := byLabel[t.Label]; ok {
			return nil, fmt.Errorf("workflow: %s: %w: label %q already defined in %s", p, ErrInvalid, t.Label, prev)
		}
		byLabel[t.Label] = p
		trees = append(trees, t)
	}
	return trees, nil
}

// Parse decodes a workflow document.
//
//	label: remediation
//	search: "tags:remediation status:open"
//	message: "Hi, is machine {barcode} up to date?"
//	choices:
//	  updated:
//	    label: "Yes"
//	    message: "Thanks!"
//	    update_ticket: {status: solved}
func Parse(data []byte) (*Tree, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalid)
	}

	t := &Tree{}
	for key, val := range pairs(root) {
		switch key {
		case "label":
			t.Label = val.Value
		case "search":
			t.Search = val.Value
		case "schedule":
			t.Schedule = val.Value
		}
	}
	if t.Label == "" {
		return nil, fmt.Errorf("%w: label is required", ErrInvalid)
	}

	step, err := parseStep(root, "")
	if err != nil {
		return nil, err
	}
	t.Root = step
	return t, nil
}

func parseStep(n *yaml.Node, path string) (*Step, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s must be a mapping", ErrInvalid, display(path))
	}

	var (
		message    *yaml.Node
		choicesN   *yaml.Node
		updateNode *yaml.Node
	)
	for key, val := range pairs(n) {
		switch key {
		case "message":
			message = val
		case "choices":
			choicesN = val
		case "update_ticket":
			updateNode = val
		}
	}
	if message == nil || message.Kind != yaml.ScalarNode || message.Value == "" {
		return nil, fmt.Errorf("%w: %s: message is required", ErrInvalid, display(path))
	}

	s := &Step{Message: message.Value}

	if choicesN != nil && !isNull(choicesN) {
		if choicesN.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: %s: choices must be a mapping", ErrInvalid, display(path))
		}
		for actionID, child := range pairs(choicesN) {
			childPath := join(path, "choices."+actionID)
			if actionID == "" {
				return nil, fmt.Errorf("%w: %s: empty action identifier", ErrInvalid, display(path))
			}
			step, err := parseStep(child, childPath)
			if err != nil {
				return nil, err
			}
			label := actionID
			for k, v := range pairs(child) {
				if k == "label" && v.Value != "" {
					label = v.Value
				}
			}
			s.Choices = append(s.Choices, Choice{ActionID: actionID, Label: label, Step: step})
		}
	}

	if updateNode != nil && !isNull(updateNode) {
		if updateNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: %s: update_ticket must be a mapping", ErrInvalid, display(path))
		}
		var payload map[string]any
		if err := updateNode.Decode(&payload); err != nil {
			return nil, fmt.Errorf("%w: %s: update_ticket: %v", ErrInvalid, display(path), err)
		}
		s.Update = payload
	}

	switch {
	case len(s.Choices) > 0:
		s.Kind = KindChoices
		s.Update = nil
	case s.Update != nil:
		s.Kind = KindUpdate
	default:
		s.Kind = KindTerminal
	}
	return s, nil
}

// pairs iterates a mapping node's key/value pairs in document order.
func pairs(n *yaml.Node) func(yield func(string, *yaml.Node) bool) {
	return func(yield func(string, *yaml.Node) bool) {
		for i := 0; i+1 < len(n.Content); i += 2 {
			if !yield(n.Content[i].Value, n.Content[i+1]) {
				return
			}
		}
	}
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func join(path, elem string) string {
	if path == "" {
		return elem
	}
	return path + "." + elem
}

func display(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
