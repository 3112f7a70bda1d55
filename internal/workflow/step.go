// Package workflow holds the declarative dialog trees that drive conversations.
//
// A tree is loaded once from YAML and never mutated afterwards, so a *Tree
// may be shared by any number of goroutines.
package workflow

// Kind tells which variant a Step is.
type Kind int

const (
	// KindTerminal is a dead end: nothing follows and no ticket is touched.
	KindTerminal Kind = iota
	// KindChoices offers the user one button per Choice.
	KindChoices
	// KindUpdate closes the dialog by requesting a ticket update.
	KindUpdate
)

func (k Kind) String() string {
	switch k {
	case KindChoices:
		return "choices"
	case KindUpdate:
		return "update_ticket"
	default:
		return "terminal"
	}
}

// Step is one node of a workflow tree.
type Step struct {
	Kind    Kind
	Message string
	// Choices is set for KindChoices, in declaration order.
	Choices []Choice
	// Update is set for KindUpdate.
	Update map[string]any
}

// Choice is an edge of the tree: a button that leads to Step.
type Choice struct {
	ActionID string
	Label    string
	Step     *Step
}

// Tree is a loaded workflow definition.
type Tree struct {
	Label    string
	Search   string // helpdesk query selecting the tickets to engage
	Schedule string // cron spec; empty uses the configured default
	Root     *Step
}

// Walk calls fn for every choice in the tree, parents before children.
func (t *Tree) Walk(fn func(parent *Step, c Choice)) {
	walk(t.Root, fn)
}

func walk(s *Step, fn func(parent *Step, c Choice)) {
	if s == nil {
		return
	}
	for _, c := range s.Choices {
		fn(s, c)
		walk(c.Step, fn)
	}
}

// Duplicates returns the action identifiers that appear more than once.
// Resolve still answers for them (first match wins) so callers only warn.
func (t *Tree) Duplicates() []string {
	seen := make(map[string]int)
	var dups []string
	t.Walk(func(_ *Step, c Choice) {
		seen[c.ActionID]++
		if seen[c.ActionID] == 2 {
			dups = append(dups, c.ActionID)
		}
	})
	return dups
}

// ActionIDs lists every action identifier in walk order.
func (t *Tree) ActionIDs() []string {
	var ids []string
	t.Walk(func(_ *Step, c Choice) {
		ids = append(ids, c.ActionID)
	})
	return ids
}
