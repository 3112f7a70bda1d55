package workflow

// Resolve finds the step reached by pressing the button with actionID.
//
// Each step's own choices are checked before descending into them, children
// in declaration order. With duplicate identifiers the first one found wins.
func Resolve(root *Step, actionID string) (*Step, bool) {
	if root == nil || root.Kind != KindChoices {
		return nil, false
	}
	for _, c := range root.Choices {
		if c.ActionID == actionID {
			return c.Step, true
		}
	}
	for _, c := range root.Choices {
		if s, ok := Resolve(c.Step, actionID); ok {
			return s, true
		}
	}
	return nil, false
}

// Resolve is shorthand for Resolve(t.Root, actionID).
func (t *Tree) Resolve(actionID string) (*Step, bool) {
	return Resolve(t.Root, actionID)
}
