package talk

import (
	"errors"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

var (
	// ErrUnknownAction is returned when an action identifier is not in the tree.
	// The event is dropped; the user sees no reply.
	ErrUnknownAction = errors.New("unknown action")
	// ErrUnknownWorkflow is returned when no engine is registered for a label.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrMalformedAction is returned for inbound actions missing required fields.
	ErrMalformedAction = protocol.ErrMalformedAction
)
