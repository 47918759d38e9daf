package light

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidCommand = errors.New("invalid command")

// Action is a unit of work of the client.
type Action int

const (
	ActionToggleOne Action = iota
	ActionToggleMesh
	ActionProvision
	numActions
)

func (a Action) String() string {
	switch a {
	case ActionToggleOne:
		return "toggle one light"
	case ActionToggleMesh:
		return "toggle mesh lights"
	case ActionProvision:
		return "provisioning"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction maps the single byte commands 'u' (unicast), 'm' (multicast)
// and 'p' (provisioning) to actions.
func ParseAction(data []byte) (Action, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommand, data)
	}
	switch data[0] {
	case 'u':
		return ActionToggleOne, nil
	case 'm':
		return ActionToggleMesh, nil
	case 'p':
		return ActionProvision, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCommand, data)
}

// Execute runs the action on the calling goroutine.
func (c *Client) Execute(ctx context.Context, a Action) error {
	switch a {
	case ActionToggleOne:
		return c.ToggleOneLight(ctx)
	case ActionToggleMesh:
		return c.ToggleMeshLights(ctx)
	case ActionProvision:
		return c.SendProvisioningRequest(ctx)
	}
	return fmt.Errorf("%w: %v", ErrInvalidCommand, a)
}
