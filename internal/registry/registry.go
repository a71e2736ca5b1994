// Package registry tracks which live notification channels belong to which
// user. Every backend keeps a forward index (user -> set of channels) and a
// reverse index (channel -> user) and changes both together.
package registry

import (
	"context"
	"errors"
)

var ErrInvalidArgument = errors.New("user id and channel id are required")

type Registry interface {
	// Register adds channelID to userID's set. Registering an existing pair
	// is a no-op; registering a channel under a new user moves it.
	Register(ctx context.Context, userID, channelID string) error
	// Unregister drops channelID from its owner's set. Unknown channels are
	// ignored.
	Unregister(ctx context.Context, channelID string) error
	// ActiveChannels lists userID's channels, empty when there are none.
	ActiveChannels(ctx context.Context, userID string) ([]string, error)
}
