package capture

import (
	"context"

	"github.com/jonathanvineet/DAIO/internal/model"
)

// Connector opens connections to a frame source.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
	Describe() string
}

// Conn is a live connection to a frame source. It is owned by a single
// goroutine. Read returns ErrBadFrame for a payload that could not be
// decoded; any other error means the connection is unusable.
type Conn interface {
	Read(ctx context.Context) (*model.Frame, error)
	Close() error
}
