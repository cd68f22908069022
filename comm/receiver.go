package comm

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrMalformed marks messages that will never become
// applicable. Handlers wrap it so that the sending peer
// drops the message instead of retrying it.
var ErrMalformed = errors.New("malformed message")

// Structs

// Handler is implemented by whatever owns the CRDT
// state of a replica. It gets handed every message
// a peer delivers to this replica.
type Handler interface {

	// HandleMsg buffers a broadcast operation and
	// applies it once it is causally ready.
	HandleMsg(msg *Msg) error

	// HandleSync incorporates a peer's full state.
	HandleSync(sync *SyncMsg) error
}

// Receiver bundles all information needed to accept
// and process incoming CRDT downstream messages.
type Receiver struct {
	logger  log.Logger
	name    string
	handler Handler
}

// Functions

// InitReceiver returns a receiver for replica name
// handing incoming messages to handler.
func InitReceiver(logger log.Logger, name string, handler Handler) *Receiver {

	return &Receiver{
		logger:  logger,
		name:    name,
		handler: handler,
	}
}

// Incoming is the gRPC endpoint peers deliver their
// broadcast operations to. An error makes the sending
// peer retry the message later.
func (recv *Receiver) Incoming(ctx context.Context, msg *Msg) (*Conf, error) {

	if (msg.Replica == "") || (msg.Vclock == nil) {
		return nil, status.Error(codes.InvalidArgument, "sync message is missing sender or vector clock")
	}

	if err := recv.handler.HandleMsg(msg); err != nil {

		if errors.Cause(err) == ErrMalformed {
			return nil, status.Errorf(codes.InvalidArgument, "message from %s rejected: %v", msg.Replica, err)
		}

		level.Error(recv.logger).Log(
			"msg", "failed to handle incoming CRDT message",
			"from", msg.Replica,
			"vclock", msg.Vclock.String(),
			"err", err,
		)

		return nil, status.Errorf(codes.Internal, "handling message from %s failed: %v", msg.Replica, err)
	}

	return &Conf{Status: 0}, nil
}

// Sync is the gRPC endpoint peers push their full
// state to during anti-entropy rounds.
func (recv *Receiver) Sync(ctx context.Context, sync *SyncMsg) (*Conf, error) {

	if (sync.Replica == "") || (sync.Vclock == nil) || (sync.Context == nil) {
		return nil, status.Error(codes.InvalidArgument, "state sync is missing sender, vector clock or context")
	}

	if err := recv.handler.HandleSync(sync); err != nil {

		if errors.Cause(err) == ErrMalformed {
			return nil, status.Errorf(codes.InvalidArgument, "state sync from %s rejected: %v", sync.Replica, err)
		}

		level.Error(recv.logger).Log(
			"msg", "failed to handle state sync",
			"from", sync.Replica,
			"err", err,
		)

		return nil, status.Errorf(codes.Internal, "handling state sync from %s failed: %v", sync.Replica, err)
	}

	level.Debug(recv.logger).Log(
		"msg", "incorporated state sync",
		"from", sync.Replica,
		"elements", len(sync.Elements),
	)

	return &Conf{Status: 0}, nil
}
