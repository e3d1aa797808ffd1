// Package transport implements the uniform duplex message channel
// abstraction: child stdio, outbound SSE+POST, and outbound
// streamable HTTP. Framing above a Transport (internal/jsonrpc) and session
// semantics above that (internal/session) are unaware of which concrete
// transport moves the bytes.
package transport

import (
	"context"
	"errors"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
)

// ErrClosed is returned by Send once the transport's own Close has been
// called. A remote end going away is reported through Inbound closing and
// Err, not through ErrClosed.
var ErrClosed = errors.New("transport closed")

// Transport is a duplex channel of JSON-RPC messages. Inbound() yields
// messages arriving from the remote peer in order; it is closed when the
// transport can no longer receive. Send writes one message; transports
// serialize concurrent Send calls internally so callers never interleave
// bytes of two messages on the wire.
type Transport interface {
	// Inbound returns the channel of messages read from the peer. It is
	// closed exactly once, when the transport can no longer read (EOF,
	// process exit, connection reset). A nil message is never sent.
	Inbound() <-chan *jsonrpc.Message

	// Send writes msg to the peer. It returns ErrClosed if the transport
	// has already been closed.
	Send(ctx context.Context, msg *jsonrpc.Message) error

	// Close releases the transport's resources. It is idempotent.
	Close() error

	// Err returns the first error observed on the inbound side (EOF,
	// decode failure, process exit), or nil while the transport is
	// healthy. Callers read it after Inbound() closes to distinguish a
	// graceful close from a failure.
	Err() error
}

// Kind names the five transport shapes, used in logs and
// metrics labels.
type Kind string

const (
	KindChildStdio Kind = "stdio"
	KindOutboundSSE Kind = "sse"
	KindOutboundStreamHTTP Kind = "streamable_http"
	KindInboundSSE Kind = "inbound_sse"
	KindInboundStreamHTTP Kind = "inbound_streamable_http"
)
