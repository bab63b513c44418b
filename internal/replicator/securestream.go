// Package replicator implements the peer set, protocol framing, and block/
// upgrade/seek request machinery the log façade replicates over
// (spec §6 "Replicator contract", §4.11 "replicate").
package replicator

import (
	"io"
	"net"
)

// SecureStream is the duplex byte stream a Protocol is attached to. A real
// deployment would run a Noise handshake here (spec §1 lists "stream
// handshake" among the injectable cryptographic capabilities); this
// implementation wraps any net.Conn (including net.Pipe, used in tests)
// and exposes the same UserData slot the façade's replicate() attaches a
// Protocol to (spec §4.11).
type SecureStream struct {
	conn      net.Conn
	Initiator bool
	UserData  any

	// onError is invoked if a read/write error occurs so it can be
	// propagated to an outer stream rather than surfacing on the Log's
	// events (spec §7 "Replication-layer errors").
	onError func(error)
}

// NewSecureStream wraps conn. initiator is recorded in the Initiator field;
// the handshake order does not depend on it, as both ends send their
// handshake when they join.
func NewSecureStream(conn net.Conn, initiator bool) *SecureStream {
	return &SecureStream{conn: conn, Initiator: initiator}
}

// RawStream returns the underlying transport connection.
func (s *SecureStream) RawStream() net.Conn { return s.conn }

// OnError registers a callback for transport errors, mirroring how an
// outer duplex stream would surface errors from its embedded secure
// stream without those errors bubbling into the Log's own event stream.
func (s *SecureStream) OnError(fn func(error)) { s.onError = fn }

func (s *SecureStream) reportError(err error) {
	if err == nil || err == io.EOF {
		return
	}
	if s.onError != nil {
		s.onError(err)
	}
}

// Close closes the underlying connection.
func (s *SecureStream) Close() error { return s.conn.Close() }
