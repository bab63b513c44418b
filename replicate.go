package hyperlog

import (
	"fmt"
	"net"

	"github.com/karasz/hyperlog/internal/replicator"
)

// Replicate attaches this session's Log to a peer connection, joining the
// shared Replicator (spec §4.11). initiator is recorded on the wrapping
// SecureStream; both sides send their handshake as soon as they join. The
// returned *replicator.Protocol is the object a caller would stash as user-data on an outer secure stream in a full
// duplex-stream deployment; here conn is wrapped directly since the
// cryptographic stream handshake is an injectable, out-of-scope capability
// (spec §1).
func (s *Session) Replicate(conn net.Conn, initiator bool) (*replicator.Protocol, error) {
	if conn == nil {
		return nil, ErrInvalidStream
	}
	stream := replicator.NewSecureStream(conn, initiator)
	proto := replicator.NewProtocol(stream, nil)
	if _, err := s.log.replicator.JoinProtocol(proto, s.log.publicKey, s.log.discoveryKey); err != nil {
		return nil, fmt.Errorf("hyperlog: replicate: %w", err)
	}
	return proto, nil
}

// DownloadOptions configures Download (spec §4.12).
type DownloadOptions struct {
	// Start and End bound a half-open index interval. End = AllIndices
	// means "download everything from Start onward"; a zero End is treated
	// the same way.
	Start, End uint64
	// Blocks, if non-empty, overrides Start/End with the exact index set:
	// Start = min(Blocks), End = max(Blocks)+1, filtered to membership.
	Blocks []uint64
	// Linear requests indices in strict ascending order from peers rather
	// than letting the Replicator reorder for throughput.
	Linear bool
}

// AllIndices is the DownloadOptions.End sentinel meaning "download
// everything" (spec §4.12 "end = -1 means all").
const AllIndices = replicator.AllIndices

// Range is a handle on a registered download request; Destroy cancels it
// (spec §4.12).
type Range struct{ inner *replicator.Range }

// Destroy cancels the range (spec §4.12 "destroy(null) cancels it").
func (r *Range) Destroy(err error) { r.inner.Destroy(err) }

// Download registers a Replicator range covering the requested indices,
// fetching any that are not yet stored locally (spec §4.12).
func (s *Session) Download(opts DownloadOptions) *Range {
	var rng *replicator.Range
	if len(opts.Blocks) > 0 {
		rng = replicator.RangeFromBlocks(opts.Blocks, opts.Linear)
	} else {
		end := opts.End
		if end == 0 {
			end = AllIndices
		}
		rng = replicator.NewRange(opts.Start, end, nil, opts.Linear)
	}
	s.log.replicator.AddRange(rng)
	return &Range{inner: rng}
}
