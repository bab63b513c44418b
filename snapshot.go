package hyperlog

// Snapshot is an immutable (length, byteLength, fork) triple pinned at
// session creation (spec §3 "Snapshot", §4.7). While pinned, a session's
// observed length/byteLength/fork return the snapshot values regardless of
// subsequent Core growth; the underlying data is not deleted, so reads
// above the pinned length remain physically possible but are outside the
// session's contract.
type Snapshot struct {
	Length     uint64
	ByteLength uint64
	Fork       uint64
}
