package hyperlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/karasz/hyperlog/internal/replicator"
	"github.com/karasz/hyperlog/internal/xcrypto"
)

// Session is a logical handle onto a Log, sharing its Core, Replicator,
// extensions, and key material with any sibling sessions (spec §3
// "Session"). Each Session carries its own value encoding, optional
// snapshot pin, writability flag, and event subscribers.
type Session struct {
	log *Log

	sign        xcrypto.Signer
	writable    bool
	valueEncoding Codec
	encodeBatch BatchEncoder
	snapshot    *Snapshot
	autoClose   bool

	events eventHub

	mu     sync.Mutex
	closed bool
}

func (l *Log) newSession(opts Options) *Session {
	sign := opts.Sign
	if sign == nil {
		sign = l.defaultSign
	}

	enc := opts.ValueEncoding
	if enc == nil {
		enc = RawCodec{}
	}

	s := &Session{
		log:           l,
		sign:          sign,
		writable:      sign != nil,
		valueEncoding: enc,
		encodeBatch:   opts.EncodeBatch,
		autoClose:     opts.AutoClose,
	}
	if opts.Snapshot {
		s.snapshot = &Snapshot{
			Length:     l.core.Length(),
			ByteLength: l.core.ByteLength(),
			Fork:       l.core.Fork(),
		}
	}

	l.addSession(s)
	s.events.emitReady()
	return s
}

// Session opens a sibling session sharing this one's Log (spec §4.1
// "from").
func (s *Session) Session(opts Options) (*Session, error) {
	s.log.mu.Lock()
	closing := s.log.closing
	s.log.mu.Unlock()
	if closing {
		return nil, ErrSessionClosing
	}
	return s.log.newSession(opts), nil
}

// Writable reports whether this session has a signer and may Append or
// Truncate (spec §8 invariant 4: writable <=> signer present).
func (s *Session) Writable() bool { return s.writable }

// PublicKey returns the log's 32-byte public key.
func (s *Session) PublicKey() []byte { return s.log.publicKey }

// DiscoveryKey returns the log's derived rendezvous token.
func (s *Session) DiscoveryKey() []byte { return s.log.discoveryKey }

// EncryptionEnabled reports whether transparent block encryption is enabled.
func (s *Session) EncryptionEnabled() bool { return s.log.encryption != nil }

// Padding is the per-block encryption overhead, zero when disabled.
func (s *Session) Padding() int { return s.log.Padding() }

// Length is the session's observed block count: the snapshot's pinned
// value if one was taken at creation, else the Core's live length.
func (s *Session) Length() uint64 {
	if s.snapshot != nil {
		return s.snapshot.Length
	}
	return s.log.core.Length()
}

// ByteLength mirrors Length for total stored bytes.
func (s *Session) ByteLength() uint64 {
	if s.snapshot != nil {
		return s.snapshot.ByteLength
	}
	return s.log.core.ByteLength()
}

// Fork mirrors Length for the current fork counter.
func (s *Session) Fork() uint64 {
	if s.snapshot != nil {
		return s.snapshot.Fork
	}
	return s.log.core.Fork()
}

// Peers returns the Replicator's currently joined peer set.
func (s *Session) Peers() []*replicator.Peer {
	return s.log.replicator.Peers()
}

// Has reports whether block index is stored locally, clamped to the
// session's observed length (spec §8 boundary behaviors).
func (s *Session) Has(index uint64) bool {
	if index >= s.Length() {
		return false
	}
	return s.log.core.HasBlock(index)
}

// GetOptions configures a Get call.
type GetOptions struct {
	// Wait, if false, makes Get return (nil, false, nil) immediately for a
	// locally-absent block instead of contacting peers (spec §4.3).
	Wait *bool
	// ValueEncoding overrides the session's encoding for this call only.
	ValueEncoding Codec
	// OnWait is invoked with index before a Replicator request is issued.
	OnWait func(index uint64)
}

func (o GetOptions) wait() bool { return o.Wait == nil || *o.Wait }

// Get resolves the decoded block at index, or ok=false iff Wait is
// explicitly false and the block is absent locally (spec §4.3).
func (s *Session) Get(ctx context.Context, index uint64, opts GetOptions) (value []byte, ok bool, err error) {
	if index >= s.Length() {
		if !opts.wait() {
			return nil, false, nil
		}
	}

	if s.log.cache != nil {
		if cached, hit := s.log.cache.Get(index); hit {
			decoded, err := s.decode(opts, cached)
			return decoded, true, err
		}
	}

	forkAtStart := s.log.core.Fork()

	var raw []byte
	if s.log.core.HasBlock(index) {
		raw, err = s.log.core.GetBlock(index)
		if err != nil {
			return nil, false, wrapErr(ErrStorage, err)
		}
	} else {
		if !opts.wait() {
			return nil, false, nil
		}
		if opts.OnWait != nil {
			opts.OnWait(index)
		}
		raw, err = s.log.replicator.RequestBlock(ctx, index)
		if err != nil {
			return nil, false, wrapErr(ErrPeerRequestFailed, err)
		}
	}

	plain := raw
	if s.log.encryption != nil {
		plain, err = s.log.encryption.Decrypt(index, s.log.core.Fork(), raw)
		if err != nil {
			return nil, false, wrapErr(ErrCrypto, err)
		}
	}

	if s.log.cache != nil && s.log.core.Fork() == forkAtStart && len(plain) > 0 {
		s.log.cache.Put(index, plain)
	}

	decoded, err := s.decode(opts, plain)
	return decoded, true, err
}

func (s *Session) decode(opts GetOptions, plain []byte) ([]byte, error) {
	enc := opts.ValueEncoding
	if enc == nil {
		enc = s.valueEncoding
	}
	if enc == nil {
		return plain, nil
	}
	return enc.Decode(plain)
}

// Append extends the log with one or more blocks, returning the new
// (length, byteLength). Requires Writable (spec §4.4).
func (s *Session) Append(buffers ...[]byte) (length, byteLength uint64, err error) {
	if !s.writable {
		return 0, 0, ErrNotWritable
	}
	if len(buffers) == 0 {
		return s.log.core.Length(), s.log.core.ByteLength(), nil
	}

	encoded := buffers
	if s.encodeBatch != nil {
		encoded, err = s.encodeBatch(buffers)
		if err != nil {
			return 0, 0, fmt.Errorf("hyperlog: encodeBatch: %w", err)
		}
	} else if s.valueEncoding != nil {
		encoded = make([][]byte, len(buffers))
		for i, b := range buffers {
			encoded[i], err = s.valueEncoding.Encode(b)
			if err != nil {
				return 0, 0, fmt.Errorf("hyperlog: encode block %d: %w", i, err)
			}
		}
	}

	var preappend func(buffers [][]byte, startIndex, fork uint64) error
	if s.log.encryption != nil {
		preappend = func(buffers [][]byte, startIndex, fork uint64) error {
			for i, b := range buffers {
				ct, err := s.log.encryption.Encrypt(startIndex+uint64(i), fork, b)
				if err != nil {
					return err
				}
				buffers[i] = ct
			}
			return nil
		}
	}

	length, byteLength, err = s.log.core.Append(encoded, s.sign, preappend)
	if err != nil {
		return 0, 0, wrapErr(ErrStorage, err)
	}
	return length, byteLength, nil
}

// Truncate discards every block at or beyond newLength and bumps fork. A
// negative-equivalent "unset" fork (pass the session's current fork + 1,
// or use TruncateToFork for an explicit value) matches the spec's
// `fork = -1` sentinel by convention; Truncate always auto-increments.
// Requires Writable (spec §4.5).
func (s *Session) Truncate(newLength uint64) error {
	return s.TruncateToFork(newLength, s.log.core.Fork()+1)
}

// TruncateToFork truncates to newLength at an explicit fork number.
func (s *Session) TruncateToFork(newLength, fork uint64) error {
	if !s.writable {
		return ErrNotWritable
	}
	if err := s.log.core.Truncate(newLength, fork, s.sign); err != nil {
		return wrapErr(ErrStorage, err)
	}
	if s.log.replicator != nil {
		s.log.replicator.UpdateAll()
	}
	return nil
}

// Seek translates a byte offset into (blockIndex, relativeOffset),
// consulting the Replicator if the local tree cannot resolve it
// (spec §4.6).
func (s *Session) Seek(ctx context.Context, bytesOffset uint64) (index, offset uint64, err error) {
	index, offset, err = s.log.core.Seek(bytesOffset, uint64(s.Padding()))
	if err == nil {
		return index, offset, nil
	}
	index, offset, rerr := s.log.replicator.RequestSeek(ctx, bytesOffset, uint64(s.Padding()))
	if rerr != nil {
		return 0, 0, wrapErr(ErrPeerRequestFailed, rerr)
	}
	return index, offset, nil
}

// Snapshot creates a child session pinned to this session's current
// (length, byteLength, fork) (spec §4.7).
func (s *Session) Snapshot() *Session {
	pinned := Snapshot{Length: s.Length(), ByteLength: s.ByteLength(), Fork: s.Fork()}
	child := s.log.newSession(Options{Snapshot: true, Sign: s.sign, ValueEncoding: s.valueEncoding})
	child.snapshot = &pinned
	return child
}

// SetUserData stores a key/value pair in the Core's header user-data
// region (spec §4.13).
func (s *Session) SetUserData(key string, value []byte) error {
	if err := s.log.core.SetUserData(key, value); err != nil {
		return wrapErr(ErrStorage, err)
	}
	return nil
}

// GetUserData retrieves a previously stored value.
func (s *Session) GetUserData(key string) ([]byte, bool) {
	return s.log.core.GetUserData(key)
}

// TreeHash returns the cryptographic hash of the Merkle roots at length
// (defaulting to the session's current length) (spec §4.13).
func (s *Session) TreeHash(length ...uint64) ([]byte, error) {
	l := s.Length()
	if len(length) > 0 {
		l = length[0]
	}
	h, err := s.log.core.TreeHash(l)
	if err != nil {
		return nil, wrapErr(ErrStorage, err)
	}
	return h, nil
}

// Close detaches this session from its Log. The last session to close
// closes the shared Core and reports isLast=true (spec §3 "Lifecycle",
// §8 scenario 6).
func (s *Session) Close() (isLast bool, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	isLast, err = s.log.removeSession(s)
	if !isLast && s.autoClose {
		s.log.mu.Lock()
		var remaining *Session
		if len(s.log.sessions) == 1 {
			remaining = s.log.sessions[0]
		}
		s.log.mu.Unlock()
		if remaining != nil {
			if _, cerr := remaining.Close(); cerr != nil && cerr != ErrClosed && err == nil {
				err = cerr
			}
		}
	}
	s.events.emitClose(isLast)
	return isLast, err
}
