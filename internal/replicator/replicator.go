package replicator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/karasz/hyperlog/internal/core"
	"github.com/karasz/hyperlog/internal/extension"
	"github.com/karasz/hyperlog/internal/wire"
)

// ErrPeerRequestFailed is returned when a block/upgrade/seek request
// terminates without being fulfilled, e.g. because the owning Range was
// destroyed (spec §7 "PeerRequestFailed").
var ErrPeerRequestFailed = errors.New("replicator: peer request failed")

type blockWaiter struct {
	ch chan blockResult
}

type blockResult struct {
	content []byte
	err     error
}

// Replicator owns the peer set for one Core and answers the façade's
// block/upgrade/seek requests by talking to those peers
// (spec §6 "Replicator contract").
type Replicator struct {
	id   string
	core *core.Core
	ext  *extension.Registry

	onUpdate func() // peer set changed
	onUpload func(index uint64, byteLength int, peer *Peer)

	mu             sync.Mutex
	peers          []*Peer
	ranges         []*Range
	pendingBlocks  map[uint64][]blockWaiter
	pendingUpgrade []chan bool
	pendingSeeks   map[uint64]chan wire.SeekReply
	nextSeekID     uint64
	opened         bool
}

// Options configures a new Replicator.
type Options struct {
	Extensions *extension.Registry
	OnUpdate   func()
	OnUpload   func(index uint64, byteLength int, peer *Peer)
}

// New creates a Replicator attached to c.
func New(c *core.Core, opts Options) *Replicator {
	ext := opts.Extensions
	if ext == nil {
		ext = extension.NewRegistry()
	}
	return &Replicator{
		id:            uuid.NewString(),
		core:          c,
		ext:           ext,
		onUpdate:      opts.OnUpdate,
		onUpload:      opts.OnUpload,
		pendingBlocks: make(map[uint64][]blockWaiter),
		pendingSeeks:  make(map[uint64]chan wire.SeekReply),
	}
}

// ID is a stable identifier for this Replicator instance, surfaced for
// diagnostics/logging.
func (r *Replicator) ID() string { return r.id }

// Peers returns the currently joined peer set.
func (r *Replicator) Peers() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Peer(nil), r.peers...)
}

// JoinProtocol attaches proto as a new peer, sends a handshake, and wires
// up frame dispatch (spec §4.11 "joinProtocol").
func (r *Replicator) JoinProtocol(proto *Protocol, key, discoveryKey []byte) (*Peer, error) {
	peer := newPeer(proto)
	proto.onFrame = func(kind wire.Kind, body []byte) { r.handleFrame(peer, kind, body) }

	r.mu.Lock()
	r.peers = append(r.peers, peer)
	opened := r.opened
	r.mu.Unlock()

	if err := proto.Open(); err != nil {
		return nil, err
	}
	if err := proto.Send(wire.KindHandshake, wire.NewHandshake(key, discoveryKey)); err != nil {
		return nil, fmt.Errorf("replicator: send handshake: %w", err)
	}
	if err := r.sendInfo(proto); err != nil {
		return nil, err
	}

	if r.onUpdate != nil {
		r.onUpdate()
	}
	if opened {
		r.flushRangesFor(peer)
	}
	return peer, nil
}

// RemovePeer detaches peer, e.g. on stream close.
func (r *Replicator) RemovePeer(peer *Peer) {
	r.mu.Lock()
	for i, p := range r.peers {
		if p == peer {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	if r.onUpdate != nil {
		r.onUpdate()
	}
}

func (r *Replicator) sendInfo(proto *Protocol) error {
	return proto.Send(wire.KindInfo, wire.Info{
		Length:     r.core.Length(),
		ByteLength: r.core.ByteLength(),
		Fork:       r.core.Fork(),
	})
}

// MarkOpened flushes any ranges registered before peers existed
// (spec §4.12 "Registration is deferred until opened").
func (r *Replicator) MarkOpened() {
	r.mu.Lock()
	r.opened = true
	peers := append([]*Peer(nil), r.peers...)
	r.mu.Unlock()
	for _, p := range peers {
		r.flushRangesFor(p)
	}
}

func (r *Replicator) handleFrame(peer *Peer, kind wire.Kind, body []byte) {
	switch kind {
	case wire.KindHandshake:
		var hs wire.Handshake
		if err := wire.DecodeBody(body, &hs); err == nil {
			peer.setIdentity(hs.Key, hs.DiscoveryKey)
		}
	case wire.KindInfo:
		var info wire.Info
		if err := wire.DecodeBody(body, &info); err == nil {
			peer.setRemoteInfo(info.Length, info.ByteLength, info.Fork)
		}
	case wire.KindHave:
		var have wire.Have
		if err := wire.DecodeBody(body, &have); err == nil {
			r.onHave(peer, have.Index)
		}
	case wire.KindRequestBlock:
		var req wire.RequestBlock
		if err := wire.DecodeBody(body, &req); err == nil {
			r.replyBlock(peer, req.Index)
		}
	case wire.KindDataBlock:
		var data wire.DataBlock
		if err := wire.DecodeBody(body, &data); err == nil {
			r.onDataBlock(peer, data.Index, data.Content)
		}
	case wire.KindRequestUpgrade:
		var req wire.RequestUpgrade
		if err := wire.DecodeBody(body, &req); err == nil {
			r.replyUpgrade(peer, req.KnownLength)
		}
	case wire.KindUpgrade:
		var up wire.Upgrade
		if err := wire.DecodeBody(body, &up); err == nil {
			r.onUpgrade(peer, up)
		}
	case wire.KindRequestSeek:
		var req wire.RequestSeek
		if err := wire.DecodeBody(body, &req); err == nil {
			r.replySeek(peer, req)
		}
	case wire.KindSeekReply:
		var rep wire.SeekReply
		if err := wire.DecodeBody(body, &rep); err == nil {
			r.onSeekReply(rep)
		}
	case wire.KindExtension:
		var ex wire.Extension
		if err := wire.DecodeBody(body, &ex); err == nil {
			r.ext.Dispatch(ex.Name, peer, ex.Payload)
		}
	}
}

func (r *Replicator) onHave(peer *Peer, index uint64) {
	r.mu.Lock()
	var active bool
	for _, rg := range r.ranges {
		if !rg.IsDestroyed() && rg.Includes(index) {
			active = true
			break
		}
	}
	r.mu.Unlock()
	if !active {
		return
	}
	if index >= r.core.Length() {
		// The peer's tree has grown past what we know; learn the new leaf
		// hashes before requesting content, so ReceiveBlock has something
		// to verify against.
		_ = peer.Proto.Send(wire.KindRequestUpgrade, wire.RequestUpgrade{KnownLength: r.core.Length()})
		return
	}
	if !r.core.HasBlock(index) {
		_ = peer.Proto.Send(wire.KindRequestBlock, wire.RequestBlock{Index: index})
	}
}

func (r *Replicator) replyBlock(peer *Peer, index uint64) {
	if !r.core.HasBlock(index) {
		return
	}
	content, err := r.core.GetBlock(index)
	if err != nil {
		return
	}
	if err := peer.Proto.Send(wire.KindDataBlock, wire.DataBlock{Index: index, Content: content}); err == nil {
		if r.onUpload != nil {
			r.onUpload(index, len(content), peer)
		}
	}
}

func (r *Replicator) onDataBlock(peer *Peer, index uint64, content []byte) {
	err := r.core.ReceiveBlock(index, content, peer)
	r.mu.Lock()
	waiters := r.pendingBlocks[index]
	delete(r.pendingBlocks, index)
	r.mu.Unlock()
	for _, w := range waiters {
		w.ch <- blockResult{content: content, err: err}
	}
}

func (r *Replicator) replyUpgrade(peer *Peer, knownLength uint64) {
	length := r.core.Length()
	if length <= knownLength {
		_ = peer.Proto.Send(wire.KindUpgrade, wire.Upgrade{Length: length, ByteLength: r.core.ByteLength(), Fork: r.core.Fork()})
		return
	}
	hashes := make([][]byte, 0, length-knownLength)
	sizes := make([]uint64, 0, length-knownLength)
	for i := knownLength; i < length; i++ {
		h, err := r.core.LeafHash(i)
		if err != nil {
			return
		}
		size, err := r.core.LeafSize(i)
		if err != nil {
			return
		}
		hashes = append(hashes, h)
		sizes = append(sizes, size)
	}
	_ = peer.Proto.Send(wire.KindUpgrade, wire.Upgrade{
		Length:     length,
		ByteLength: r.core.ByteLength(),
		Fork:       r.core.Fork(),
		Hashes:     hashes,
		Sizes:      sizes,
		Signature:  r.core.Signature(),
	})
}

func (r *Replicator) onUpgrade(peer *Peer, up wire.Upgrade) {
	peer.setRemoteInfo(up.Length, up.ByteLength, up.Fork)
	grew := false
	if up.Length > r.core.Length() && len(up.Hashes) > 0 {
		if err := r.core.ReceiveUpgrade(up.Hashes, up.Sizes, up.Signature, peer); err == nil {
			grew = true
		}
	}
	r.mu.Lock()
	waiters := r.pendingUpgrade
	r.pendingUpgrade = nil
	r.mu.Unlock()
	for _, ch := range waiters {
		ch <- grew
	}
	if grew {
		// Now that the tree covers the newly-announced indices, fetch any
		// content our active ranges still want.
		r.flushRangesFor(peer)
	}
}

func (r *Replicator) replySeek(peer *Peer, req wire.RequestSeek) {
	index, offset, err := r.core.Seek(req.Bytes, req.Padding)
	if err != nil {
		return
	}
	_ = peer.Proto.Send(wire.KindSeekReply, wire.SeekReply{RequestID: req.RequestID, Index: index, Offset: offset})
}

func (r *Replicator) onSeekReply(rep wire.SeekReply) {
	r.mu.Lock()
	ch, ok := r.pendingSeeks[rep.RequestID]
	delete(r.pendingSeeks, rep.RequestID)
	r.mu.Unlock()
	if ok {
		ch <- rep
	}
}

// RequestBlock asks peers for block index and waits for it to arrive
// (spec §6 "requestBlock(index) -> bytes").
func (r *Replicator) RequestBlock(ctx context.Context, index uint64) ([]byte, error) {
	ch := make(chan blockResult, 1)
	r.mu.Lock()
	r.pendingBlocks[index] = append(r.pendingBlocks[index], blockWaiter{ch: ch})
	peers := append([]*Peer(nil), r.peers...)
	r.mu.Unlock()

	if len(peers) == 0 {
		r.mu.Lock()
		delete(r.pendingBlocks, index)
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: no peers", ErrPeerRequestFailed)
	}
	for _, p := range peers {
		_ = p.Proto.Send(wire.KindRequestBlock, wire.RequestBlock{Index: index})
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.content, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestUpgrade asks all peers whether the tree has grown past the
// Core's current length, returning true iff it has and the growth was
// applied (spec §6 "requestUpgrade() -> bool").
func (r *Replicator) RequestUpgrade(ctx context.Context) (bool, error) {
	ch := make(chan bool, 1)
	r.mu.Lock()
	r.pendingUpgrade = append(r.pendingUpgrade, ch)
	peers := append([]*Peer(nil), r.peers...)
	r.mu.Unlock()

	if len(peers) == 0 {
		return false, fmt.Errorf("%w: no peers", ErrPeerRequestFailed)
	}
	known := r.core.Length()
	for _, p := range peers {
		_ = p.Proto.Send(wire.KindRequestUpgrade, wire.RequestUpgrade{KnownLength: known})
	}
	select {
	case grew := <-ch:
		return grew, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// RequestSeek asks a peer to resolve bytesOffset into (index, offset)
// (spec §6 "requestSeek(seekState) -> (index, offset)", §4.6).
func (r *Replicator) RequestSeek(ctx context.Context, bytesOffset, padding uint64) (uint64, uint64, error) {
	id := atomic.AddUint64(&r.nextSeekID, 1)
	ch := make(chan wire.SeekReply, 1)
	r.mu.Lock()
	r.pendingSeeks[id] = ch
	peers := append([]*Peer(nil), r.peers...)
	r.mu.Unlock()

	if len(peers) == 0 {
		r.mu.Lock()
		delete(r.pendingSeeks, id)
		r.mu.Unlock()
		return 0, 0, fmt.Errorf("%w: no peers", ErrPeerRequestFailed)
	}
	req := wire.RequestSeek{RequestID: id, Bytes: bytesOffset, Padding: padding}
	for _, p := range peers {
		_ = p.Proto.Send(wire.KindRequestSeek, req)
	}
	select {
	case rep := <-ch:
		return rep.Index, rep.Offset, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pendingSeeks, id)
		r.mu.Unlock()
		return 0, 0, ctx.Err()
	}
}

// AddRange registers rng and immediately requests any indices it covers
// that are not yet stored locally (spec §4.12).
func (r *Replicator) AddRange(rng *Range) {
	r.mu.Lock()
	r.ranges = append(r.ranges, rng)
	opened := r.opened
	r.mu.Unlock()
	if opened {
		r.flushRange(rng)
	}
}

// CreateRange builds and registers a Range in one step.
func (r *Replicator) CreateRange(start, end uint64, filter func(uint64) bool, linear bool) *Range {
	rg := NewRange(start, end, filter, linear)
	r.AddRange(rg)
	return rg
}

func (r *Replicator) flushRangesFor(peer *Peer) {
	r.mu.Lock()
	ranges := append([]*Range(nil), r.ranges...)
	r.mu.Unlock()
	for _, rg := range ranges {
		if rg.IsDestroyed() {
			continue
		}
		r.requestRangeFromPeer(rg, peer)
	}
}

func (r *Replicator) flushRange(rg *Range) {
	r.mu.Lock()
	peers := append([]*Peer(nil), r.peers...)
	r.mu.Unlock()
	for _, p := range peers {
		r.requestRangeFromPeer(rg, p)
	}
}

func (r *Replicator) requestRangeFromPeer(rg *Range, peer *Peer) {
	end := rg.End
	if end == AllIndices {
		length, _, _ := peer.RemoteState()
		end = length
	}
	for i := rg.Start; i < end; i++ {
		if rg.IsDestroyed() {
			return
		}
		if !rg.Includes(i) || r.core.HasBlock(i) {
			continue
		}
		_ = peer.Proto.Send(wire.KindRequestBlock, wire.RequestBlock{Index: i})
	}
}

// BroadcastInfo sends the Core's current (length, byteLength, fork) to
// every peer (spec §4.8, §6 "broadcastInfo").
func (r *Replicator) BroadcastInfo() {
	for _, p := range r.Peers() {
		_ = r.sendInfo(p.Proto)
	}
}

// BroadcastBlock announces that index newly became available locally
// (spec §4.8, §6 "broadcastBlock").
func (r *Replicator) BroadcastBlock(index uint64) {
	for _, p := range r.Peers() {
		_ = p.Proto.Send(wire.KindHave, wire.Have{Index: index})
	}
}

// BroadcastOptions re-sends capability/extension advertisement to every
// peer (spec §6 "broadcastOptions").
func (r *Replicator) BroadcastOptions() {
	for _, p := range r.Peers() {
		for _, name := range r.ext.Names() {
			_ = p.Proto.Send(wire.KindExtension, wire.Extension{Name: name})
		}
	}
}

// UpdateAll is the catch-all "something changed" broadcast used after a
// truncate to reconcile with peers (spec §4.5, §6 "updateAll").
func (r *Replicator) UpdateAll() {
	r.BroadcastInfo()
}

// Close tears down every joined peer's protocol, used when the owning Log
// closes its Core (spec §3 "Lifecycle").
func (r *Replicator) Close() error {
	r.mu.Lock()
	peers := append([]*Peer(nil), r.peers...)
	r.peers = nil
	r.mu.Unlock()
	var firstErr error
	for _, p := range peers {
		if err := p.Proto.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
