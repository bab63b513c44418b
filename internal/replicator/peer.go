package replicator

import "sync"

// Peer is one connected, protocol-joined remote (spec §6 "peers: array").
type Peer struct {
	Proto *Protocol

	mu               sync.RWMutex
	key              []byte
	discoveryKey     []byte
	remoteLength     uint64
	remoteByteLength uint64
	remoteFork       uint64
}

func newPeer(proto *Protocol) *Peer { return &Peer{Proto: proto} }

func (p *Peer) setIdentity(key, discoveryKey []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = key
	p.discoveryKey = discoveryKey
}

// Key returns the remote's claimed log public key.
func (p *Peer) Key() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key
}

// DiscoveryKey returns the remote's claimed discovery key.
func (p *Peer) DiscoveryKey() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.discoveryKey
}

func (p *Peer) setRemoteInfo(length, byteLength, fork uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteLength, p.remoteByteLength, p.remoteFork = length, byteLength, fork
}

// RemoteState returns the last (length, byteLength, fork) the peer
// announced via an Info frame.
func (p *Peer) RemoteState() (length, byteLength, fork uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteLength, p.remoteByteLength, p.remoteFork
}
