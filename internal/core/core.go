package core

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/karasz/hyperlog/internal/xcrypto"
)

// UpdateStatus is the 2-bit mask the Core reports on every mutation
// (spec §4.8 "_oncoreupdate").
type UpdateStatus uint8

const (
	UpdateAppend   UpdateStatus = 1 << 0
	UpdateTruncate UpdateStatus = 1 << 1
)

// UpdateEvent describes one Core mutation. AppendStart/AppendEnd bound the
// half-open range of newly available indices for an append; TruncateFrom
// (the new length, i.e. the first removed index) and NewFork describe a
// truncation; Value/ValueIndex carry a concrete block
// payload when one was supplied locally or just arrived from a peer
// (spec §4.8).
type UpdateEvent struct {
	Status       UpdateStatus
	AppendStart  uint64
	AppendEnd    uint64
	TruncateFrom uint64
	NewFork      uint64
	Value        []byte
	ValueIndex   uint64
	From         any
}

// OnUpdate is invoked synchronously after the Core's lock is released, once
// per non-empty Append and once per Truncate, ReceiveUpgrade, or
// ReceiveBlock call.
type OnUpdate func(UpdateEvent)

// PreappendFunc is invoked with the final buffers and the index/fork they
// will be written at, immediately before they are persisted. Block
// encryption (spec §4.4) is implemented as a PreappendFunc because the
// assigned index is only known once the Core's append lock is held.
type PreappendFunc func(buffers [][]byte, startIndex, fork uint64) error

// Options configures Open.
type Options struct {
	CreateIfMissing bool
	Overwrite       bool
	KeyPair         xcrypto.KeyPair
	Crypto          xcrypto.Capability
	OnUpdate        OnUpdate
}

// Core is the persistent Merkle tree, block store, presence bitfield, and
// oplog header for one log (spec §6 "Core contract").
type Core struct {
	mu sync.Mutex

	crypto xcrypto.Capability

	tree     *Tree
	blocks   *Blocks
	bitfield *Bitfield
	oplog    *Oplog

	publicKey   []byte
	fork        uint64
	signature   []byte
	defaultSign xcrypto.Signer

	onupdate OnUpdate
}

// Open opens (creating if necessary) a Core against the files factory
// produces.
func Open(factory Factory, opts Options) (*Core, error) {
	crypto := opts.Crypto
	if crypto == nil {
		crypto = xcrypto.Default
	}

	oplogFile, err := factory(NameOplog)
	if err != nil {
		return nil, err
	}
	treeFile, err := factory(NameTree)
	if err != nil {
		return nil, err
	}
	bitfieldFile, err := factory(NameBitfield)
	if err != nil {
		return nil, err
	}
	dataFile, err := factory(NameData)
	if err != nil {
		return nil, err
	}
	dataIdxFile, err := factory(NameDataIdx)
	if err != nil {
		return nil, err
	}

	oplog, hdr, err := OpenOplog(oplogFile)
	if err != nil {
		return nil, err
	}
	tree, err := OpenTree(treeFile, crypto)
	if err != nil {
		return nil, err
	}
	bitfield, err := OpenBitfield(bitfieldFile)
	if err != nil {
		return nil, err
	}
	blocks, err := OpenBlocks(dataFile, dataIdxFile)
	if err != nil {
		return nil, err
	}
	if err := blocks.Grow(tree.Length()); err != nil {
		return nil, err
	}

	publicKey := hdr.PublicKey
	if len(publicKey) == 0 && len(opts.KeyPair.PublicKey) > 0 {
		publicKey = opts.KeyPair.PublicKey
	}
	if len(publicKey) == 0 && !opts.CreateIfMissing {
		return nil, fmt.Errorf("core: no existing header and createIfMissing=false")
	}
	if len(publicKey) > 0 && len(hdr.PublicKey) == 0 {
		hdr.PublicKey = publicKey
		hdr.Fork = 0
		if err := oplog.WriteHeader(hdr); err != nil {
			return nil, err
		}
	}

	c := &Core{
		crypto:    crypto,
		tree:      tree,
		blocks:    blocks,
		bitfield:  bitfield,
		oplog:     oplog,
		publicKey: publicKey,
		fork:      hdr.Fork,
		signature: hdr.Signature,
		onupdate:  opts.OnUpdate,
	}
	if len(opts.KeyPair.SecretKey) > 0 {
		c.defaultSign = crypto.Sign(opts.KeyPair.SecretKey)
	}
	return c, nil
}

// PublicKey returns the log's public key.
func (c *Core) PublicKey() []byte { return c.publicKey }

// DefaultSign returns the signer derived from the keypair this Core was
// opened with, or nil for a read-only Core (spec §9 "Default signer
// fallback").
func (c *Core) DefaultSign() xcrypto.Signer { return c.defaultSign }

// Length is the current number of blocks.
func (c *Core) Length() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Length()
}

// ByteLength is the sum of all stored block sizes.
func (c *Core) ByteLength() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.ByteLength()
}

// Fork is the current fork counter.
func (c *Core) Fork() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fork
}

// HasBlock reports whether block index is stored locally.
func (c *Core) HasBlock(index uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks.Has(index)
}

// GetBlock returns the raw (possibly encrypted) bytes stored at index.
func (c *Core) GetBlock(index uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks.Get(index)
}

// Roots returns the Merkle roots covering [0, length).
func (c *Core) Roots(length uint64) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Roots(length)
}

// LeafHash returns the content hash recorded for leaf index, used by the
// Replicator to answer upgrade requests with verifiable leaf data.
func (c *Core) LeafHash(index uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.leafHash(index)
}

// Signature returns the signature over the current root.
func (c *Core) Signature() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signature
}

// TreeHash returns the checkpoint hash over the roots at length
// (spec §4.13).
func (c *Core) TreeHash(length uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Hash(length)
}

// Seek translates a byte offset to (blockIndex, relativeOffset)
// (spec §4.6).
func (c *Core) Seek(bytesOffset, padding uint64) (uint64, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Seek(bytesOffset, padding)
}

// LeafSize returns the stored byte length for a known leaf.
func (c *Core) LeafSize(index uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.LeafSize(index)
}

// Append extends the log with buffers, signing the new root with sign.
// preappend, if non-nil, is invoked with the final buffers and the
// (startIndex, fork) they will occupy before anything is persisted — this
// is how transparent block encryption is wired in (spec §4.4).
func (c *Core) Append(buffers [][]byte, sign xcrypto.Signer, preappend PreappendFunc) (length, byteLength uint64, err error) {
	if len(buffers) == 0 {
		c.mu.Lock()
		length, byteLength = c.tree.Length(), c.tree.ByteLength()
		c.mu.Unlock()
		return length, byteLength, nil
	}

	c.mu.Lock()

	startIndex := c.tree.Length()
	fork := c.fork

	if preappend != nil {
		if err := preappend(buffers, startIndex, fork); err != nil {
			c.mu.Unlock()
			return 0, 0, fmt.Errorf("core: preappend: %w", err)
		}
	}

	hashes := make([][]byte, len(buffers))
	sizes := make([]uint64, len(buffers))
	for i, b := range buffers {
		hashes[i] = c.crypto.Hash(b)
		sizes[i] = uint64(len(b))
	}

	newLength, newByteLength, err := c.tree.Append(hashes, sizes)
	if err != nil {
		c.mu.Unlock()
		return 0, 0, err
	}
	if err := c.blocks.Grow(newLength); err != nil {
		c.mu.Unlock()
		return 0, 0, err
	}
	for i, b := range buffers {
		if err := c.blocks.PutAt(startIndex+uint64(i), b); err != nil {
			c.mu.Unlock()
			return 0, 0, err
		}
		if err := c.bitfield.Set(startIndex + uint64(i)); err != nil {
			c.mu.Unlock()
			return 0, 0, err
		}
	}
	if err := c.blocks.Sync(); err != nil {
		c.mu.Unlock()
		return 0, 0, err
	}

	if err := c.signAndPersist(newLength, newByteLength, sign); err != nil {
		c.mu.Unlock()
		return 0, 0, err
	}

	onupdate := c.onupdate
	lastValue := buffers[len(buffers)-1]
	c.mu.Unlock()

	// onupdate must run after releasing c.mu: it synchronously reaches into
	// the Replicator, which re-reads Core state (e.g. Length()) and would
	// deadlock against this same goroutine on a non-reentrant mutex.
	if onupdate != nil {
		onupdate(UpdateEvent{
			Status:      UpdateAppend,
			AppendStart: startIndex,
			AppendEnd:   newLength,
			Value:       lastValue,
			ValueIndex:  newLength - 1,
		})
	}

	return newLength, newByteLength, nil
}

// Truncate discards every block at or beyond length, bumps fork, and signs
// the new (possibly empty) root (spec §4.5).
func (c *Core) Truncate(length, fork uint64, sign xcrypto.Signer) error {
	c.mu.Lock()

	if length > c.tree.Length() {
		c.mu.Unlock()
		return fmt.Errorf("core: cannot truncate to length %d beyond current length %d", length, c.tree.Length())
	}

	if err := c.tree.Truncate(length); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.blocks.Truncate(length); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.bitfield.Truncate(length); err != nil {
		c.mu.Unlock()
		return err
	}
	c.fork = fork

	byteLength := c.tree.ByteLength()
	if err := c.signAndPersist(length, byteLength, sign); err != nil {
		c.mu.Unlock()
		return err
	}

	onupdate := c.onupdate
	c.mu.Unlock()

	if onupdate != nil {
		onupdate(UpdateEvent{
			Status:       UpdateTruncate,
			TruncateFrom: length,
			NewFork:      fork,
		})
	}
	return nil
}

// ReceiveUpgrade records newly-learned leaf hashes/sizes from a peer
// (tree growth without block content) after verifying the accompanying
// root signature, matching the Replicator's "requestUpgrade" contract
// (spec §6).
func (c *Core) ReceiveUpgrade(hashes [][]byte, sizes []uint64, signature []byte, from any) error {
	c.mu.Lock()

	newLength, newByteLength, err := c.tree.Append(hashes, sizes)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	roots, err := c.tree.Roots(newLength)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	root := concatRoots(roots)
	if !c.crypto.Verify(c.publicKey, root, signature) {
		c.mu.Unlock()
		return fmt.Errorf("core: %w: upgrade signature does not verify", ErrCrypto)
	}
	if err := c.blocks.Grow(newLength); err != nil {
		c.mu.Unlock()
		return err
	}

	hdr := Header{PublicKey: c.publicKey, Fork: c.fork, Length: newLength, ByteLength: newByteLength, Signature: signature}
	if err := c.oplog.WriteHeader(hdr); err != nil {
		c.mu.Unlock()
		return err
	}
	c.signature = signature

	onupdate := c.onupdate
	c.mu.Unlock()

	if onupdate != nil {
		onupdate(UpdateEvent{Status: UpdateAppend, AppendStart: newLength - uint64(len(hashes)), AppendEnd: newLength, From: from})
	}
	return nil
}

// ReceiveBlock stores content for a slot whose leaf hash is already known,
// verifying integrity before accepting it (spec §4.3 replicator fallback).
func (c *Core) ReceiveBlock(index uint64, content []byte, from any) error {
	c.mu.Lock()

	if index >= c.tree.Length() {
		c.mu.Unlock()
		return fmt.Errorf("core: block %d beyond known tree length %d", index, c.tree.Length())
	}
	expect, err := c.tree.leafHash(index)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	got := c.crypto.Hash(content)
	if !bytes.Equal(expect, got) {
		c.mu.Unlock()
		return fmt.Errorf("core: %w: block %d content does not match tree hash", ErrCrypto, index)
	}
	if err := c.blocks.PutAt(index, content); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.bitfield.Set(index); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.blocks.Sync(); err != nil {
		c.mu.Unlock()
		return err
	}

	onupdate := c.onupdate
	c.mu.Unlock()

	if onupdate != nil {
		onupdate(UpdateEvent{Value: content, ValueIndex: index, From: from})
	}
	return nil
}

func (c *Core) signAndPersist(length, byteLength uint64, sign xcrypto.Signer) error {
	var sig []byte
	if sign != nil {
		roots, err := c.tree.Roots(length)
		if err != nil {
			return err
		}
		sig, err = sign(concatRoots(roots))
		if err != nil {
			return fmt.Errorf("core: sign root: %w", err)
		}
	}
	c.signature = sig
	hdr := Header{PublicKey: c.publicKey, Fork: c.fork, Length: length, ByteLength: byteLength, Signature: sig}
	return c.oplog.WriteHeader(hdr)
}

func concatRoots(roots [][]byte) []byte {
	buf := make([]byte, 0, len(roots)*32)
	for _, r := range roots {
		buf = append(buf, r...)
	}
	return buf
}

// SetUserData stores a key/value pair in the oplog header region
// (spec §4.13).
func (c *Core) SetUserData(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oplog.SetUserData(key, value)
}

// GetUserData retrieves a previously stored value.
func (c *Core) GetUserData(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oplog.GetUserData(key)
}

// Close releases the Core's files.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, closer := range []interface{ Close() error }{
		c.oplog.file, c.tree.file, c.bitfield.file, c.blocks.data, c.blocks.idx,
	} {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("core: close: %v", errs)
}
