package core

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/karasz/hyperlog/internal/xcrypto"
)

// leafRecordSize is the on-disk size of one tree leaf: a 32-byte content
// hash plus an 8-byte byte-length, mirroring the teacher's fixed-width
// record layout for anchors and tail state (file_store.go).
const leafRecordSize = 32 + 8

// Tree is a persistent Merkle Mountain Range over a log's blocks: leaf i
// holds the content hash and byte length of block i. Roots(length) returns
// the peak hashes covering [0, length), and Hash(length) folds those
// peaks into a single checkpoint hash (spec §4.13).
type Tree struct {
	file   File
	crypto xcrypto.Capability

	leaves []treeLeaf // in-memory mirror of the persisted leaves
	prefix []uint64   // prefix[i] = sum of leaves[0:i].size, len(prefix) == len(leaves)+1
}

type treeLeaf struct {
	hash []byte
	size uint64
}

// OpenTree loads (or initializes) a Tree backed by file.
func OpenTree(file File, crypto xcrypto.Capability) (*Tree, error) {
	t := &Tree{file: file, crypto: crypto, prefix: []uint64{0}}
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("core: stat tree file: %w", err)
	}
	n := info.Size() / leafRecordSize
	t.leaves = make([]treeLeaf, 0, n)
	buf := make([]byte, leafRecordSize)
	var running uint64
	for i := int64(0); i < n; i++ {
		if _, err := file.ReadAt(buf, i*leafRecordSize); err != nil {
			return nil, fmt.Errorf("core: read tree leaf %d: %w", i, err)
		}
		h := append([]byte(nil), buf[:32]...)
		size := binary.BigEndian.Uint64(buf[32:40])
		t.leaves = append(t.leaves, treeLeaf{hash: h, size: size})
		running += size
		t.prefix = append(t.prefix, running)
	}
	return t, nil
}

// Length returns the number of leaves (blocks) recorded.
func (t *Tree) Length() uint64 { return uint64(len(t.leaves)) }

// ByteLength returns the sum of all leaf sizes.
func (t *Tree) ByteLength() uint64 { return t.prefix[len(t.prefix)-1] }

// Append adds new leaves (one per block, precomputed content hash + size)
// and persists them. Returns the new (length, byteLength).
func (t *Tree) Append(hashes [][]byte, sizes []uint64) (uint64, uint64, error) {
	if len(hashes) != len(sizes) {
		return 0, 0, fmt.Errorf("core: mismatched hash/size counts")
	}
	start := int64(len(t.leaves))
	buf := make([]byte, leafRecordSize)
	for i, h := range hashes {
		if len(h) != 32 {
			return 0, 0, fmt.Errorf("core: leaf hash must be 32 bytes")
		}
		copy(buf[:32], h)
		binary.BigEndian.PutUint64(buf[32:40], sizes[i])
		if _, err := t.file.WriteAt(buf, (start+int64(i))*leafRecordSize); err != nil {
			return 0, 0, fmt.Errorf("core: write tree leaf: %w", err)
		}
		running := t.prefix[len(t.prefix)-1] + sizes[i]
		t.leaves = append(t.leaves, treeLeaf{hash: append([]byte(nil), h...), size: sizes[i]})
		t.prefix = append(t.prefix, running)
	}
	if err := t.file.Sync(); err != nil {
		return 0, 0, fmt.Errorf("core: sync tree file: %w", err)
	}
	return t.Length(), t.ByteLength(), nil
}

// Truncate discards all leaves at or beyond length.
func (t *Tree) Truncate(length uint64) error {
	if length > t.Length() {
		return fmt.Errorf("core: truncate length %d exceeds tree length %d", length, t.Length())
	}
	if err := t.file.Truncate(int64(length) * leafRecordSize); err != nil {
		return fmt.Errorf("core: truncate tree file: %w", err)
	}
	t.leaves = t.leaves[:length]
	t.prefix = t.prefix[:length+1]
	return nil
}

// LeafSize returns the byte length recorded for leaf index, or an error if
// it is out of range.
func (t *Tree) LeafSize(index uint64) (uint64, error) {
	if index >= t.Length() {
		return 0, fmt.Errorf("core: leaf %d out of range (length %d)", index, t.Length())
	}
	return t.leaves[index].size, nil
}

// leafHash returns the content hash recorded for leaf index.
func (t *Tree) leafHash(index uint64) ([]byte, error) {
	if index >= t.Length() {
		return nil, fmt.Errorf("core: leaf %d out of range (length %d)", index, t.Length())
	}
	return t.leaves[index].hash, nil
}

// Roots returns the Merkle Mountain Range peak hashes covering [0, length).
func (t *Tree) Roots(length uint64) ([][]byte, error) {
	if length > t.Length() {
		return nil, fmt.Errorf("core: roots length %d exceeds tree length %d", length, t.Length())
	}
	var roots [][]byte
	var start uint64
	remaining := length
	for remaining > 0 {
		h := bits.Len64(remaining)
		size := uint64(1) << (h - 1)
		peak, err := t.peakHash(start, size)
		if err != nil {
			return nil, err
		}
		roots = append(roots, peak)
		start += size
		remaining -= size
	}
	return roots, nil
}

func (t *Tree) peakHash(start, size uint64) ([]byte, error) {
	if size == 1 {
		if start >= t.Length() {
			return nil, fmt.Errorf("core: peak leaf %d out of range", start)
		}
		return t.leaves[start].hash, nil
	}
	half := size / 2
	left, err := t.peakHash(start, half)
	if err != nil {
		return nil, err
	}
	right, err := t.peakHash(start+half, half)
	if err != nil {
		return nil, err
	}
	return t.crypto.ParentHash(left, right), nil
}

// Hash folds the roots at length into a single checkpoint hash
// (spec §4.13 treeHash).
func (t *Tree) Hash(length uint64) ([]byte, error) {
	roots, err := t.Roots(length)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(roots)*32)
	for _, r := range roots {
		buf = append(buf, r...)
	}
	return t.crypto.Hash(buf), nil
}

// Seek translates a byte offset into (blockIndex, relativeOffset) by
// scanning the leaf prefix-sum table (spec §4.6). padding is subtracted
// from each leaf's size to account for encryption overhead before the
// search, so seek operates over plaintext byte offsets.
func (t *Tree) Seek(target uint64, padding uint64) (index uint64, offset uint64, err error) {
	n := t.Length()
	var consumed uint64
	for i := uint64(0); i < n; i++ {
		plain := t.leaves[i].size
		if plain >= padding {
			plain -= padding
		}
		if target < consumed+plain {
			return i, target - consumed, nil
		}
		consumed += plain
	}
	return 0, 0, fmt.Errorf("core: seek target %d beyond stored byte length %d", target, consumed)
}
