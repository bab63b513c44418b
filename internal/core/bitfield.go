package core

import (
	"fmt"
)

// Bitfield tracks, per block index, whether this store physically holds
// that block's bytes. The Core sets and truncates it alongside Blocks;
// Core.HasBlock, which the façade's read path consults, answers from
// Blocks.Has rather than from this bitfield.
type Bitfield struct {
	file  File
	bytes []byte
}

// OpenBitfield loads (or initializes) a Bitfield backed by file.
func OpenBitfield(file File) (*Bitfield, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("core: stat bitfield file: %w", err)
	}
	buf := make([]byte, info.Size())
	if len(buf) > 0 {
		if _, err := file.ReadAt(buf, 0); err != nil {
			return nil, fmt.Errorf("core: read bitfield: %w", err)
		}
	}
	return &Bitfield{file: file, bytes: buf}, nil
}

// Get reports whether index is set.
func (b *Bitfield) Get(index uint64) bool {
	byteIdx := index / 8
	if byteIdx >= uint64(len(b.bytes)) {
		return false
	}
	return b.bytes[byteIdx]&(1<<(index%8)) != 0
}

// Set marks index present and persists the change.
func (b *Bitfield) Set(index uint64) error {
	b.grow(index)
	b.bytes[index/8] |= 1 << (index % 8)
	return b.flush(index / 8)
}

// Drop clears index (used on truncation below the new length is handled by
// Truncate; Drop exists for explicit single-index invalidation).
func (b *Bitfield) Drop(index uint64) error {
	if index/8 >= uint64(len(b.bytes)) {
		return nil
	}
	b.bytes[index/8] &^= 1 << (index % 8)
	return b.flush(index / 8)
}

// Truncate clears every bit at or beyond length.
func (b *Bitfield) Truncate(length uint64) error {
	for i := length; i/8 < uint64(len(b.bytes)); i++ {
		if i/8 >= uint64(len(b.bytes)) {
			break
		}
		b.bytes[i/8] &^= 1 << (i % 8)
	}
	if len(b.bytes) == 0 {
		return nil
	}
	_, err := b.file.WriteAt(b.bytes, 0)
	if err != nil {
		return fmt.Errorf("core: write bitfield: %w", err)
	}
	return b.file.Sync()
}

func (b *Bitfield) grow(index uint64) {
	needed := int(index/8) + 1
	if len(b.bytes) >= needed {
		return
	}
	grown := make([]byte, needed)
	copy(grown, b.bytes)
	b.bytes = grown
}

func (b *Bitfield) flush(byteIdx uint64) error {
	if _, err := b.file.WriteAt(b.bytes[byteIdx:byteIdx+1], int64(byteIdx)); err != nil {
		return fmt.Errorf("core: write bitfield: %w", err)
	}
	return b.file.Sync()
}
