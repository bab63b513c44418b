package core

import (
	"encoding/binary"
	"fmt"
)

// idxRecordSize is the on-disk size of one data.idx entry: an 8-byte
// offset and a 4-byte length into the data file, following the teacher's
// fixed-width index-record idiom (file_store.go's anchor/tail records). A
// zero length marks a slot whose content has not arrived yet, which is how
// sparse replication (spec §1 "sparse download") leaves holes: the tree
// may already know a leaf's hash and size from an upgrade before the
// actual bytes are downloaded and stored here.
const idxRecordSize = 8 + 4

// Blocks stores raw block bytes in an append-only data file, with a
// parallel fixed-width index file mapping block index to (offset, length).
// Its capacity (the number of index slots allocated) tracks the Merkle
// tree's length and may run ahead of which slots actually hold content.
type Blocks struct {
	data File
	idx  File

	offsets []uint64
	lengths []uint32
	dataEnd int64
}

// OpenBlocks loads (or initializes) a Blocks store backed by data and idx.
func OpenBlocks(data, idx File) (*Blocks, error) {
	b := &Blocks{data: data, idx: idx}
	info, err := idx.Stat()
	if err != nil {
		return nil, fmt.Errorf("core: stat data index: %w", err)
	}
	n := info.Size() / idxRecordSize
	buf := make([]byte, idxRecordSize)
	for i := int64(0); i < n; i++ {
		if _, err := idx.ReadAt(buf, i*idxRecordSize); err != nil {
			return nil, fmt.Errorf("core: read data index %d: %w", i, err)
		}
		off := binary.BigEndian.Uint64(buf[0:8])
		ln := binary.BigEndian.Uint32(buf[8:12])
		b.offsets = append(b.offsets, off)
		b.lengths = append(b.lengths, ln)
		if end := int64(off) + int64(ln); ln > 0 && end > b.dataEnd {
			b.dataEnd = end
		}
	}
	return b, nil
}

// Capacity is the number of index slots allocated (tracks Tree.Length()).
func (b *Blocks) Capacity() uint64 { return uint64(len(b.offsets)) }

// Grow extends capacity to n slots, writing zeroed (absent) index records
// for any newly allocated slots.
func (b *Blocks) Grow(n uint64) error {
	for i := b.Capacity(); i < n; i++ {
		if err := b.writeIdx(i, 0, 0); err != nil {
			return err
		}
		b.offsets = append(b.offsets, 0)
		b.lengths = append(b.lengths, 0)
	}
	return nil
}

// Has reports whether slot index has content recorded.
func (b *Blocks) Has(index uint64) bool {
	return index < b.Capacity() && b.lengths[index] > 0
}

// PutAt writes block content into an already-allocated slot, in any order.
func (b *Blocks) PutAt(index uint64, block []byte) error {
	if index >= b.Capacity() {
		return fmt.Errorf("core: block %d not yet allocated (capacity %d)", index, b.Capacity())
	}
	off := b.dataEnd
	if len(block) > 0 {
		if _, err := b.data.WriteAt(block, off); err != nil {
			return fmt.Errorf("core: write block %d: %w", index, err)
		}
	}
	if err := b.writeIdx(index, uint64(off), uint32(len(block))); err != nil {
		return err
	}
	b.offsets[index] = uint64(off)
	b.lengths[index] = uint32(len(block))
	b.dataEnd += int64(len(block))
	return nil
}

func (b *Blocks) writeIdx(index, off uint64, length uint32) error {
	buf := make([]byte, idxRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], off)
	binary.BigEndian.PutUint32(buf[8:12], length)
	if _, err := b.idx.WriteAt(buf, int64(index)*idxRecordSize); err != nil {
		return fmt.Errorf("core: write block index %d: %w", index, err)
	}
	return nil
}

// Get returns the raw bytes stored at index.
func (b *Blocks) Get(index uint64) ([]byte, error) {
	if !b.Has(index) {
		return nil, fmt.Errorf("core: block %d not stored locally", index)
	}
	buf := make([]byte, b.lengths[index])
	if len(buf) > 0 {
		if _, err := b.data.ReadAt(buf, int64(b.offsets[index])); err != nil {
			return nil, fmt.Errorf("core: read block %d: %w", index, err)
		}
	}
	return buf, nil
}

// Truncate discards every slot at or beyond length. The underlying data
// file is not shrunk; only the index is trimmed, which is sufficient since
// Capacity()/Get()/Has() only ever consult the index.
func (b *Blocks) Truncate(length uint64) error {
	if length > b.Capacity() {
		return fmt.Errorf("core: truncate length %d exceeds blocks capacity %d", length, b.Capacity())
	}
	if err := b.idx.Truncate(int64(length) * idxRecordSize); err != nil {
		return fmt.Errorf("core: truncate data index: %w", err)
	}
	b.offsets = b.offsets[:length]
	b.lengths = b.lengths[:length]
	b.dataEnd = 0
	for i, ln := range b.lengths {
		if end := int64(b.offsets[i]) + int64(ln); ln > 0 && end > b.dataEnd {
			b.dataEnd = end
		}
	}
	return nil
}

func (b *Blocks) Sync() error {
	if err := b.data.Sync(); err != nil {
		return err
	}
	return b.idx.Sync()
}
