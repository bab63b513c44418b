package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// headerRegionSize reserves room for the fixed header record so the
// user-data log can follow it at a stable offset, mirroring the teacher's
// per-concern fixed-offset file layout (file_store.go's tail.dat).
const headerRegionSize = 512

const maxSignatureSize = 64 // ed25519 signatures

// Header is the oplog's fixed record: the log's public key, its current
// fork, length, byte length, and the signature over the current Merkle
// root (spec §3 "Log").
type Header struct {
	PublicKey  []byte
	Fork       uint64
	Length     uint64
	ByteLength uint64
	Signature  []byte
}

// Oplog persists the Header and a user-data key/value vector
// (spec §4.13 setUserData/getUserData).
type Oplog struct {
	file     File
	userData map[string][]byte
	tail     int64 // next write offset within the user-data region
}

// OpenOplog loads (or initializes) an Oplog backed by file.
func OpenOplog(file File) (*Oplog, Header, error) {
	o := &Oplog{file: file, userData: make(map[string][]byte), tail: headerRegionSize}
	hdr, ok, err := o.readHeader()
	if err != nil {
		return nil, Header{}, err
	}
	if !ok {
		hdr = Header{}
	}
	if err := o.loadUserData(); err != nil {
		return nil, Header{}, err
	}
	return o, hdr, nil
}

func (o *Oplog) readHeader() (Header, bool, error) {
	info, err := o.file.Stat()
	if err != nil {
		return Header{}, false, fmt.Errorf("core: stat oplog: %w", err)
	}
	if info.Size() < 32+8+8+8+2 {
		return Header{}, false, nil
	}
	buf := make([]byte, headerRegionSize)
	n, err := o.file.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return Header{}, false, fmt.Errorf("core: read oplog header: %w", err)
	}
	if n < 32+8+8+8+2 {
		return Header{}, false, nil
	}
	var hdr Header
	hdr.PublicKey = append([]byte(nil), buf[0:32]...)
	hdr.Fork = binary.BigEndian.Uint64(buf[32:40])
	hdr.Length = binary.BigEndian.Uint64(buf[40:48])
	hdr.ByteLength = binary.BigEndian.Uint64(buf[48:56])
	sigLen := binary.BigEndian.Uint16(buf[56:58])
	if sigLen > maxSignatureSize || int(58+sigLen) > len(buf) {
		return Header{}, false, errors.New("core: corrupt oplog signature length")
	}
	if sigLen > 0 {
		hdr.Signature = append([]byte(nil), buf[58:58+sigLen]...)
	}
	allZero := true
	for _, b := range hdr.PublicKey {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero && hdr.Fork == 0 && hdr.Length == 0 {
		return Header{}, false, nil
	}
	return hdr, true, nil
}

// WriteHeader persists hdr, overwriting the previous header in place.
func (o *Oplog) WriteHeader(hdr Header) error {
	if len(hdr.Signature) > maxSignatureSize {
		return errors.New("core: signature exceeds maximum size")
	}
	buf := make([]byte, headerRegionSize)
	copy(buf[0:32], hdr.PublicKey)
	binary.BigEndian.PutUint64(buf[32:40], hdr.Fork)
	binary.BigEndian.PutUint64(buf[40:48], hdr.Length)
	binary.BigEndian.PutUint64(buf[48:56], hdr.ByteLength)
	binary.BigEndian.PutUint16(buf[56:58], uint16(len(hdr.Signature)))
	copy(buf[58:], hdr.Signature)
	if _, err := o.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("core: write oplog header: %w", err)
	}
	return o.file.Sync()
}

// loadUserData scans the append-only user-data region, letting later
// entries for the same key override earlier ones (last-writer-wins, same
// policy as the teacher's ListAnchors scan).
func (o *Oplog) loadUserData() error {
	info, err := o.file.Stat()
	if err != nil {
		return fmt.Errorf("core: stat oplog: %w", err)
	}
	off := int64(headerRegionSize)
	for off < info.Size() {
		lenBuf := make([]byte, 8)
		if _, err := o.file.ReadAt(lenBuf, off); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("core: read user-data entry header: %w", err)
		}
		keyLen := binary.BigEndian.Uint32(lenBuf[0:4])
		valLen := binary.BigEndian.Uint32(lenBuf[4:8])
		rest := make([]byte, keyLen+valLen)
		if _, err := o.file.ReadAt(rest, off+8); err != nil {
			return fmt.Errorf("core: read user-data entry: %w", err)
		}
		key := string(rest[:keyLen])
		val := append([]byte(nil), rest[keyLen:]...)
		o.userData[key] = val
		off += 8 + int64(keyLen) + int64(valLen)
	}
	o.tail = off
	return nil
}

// SetUserData appends a new entry, shadowing any previous value for key.
func (o *Oplog) SetUserData(key string, value []byte) error {
	buf := make([]byte, 8+len(key)+len(value))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[8:8+len(key)], key)
	copy(buf[8+len(key):], value)
	if _, err := o.file.WriteAt(buf, o.tail); err != nil {
		return fmt.Errorf("core: write user-data entry: %w", err)
	}
	if err := o.file.Sync(); err != nil {
		return err
	}
	o.tail += int64(len(buf))
	o.userData[key] = append([]byte(nil), value...)
	return nil
}

// GetUserData returns the current value for key, if any.
func (o *Oplog) GetUserData(key string) ([]byte, bool) {
	v, ok := o.userData[key]
	return v, ok
}
