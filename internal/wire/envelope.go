// Package wire defines the messages exchanged between peers over a
// replication protocol stream (spec §4.11, §6 "Replicator contract"). It
// follows the teacher's two-track transport idiom (transport.go's gob
// encoding for the message envelope, proto_convert.go's use of protobuf
// well-known types for timestamps) rather than hand-authoring a full
// generated protobuf schema.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// Kind identifies the payload carried by a Frame.
type Kind uint8

const (
	KindHandshake Kind = iota + 1
	KindInfo
	KindHave
	KindRequestBlock
	KindDataBlock
	KindRequestUpgrade
	KindUpgrade
	KindRequestSeek
	KindSeekReply
	KindExtension
)

// Handshake is the first message sent on a joined protocol stream,
// announcing the log the sender believes it is replicating.
type Handshake struct {
	Key          []byte
	DiscoveryKey []byte
	ConnectedAt  *timestamppb.Timestamp
}

// NewHandshake stamps the current time using protobuf's well-known
// Timestamp type, matching proto_convert.go's timestamppb usage.
func NewHandshake(key, discoveryKey []byte) Handshake {
	return Handshake{Key: key, DiscoveryKey: discoveryKey, ConnectedAt: timestamppb.New(time.Now())}
}

// Info announces the sender's current tree state.
type Info struct {
	Length     uint64
	ByteLength uint64
	Fork       uint64
}

// Have announces that a single index newly became available locally.
type Have struct {
	Index uint64
}

// RequestBlock asks the peer for one block's raw (possibly encrypted)
// bytes.
type RequestBlock struct {
	Index uint64
}

// DataBlock answers a RequestBlock.
type DataBlock struct {
	Index   uint64
	Content []byte
}

// RequestUpgrade asks the peer to describe any tree growth past a known
// length.
type RequestUpgrade struct {
	KnownLength uint64
}

// Upgrade answers a RequestUpgrade with the new leaves and root signature.
type Upgrade struct {
	Length     uint64
	ByteLength uint64
	Fork       uint64
	Hashes     [][]byte
	Sizes      []uint64
	Signature  []byte
}

// RequestSeek asks the peer to resolve a byte offset into (index, offset).
type RequestSeek struct {
	RequestID uint64
	Bytes     uint64
	Padding   uint64
}

// SeekReply answers a RequestSeek.
type SeekReply struct {
	RequestID uint64
	Index     uint64
	Offset    uint64
}

// Extension carries a named custom message (spec §4.1 "extensions",
// GLOSSARY "Extension").
type Extension struct {
	Name    string
	Payload []byte
}

// Frame is one length-prefixed, gob-encoded message on the wire.
type Frame struct {
	Kind Kind
	Body []byte
}

// Encode writes a Frame (1-byte kind, 4-byte big-endian body length, gob
// body) to w.
func Encode(w io.Writer, kind Kind, payload any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return fmt.Errorf("wire: encode %T: %w", payload, err)
	}
	header := make([]byte, 5)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(buf.Len()))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// Decode reads one Frame from r.
func Decode(r io.Reader) (Kind, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	kind := Kind(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return kind, body, nil
}

// DecodeBody gob-decodes a frame body into v.
func DecodeBody(body []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(body)).Decode(v)
}
