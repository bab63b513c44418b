package replicator

import (
	"fmt"
	"sync"
	"time"

	"github.com/karasz/hyperlog/internal/wire"
)

// Protocol multiplexes wire.Frame traffic over one SecureStream. It is the
// object `replicate()` stashes as the stream's user-data (spec §4.11).
type Protocol struct {
	stream *SecureStream

	mu        sync.Mutex
	writeMu   sync.Mutex
	keepAlive bool
	onFrame   func(wire.Kind, []byte)
	closed    bool
	closeOnce sync.Once
}

// NewProtocol wraps stream. onFrame is invoked from the protocol's read
// goroutine for every frame received after Open.
func NewProtocol(stream *SecureStream, onFrame func(wire.Kind, []byte)) *Protocol {
	return &Protocol{stream: stream, onFrame: onFrame, keepAlive: true}
}

// SetKeepAlive toggles TCP-level keep-alive on the underlying connection,
// when supported (spec §4.11 "enable keep-alive by default").
func (p *Protocol) SetKeepAlive(enabled bool) {
	p.mu.Lock()
	p.keepAlive = enabled
	p.mu.Unlock()
	type keepAliver interface{ SetKeepAlive(bool) error }
	if ka, ok := p.stream.RawStream().(keepAliver); ok {
		_ = ka.SetKeepAlive(enabled)
	}
}

// Open starts the read loop. Safe to call once.
func (p *Protocol) Open() error {
	go p.readLoop()
	return nil
}

func (p *Protocol) readLoop() {
	for {
		kind, body, err := wire.Decode(p.stream.conn)
		if err != nil {
			p.stream.reportError(err)
			return
		}
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		if p.onFrame != nil {
			p.onFrame(kind, body)
		}
	}
}

// Send encodes and writes one frame. Safe for concurrent use.
func (p *Protocol) Send(kind wire.Kind, payload any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.stream.conn.SetWriteDeadline(time.Time{}); err != nil {
		// Best effort only: not every net.Conn needs a deadline cleared.
		_ = err
	}
	if err := wire.Encode(p.stream.conn, kind, payload); err != nil {
		return fmt.Errorf("replicator: send frame: %w", err)
	}
	return nil
}

// Destroy closes the underlying stream and stops the read loop.
func (p *Protocol) Destroy() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		err = p.stream.Close()
	})
	return err
}
