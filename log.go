package hyperlog

import (
	"fmt"
	"sync"

	"github.com/karasz/hyperlog/internal/core"
	"github.com/karasz/hyperlog/internal/extension"
	"github.com/karasz/hyperlog/internal/replicator"
	"github.com/karasz/hyperlog/internal/xcrypto"
)

// Log is the shared state behind every Session onto one physical store: the
// Core, the Replicator, crypto capability, encryption, cache, and extension
// registry (spec §2 "Log façade & Session", §3 "Log"). Log itself is not
// constructed directly; use Open to obtain a root Session, and
// Session.Session for siblings.
type Log struct {
	mu sync.Mutex

	core       *core.Core
	replicator *replicator.Replicator
	crypto     xcrypto.Capability
	extensions *extension.Registry

	publicKey    []byte
	discoveryKey []byte
	defaultSign  xcrypto.Signer

	encryption *xcrypto.BlockCipher
	cache      Cache

	sessions []*Session
	closing  bool
	closed   bool
}

// Open derives the effective keypair and signer, opens the Core (creating
// storage if requested), attaches a Replicator, and returns the root
// Session (spec §4.2 "Opening protocol", steps 3-9; step 1-2 and the
// multi-session await machinery collapse to plain sequential construction
// since this façade has no async option-dispatch layer — see spec §9
// "Dynamic option dispatch in the constructor").
func Open(opts Options) (*Session, error) {
	l, err := newLog(opts)
	if err != nil {
		return nil, err
	}
	return l.newSession(opts), nil
}

func newLog(opts Options) (*Log, error) {
	if opts.From != nil {
		return opts.From.log, nil
	}

	crypto := opts.Crypto
	if crypto == nil {
		crypto = xcrypto.Default
	}

	kp := opts.KeyPair
	if len(opts.Key) > 0 {
		kp.PublicKey = opts.Key
	}
	if len(kp.PublicKey) == 0 {
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("hyperlog: %w: no key supplied and createIfMissing=false", ErrInvalidKey)
		}
		fresh, err := crypto.KeyPair()
		if err != nil {
			return nil, fmt.Errorf("hyperlog: generate keypair: %w", err)
		}
		kp = fresh
	}
	if err := crypto.ValidateKey(kp.PublicKey); err != nil {
		return nil, wrapErr(ErrInvalidKey, err)
	}

	sign := opts.Sign
	if sign == nil && len(kp.SecretKey) > 0 {
		sign = crypto.Sign(kp.SecretKey)
	}

	var factory core.Factory
	switch {
	case opts.StorageFactory != nil:
		factory = opts.StorageFactory
	case opts.Storage != "":
		factory = core.Directory(opts.Storage)
	default:
		return nil, fmt.Errorf("%w: no storage supplied", ErrInvalidStream)
	}

	l := &Log{crypto: crypto, publicKey: kp.PublicKey}

	c, err := core.Open(factory, core.Options{
		CreateIfMissing: opts.CreateIfMissing,
		Overwrite:       opts.Overwrite,
		KeyPair:         kp,
		Crypto:          crypto,
		OnUpdate:        l.onCoreUpdate,
	})
	if err != nil {
		return nil, wrapErr(ErrStorage, err)
	}
	l.core = c

	// defaultSign fallback: adopt the Core's signer when none was derived
	// above. The Core builds it only from the keypair it was opened with
	// (the same kp), so a key-only open stays read-only; user data is not
	// searched for secret material, and the signer is fixed at open time.
	if sign == nil {
		sign = c.DefaultSign()
	}
	l.defaultSign = sign

	discoveryKey, err := crypto.DiscoveryKey(c.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("hyperlog: derive discovery key: %w", err)
	}
	l.discoveryKey = discoveryKey
	l.publicKey = c.PublicKey()

	if len(opts.EncryptionKey) > 0 {
		bc, err := xcrypto.NewBlockCipher(opts.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("hyperlog: init block cipher: %w", err)
		}
		l.encryption = bc
	}

	l.extensions = opts.Extensions
	if l.extensions == nil {
		l.extensions = extension.NewRegistry()
	}

	rep := replicator.New(l.core, replicator.Options{
		Extensions: l.extensions,
		OnUpdate:   l.onPeerUpdate,
		OnUpload:   l.onUpload,
	})
	l.replicator = rep
	rep.MarkOpened()

	if opts.CacheImpl != nil {
		l.cache = opts.CacheImpl
	} else if opts.Cache {
		l.cache = NewCache(opts.CacheSize)
	}

	for k, v := range opts.UserData {
		if err := l.core.SetUserData(k, v); err != nil {
			return nil, wrapErr(ErrStorage, err)
		}
	}

	return l, nil
}

// Padding is the per-block byte prefix reserved for encryption metadata,
// zero when encryption is disabled (spec GLOSSARY "Padding").
func (l *Log) Padding() int {
	if l.encryption == nil {
		return 0
	}
	return xcrypto.Padding
}

// onCoreUpdate routes one Core mutation to every registered session,
// matching the ordering guarantee truncate -> append -> download within a
// single invocation (spec §4.8, §5 "Ordering guarantees").
func (l *Log) onCoreUpdate(ev core.UpdateEvent) {
	l.mu.Lock()
	sessions := append([]*Session(nil), l.sessions...)
	l.mu.Unlock()

	if ev.Status&core.UpdateTruncate != 0 {
		if l.cache != nil {
			l.cache.Purge()
		}
		for _, s := range sessions {
			s.events.emitTruncate(ev.TruncateFrom, ev.NewFork)
		}
	}
	if ev.Status&core.UpdateAppend != 0 {
		for _, s := range sessions {
			s.events.emitAppend()
		}
		if l.replicator != nil {
			l.replicator.BroadcastInfo()
			for i := ev.AppendStart; i < ev.AppendEnd; i++ {
				l.replicator.BroadcastBlock(i)
			}
		}
	}
	if ev.Value != nil {
		padding := l.Padding()
		byteLength := len(ev.Value) - padding
		if byteLength < 0 {
			byteLength = 0
		}
		for _, s := range sessions {
			s.events.emitDownload(ev.ValueIndex, byteLength, ev.From)
		}
	}
}

// onPeerUpdate fans out peer-set changes to every session; it cannot tell
// add from remove on its own, so the Replicator always calls it with the
// same signature and sessions observe the change via Peers().
func (l *Log) onPeerUpdate() {
	l.mu.Lock()
	sessions := append([]*Session(nil), l.sessions...)
	l.mu.Unlock()
	for _, s := range sessions {
		s.events.emitPeerAdd(nil)
	}
}

func (l *Log) onUpload(index uint64, byteLength int, peer *replicator.Peer) {
	l.mu.Lock()
	sessions := append([]*Session(nil), l.sessions...)
	l.mu.Unlock()
	for _, s := range sessions {
		s.events.emitUpload(index, byteLength, peer)
	}
}

func (l *Log) addSession(s *Session) {
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
}

// removeSession drops s from the session set and reports whether it was
// the last one, closing the Core in that case (spec §3 "Lifecycle").
func (l *Log) removeSession(s *Session) (isLast bool, err error) {
	l.mu.Lock()
	for i, sess := range l.sessions {
		if sess == s {
			l.sessions = append(l.sessions[:i], l.sessions[i+1:]...)
			break
		}
	}
	isLast = len(l.sessions) == 0
	if isLast {
		if l.closed {
			l.mu.Unlock()
			return true, nil
		}
		l.closing = true
	}
	l.mu.Unlock()

	if isLast {
		if rerr := l.replicator.Close(); rerr != nil {
			err = rerr
		}
		if cerr := l.core.Close(); cerr != nil && err == nil {
			err = cerr
		}
		l.mu.Lock()
		l.closed = true
		l.closing = false
		l.mu.Unlock()
	}
	return isLast, err
}
