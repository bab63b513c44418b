package hyperlog

import (
	"github.com/karasz/hyperlog/internal/core"
	"github.com/karasz/hyperlog/internal/extension"
	"github.com/karasz/hyperlog/internal/xcrypto"
)

// Options bundles every recognized construction option (spec §4.1). Open
// takes an Options value as its only argument; there is no positional
// storage/key form.
type Options struct {
	// Storage is a directory path. Use StorageFactory instead to supply a
	// non-directory-backed storage factory directly.
	Storage        string
	StorageFactory core.Factory

	// Key is the log's 32-byte public key; it overrides KeyPair.PublicKey.
	// With neither set, Open generates a fresh keypair when CreateIfMissing
	// is true and fails with ErrInvalidKey otherwise.
	Key []byte

	// KeyPair enables writability when SecretKey is non-nil.
	KeyPair xcrypto.KeyPair

	// Sign overrides KeyPair.SecretKey-derived signing.
	Sign xcrypto.Signer

	// Crypto swaps the hash/sign/verify/discovery-key capability.
	Crypto xcrypto.Capability

	// EncryptionKey enables transparent per-block at-rest/in-transit
	// encryption (spec §4.4 step 2).
	EncryptionKey []byte

	// Cache enables the default bounded block cache when true. Supply a
	// custom Cache via CacheImpl instead to use your own.
	Cache     bool
	CacheImpl Cache
	CacheSize int

	// ValueEncoding applies to this session's get/append calls.
	ValueEncoding Codec
	// EncodeBatch overrides per-block encoding at append time.
	EncodeBatch BatchEncoder

	// Extensions is a shared extension registry. A fresh one is created if
	// nil and this is the root session.
	Extensions *extension.Registry

	// CreateIfMissing lets Open create a new Core when storage holds none.
	// Overwrite is passed to the Core, which does not act on it: existing
	// data in storage is always kept.
	CreateIfMissing bool
	Overwrite       bool

	// UserData is written once, on first open.
	UserData map[string][]byte

	// Snapshot pins (length, byteLength, fork) for the opened session.
	Snapshot bool

	// AutoClose closes the remaining session automatically when the
	// penultimate session of the Log closes.
	AutoClose bool

	// From shares an already-open session's Log instead of opening a new
	// Core; equivalent to calling Session on that session directly.
	From *Session
}
