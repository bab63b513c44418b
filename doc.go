// Package hyperlog implements a secure, append-only, cryptographically
// verifiable log that can be replicated peer-to-peer with partial-trust
// participants. Each log is identified by a public key; only the holder of
// the matching secret key may extend it, while any peer may verify, read,
// and relay blocks.
//
// A Log is opened once per physical store; Sessions are lightweight handles
// onto that Log sharing its underlying Core and Replicator. The persistent
// Merkle tree, block store, presence bitfield, and oplog header live in
// internal/core; the peer set and wire protocol live in internal/replicator;
// hashing, signing, and per-block encryption live in internal/xcrypto.
package hyperlog
