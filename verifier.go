package hyperlog

import (
	"fmt"

	"github.com/karasz/hyperlog/internal/core"
	"github.com/karasz/hyperlog/internal/xcrypto"
)

// ErrSignatureMismatch indicates a root's signature does not verify against
// the log's public key, suggesting tampering or a wrong key.
var ErrSignatureMismatch = fmt.Errorf("hyperlog: signature mismatch: tampering or wrong key")

// Verifier checks a Session's Merkle roots against its signer's public key,
// without needing write access or secret key material. It plays the role of
// the teacher's semi-trusted verifier: any peer holding only a public key can
// run it over replicated data (spec §4.13 "treeHash").
//
// A second, stronger check is available through VerifyAt: given a length and
// the signature the log published for it, re-derive the Merkle roots locally
// and compare rather than trusting whatever the session currently reports,
// which matters when verifying data received from an untrusted peer.
type Verifier struct {
	crypto    xcrypto.Capability
	publicKey []byte
}

// NewVerifier builds a Verifier for logs identified by publicKey.
func NewVerifier(publicKey []byte) *Verifier {
	return &Verifier{crypto: xcrypto.Default, publicKey: publicKey}
}

// VerifyCurrent checks the session's current root signature.
func (v *Verifier) VerifyCurrent(s *Session) error {
	sig := s.log.core.Signature()
	if sig == nil {
		if s.log.core.Length() == 0 {
			return nil
		}
		return fmt.Errorf("hyperlog: verify: %w: no signature present", ErrSignatureMismatch)
	}
	root, err := signedRoot(s.log.core, s.log.core.Length())
	if err != nil {
		return fmt.Errorf("hyperlog: verify: %w", err)
	}
	if !v.crypto.Verify(v.publicKey, root, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyAt independently recomputes the Merkle roots for length and checks
// sig against them, for callers that received (length, signature) from a
// peer and want to confirm it against locally held block data rather than
// trusting the Core's own bookkeeping (spec §4.13, §7 "Invariants": roots
// only move forward with a valid signature).
func (v *Verifier) VerifyAt(c *core.Core, length uint64, sig []byte) error {
	root, err := signedRoot(c, length)
	if err != nil {
		return fmt.Errorf("hyperlog: verify: %w", err)
	}
	if !v.crypto.Verify(v.publicKey, root, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// signedRoot returns the bytes the Core signs for length: its Merkle roots
// concatenated in order.
func signedRoot(c *core.Core, length uint64) ([]byte, error) {
	roots, err := c.Roots(length)
	if err != nil {
		return nil, err
	}
	var buf []byte
	for _, r := range roots {
		buf = append(buf, r...)
	}
	return buf, nil
}
