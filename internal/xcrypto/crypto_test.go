package xcrypto

import (
	"bytes"
	"testing"
)

func TestDefaultCapability_SignVerify(t *testing.T) {
	kp, err := Default.KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	sign := Default.Sign(kp.SecretKey)
	if sign == nil {
		t.Fatal("expected non-nil signer")
	}
	root := Default.Hash([]byte("block-0"))
	sig, err := sign(root)
	if err != nil {
		t.Fatal(err)
	}
	if !Default.Verify(kp.PublicKey, root, sig) {
		t.Fatal("signature did not verify")
	}
	if Default.Verify(kp.PublicKey, []byte("tampered"), sig) {
		t.Fatal("signature verified over wrong root")
	}
}

func TestDefaultCapability_NilSecretKeyIsReadOnly(t *testing.T) {
	if Default.Sign(nil) != nil {
		t.Fatal("expected nil signer for nil secret key")
	}
}

func TestDefaultCapability_DiscoveryKey(t *testing.T) {
	kp, err := Default.KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	dk1, err := Default.DiscoveryKey(kp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	dk2, err := Default.DiscoveryKey(kp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dk1, dk2) {
		t.Fatal("discovery key must be deterministic")
	}
	if bytes.Equal(dk1, kp.PublicKey) {
		t.Fatal("discovery key must differ from public key")
	}
}

func TestDefaultCapability_ValidateKey(t *testing.T) {
	if err := Default.ValidateKey(make([]byte, KeySize)); err != nil {
		t.Fatalf("expected valid key, got %v", err)
	}
	if err := Default.ValidateKey(make([]byte, 16)); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestParentHash_OrderSensitive(t *testing.T) {
	left := Default.Hash([]byte("left"))
	right := Default.Hash([]byte("right"))
	p1 := Default.ParentHash(left, right)
	p2 := Default.ParentHash(right, left)
	if bytes.Equal(p1, p2) {
		t.Fatal("parent hash must be order-sensitive")
	}
}
