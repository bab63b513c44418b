package hyperlog_test

import (
	"os"
	"path/filepath"
	"testing"

	hyperlog "github.com/karasz/hyperlog"
	"github.com/karasz/hyperlog/internal/xcrypto"
)

func TestVerifierVerifyCurrent(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-verify")
	defer os.RemoveAll(dir)

	w, err := hyperlog.Open(hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         kp,
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if _, _, err := w.Append([]byte("a"), []byte("b")); err != nil {
		t.Fatalf("append: %v", err)
	}

	v := hyperlog.NewVerifier(kp.PublicKey)
	if err := v.VerifyCurrent(w); err != nil {
		t.Fatalf("verify current: %v", err)
	}

	other, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	bad := hyperlog.NewVerifier(other.PublicKey)
	if err := bad.VerifyCurrent(w); err == nil {
		t.Fatalf("expected signature mismatch against wrong key")
	}
}

func TestVerifierEmptyLog(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-verify-empty")
	defer os.RemoveAll(dir)

	w, err := hyperlog.Open(hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         kp,
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	v := hyperlog.NewVerifier(kp.PublicKey)
	if err := v.VerifyCurrent(w); err != nil {
		t.Fatalf("verify empty log: %v", err)
	}
}
