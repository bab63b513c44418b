package hyperlog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	hyperlog "github.com/karasz/hyperlog"
	"github.com/karasz/hyperlog/internal/xcrypto"
)

func openForTest(t *testing.T, opts hyperlog.Options) *hyperlog.Session {
	t.Helper()
	s, err := hyperlog.Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendGetRoundTrip(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-rt")
	defer os.RemoveAll(dir)

	s := openForTest(t, hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         kp,
		CreateIfMissing: true,
	})

	length, byteLength, err := s.Append([]byte("one"), []byte("two"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if length != 2 {
		t.Fatalf("length = %d, want 2", length)
	}
	if byteLength != 6 {
		t.Fatalf("byteLength = %d, want 6", byteLength)
	}

	ctx := context.Background()
	v, ok, err := s.Get(ctx, 0, hyperlog.GetOptions{})
	if err != nil || !ok {
		t.Fatalf("get 0: ok=%v err=%v", ok, err)
	}
	if string(v) != "one" {
		t.Fatalf("get 0 = %q, want one", v)
	}
	v, ok, err = s.Get(ctx, 1, hyperlog.GetOptions{})
	if err != nil || !ok || string(v) != "two" {
		t.Fatalf("get 1 = %q ok=%v err=%v", v, ok, err)
	}
}

func TestGetNoWaitAbsentBlock(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-nowait")
	defer os.RemoveAll(dir)

	s := openForTest(t, hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         xcrypto.KeyPair{PublicKey: kp.PublicKey},
		CreateIfMissing: true,
	})

	noWait := false
	_, ok, err := s.Get(context.Background(), 0, hyperlog.GetOptions{Wait: &noWait})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for absent block with Wait=false")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-snap")
	defer os.RemoveAll(dir)

	s := openForTest(t, hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         kp,
		CreateIfMissing: true,
	})

	if _, _, err := s.Append([]byte("a")); err != nil {
		t.Fatalf("append: %v", err)
	}

	snap := s.Snapshot()
	defer snap.Close()
	if snap.Length() != 1 {
		t.Fatalf("snapshot length = %d, want 1", snap.Length())
	}

	if _, _, err := s.Append([]byte("b")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if s.Length() != 2 {
		t.Fatalf("live length = %d, want 2", s.Length())
	}
	if snap.Length() != 1 {
		t.Fatalf("snapshot length changed to %d after live append, want 1", snap.Length())
	}
}

func TestTruncateBumpsFork(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-trunc")
	defer os.RemoveAll(dir)

	s := openForTest(t, hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         kp,
		CreateIfMissing: true,
	})

	if _, _, err := s.Append([]byte("a"), []byte("b"), []byte("c")); err != nil {
		t.Fatalf("append: %v", err)
	}
	startFork := s.Fork()

	if err := s.Truncate(1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if s.Length() != 1 {
		t.Fatalf("length after truncate = %d, want 1", s.Length())
	}
	if s.Fork() != startFork+1 {
		t.Fatalf("fork = %d, want %d", s.Fork(), startFork+1)
	}
}

func TestNotWritableSession(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-readonly")
	defer os.RemoveAll(dir)

	s := openForTest(t, hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         xcrypto.KeyPair{PublicKey: kp.PublicKey},
		CreateIfMissing: true,
	})

	if s.Writable() {
		t.Fatalf("expected non-writable session without secret key")
	}
	if _, _, err := s.Append([]byte("x")); err != hyperlog.ErrNotWritable {
		t.Fatalf("append on read-only session: err=%v, want ErrNotWritable", err)
	}
}

func TestEncryptionTransparency(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-enc")
	defer os.RemoveAll(dir)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	s := openForTest(t, hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         kp,
		CreateIfMissing: true,
		EncryptionKey:   key,
	})

	if !s.EncryptionEnabled() {
		t.Fatalf("expected encryption enabled")
	}
	if s.Padding() == 0 {
		t.Fatalf("expected non-zero padding with encryption enabled")
	}

	if _, _, err := s.Append([]byte("secret")); err != nil {
		t.Fatalf("append: %v", err)
	}
	v, ok, err := s.Get(context.Background(), 0, hyperlog.GetOptions{})
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(v) != "secret" {
		t.Fatalf("get = %q, want secret (decryption should be transparent)", v)
	}
}

func TestCloseReportsLastSession(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-close")
	defer os.RemoveAll(dir)

	s, err := hyperlog.Open(hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         kp,
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	sibling, err := s.Session(hyperlog.Options{})
	if err != nil {
		t.Fatalf("sibling session: %v", err)
	}

	isLast, err := sibling.Close()
	if err != nil {
		t.Fatalf("close sibling: %v", err)
	}
	if isLast {
		t.Fatalf("closing sibling should not be last while root session is open")
	}

	isLast, err = s.Close()
	if err != nil {
		t.Fatalf("close root: %v", err)
	}
	if !isLast {
		t.Fatalf("closing final session should report isLast=true")
	}

	if _, err := s.Close(); err != hyperlog.ErrClosed {
		t.Fatalf("double close: err=%v, want ErrClosed", err)
	}
}

func TestOpenFromSharesLog(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-from")
	defer os.RemoveAll(dir)

	root := openForTest(t, hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         kp,
		CreateIfMissing: true,
	})
	if _, _, err := root.Append([]byte("a")); err != nil {
		t.Fatalf("append: %v", err)
	}

	sibling, err := hyperlog.Open(hyperlog.Options{From: root})
	if err != nil {
		t.Fatalf("open from: %v", err)
	}
	defer sibling.Close()

	if sibling.Length() != root.Length() {
		t.Fatalf("sibling length = %d, want %d (same Log)", sibling.Length(), root.Length())
	}
	if string(sibling.PublicKey()) != string(root.PublicKey()) {
		t.Fatalf("sibling public key differs from root's")
	}
}

func TestOnReadyFiresEvenWhenRegisteredAfterOpen(t *testing.T) {
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	dir, _ := os.MkdirTemp("", "hyperlog-ready")
	defer os.RemoveAll(dir)

	s := openForTest(t, hyperlog.Options{
		Storage:         filepath.Join(dir, "log"),
		KeyPair:         kp,
		CreateIfMissing: true,
	})

	var fired bool
	s.OnReady(func() { fired = true })
	if !fired {
		t.Fatalf("OnReady registered after Open should fire immediately")
	}
}
