package replicator

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/karasz/hyperlog/internal/core"
	"github.com/karasz/hyperlog/internal/xcrypto"
)

func openTestCore(t *testing.T, dir string, kp xcrypto.KeyPair) *core.Core {
	t.Helper()
	factory := core.Directory(dir)
	c, err := core.Open(factory, core.Options{CreateIfMissing: true, KeyPair: kp})
	if err != nil {
		t.Fatalf("open core: %v", err)
	}
	return c
}

func pairReplicators(t *testing.T) (*Replicator, *Replicator, func()) {
	t.Helper()
	kp, err := xcrypto.Default.KeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	writerDir := filepath.Join(t.TempDir(), "writer")
	readerDir := filepath.Join(t.TempDir(), "reader")
	os.MkdirAll(writerDir, 0o755)
	os.MkdirAll(readerDir, 0o755)

	writerCore := openTestCore(t, writerDir, kp)
	readerCore := openTestCore(t, readerDir, xcrypto.KeyPair{PublicKey: kp.PublicKey})

	writerRep := New(writerCore, Options{})
	readerRep := New(readerCore, Options{})

	a, b := net.Pipe()
	wStream := NewSecureStream(a, true)
	rStream := NewSecureStream(b, false)

	wProto := NewProtocol(wStream, nil)
	rProto := NewProtocol(rStream, nil)

	// net.Pipe is unbuffered and JoinProtocol writes its handshake before
	// returning, so both sides must join concurrently.
	writerJoined := make(chan error, 1)
	go func() {
		_, err := writerRep.JoinProtocol(wProto, kp.PublicKey, discoveryKeyOf(t, kp.PublicKey))
		writerJoined <- err
	}()
	if _, err := readerRep.JoinProtocol(rProto, kp.PublicKey, discoveryKeyOf(t, kp.PublicKey)); err != nil {
		t.Fatalf("reader join: %v", err)
	}
	if err := <-writerJoined; err != nil {
		t.Fatalf("writer join: %v", err)
	}
	writerRep.MarkOpened()
	readerRep.MarkOpened()

	cleanup := func() {
		_ = wProto.Destroy()
		_ = rProto.Destroy()
		_ = writerCore.Close()
		_ = readerCore.Close()
	}
	return writerRep, readerRep, cleanup
}

func discoveryKeyOf(t *testing.T, publicKey []byte) []byte {
	t.Helper()
	dk, err := xcrypto.Default.DiscoveryKey(publicKey)
	if err != nil {
		t.Fatalf("discovery key: %v", err)
	}
	return dk
}

func TestReplicatorRequestBlock(t *testing.T) {
	writerRep, readerRep, cleanup := pairReplicators(t)
	defer cleanup()

	sign := writerRep.core.DefaultSign()
	if _, _, err := writerRep.core.Append([][]byte{[]byte("hello")}, sign, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	writerRep.BroadcastInfo()

	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := readerRep.RequestUpgrade(ctx); err != nil {
		t.Fatalf("request upgrade: %v", err)
	}

	content, err := readerRep.RequestBlock(ctx, 0)
	if err != nil {
		t.Fatalf("request block: %v", err)
	}
	if string(content) != "hello" {
		t.Fatalf("content = %q", content)
	}
}

func TestReplicatorRequestSeek(t *testing.T) {
	writerRep, readerRep, cleanup := pairReplicators(t)
	defer cleanup()

	sign := writerRep.core.DefaultSign()
	if _, _, err := writerRep.core.Append([][]byte{[]byte("aaaa"), []byte("bb")}, sign, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	writerRep.BroadcastInfo()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	index, offset, err := readerRep.RequestSeek(ctx, 5, 0)
	if err != nil {
		t.Fatalf("request seek: %v", err)
	}
	if index != 1 || offset != 1 {
		t.Fatalf("seek = (%d,%d), want (1,1)", index, offset)
	}
}

func TestReplicatorBroadcastBlockTriggersFetch(t *testing.T) {
	writerRep, readerRep, cleanup := pairReplicators(t)
	defer cleanup()

	rng := readerRep.CreateRange(0, AllIndices, nil, false)
	defer rng.Destroy(nil)

	sign := writerRep.core.DefaultSign()
	if _, _, err := writerRep.core.Append([][]byte{[]byte("x")}, sign, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	writerRep.BroadcastInfo()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := readerRep.RequestUpgrade(ctx); err != nil {
		t.Fatalf("request upgrade: %v", err)
	}
	writerRep.BroadcastBlock(0)

	deadline := time.Now().Add(2 * time.Second)
	for !readerRep.core.HasBlock(0) {
		if time.Now().After(deadline) {
			t.Fatal("block never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
