package core

import (
	"bytes"
	"testing"
)

func newTestOplog(t *testing.T) *Oplog {
	t.Helper()
	f, err := Directory(t.TempDir())(NameOplog)
	if err != nil {
		t.Fatal(err)
	}
	o, _, err := OpenOplog(f)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestOplog_HeaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f, err := Directory(dir)(NameOplog)
	if err != nil {
		t.Fatal(err)
	}
	o, hdr, err := OpenOplog(f)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Length != 0 {
		t.Fatalf("expected fresh header, got length %d", hdr.Length)
	}
	want := Header{
		PublicKey:  bytes.Repeat([]byte{7}, 32),
		Fork:       2,
		Length:     10,
		ByteLength: 100,
		Signature:  bytes.Repeat([]byte{9}, 64),
	}
	if err := o.WriteHeader(want); err != nil {
		t.Fatal(err)
	}
	// Release the oplog lock before reopening the same file.
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f2, err := Directory(dir)(NameOplog)
	if err != nil {
		t.Fatal(err)
	}
	_, got, err := OpenOplog(f2)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fork != want.Fork || got.Length != want.Length || got.ByteLength != want.ByteLength {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.PublicKey, want.PublicKey) || !bytes.Equal(got.Signature, want.Signature) {
		t.Fatal("public key or signature did not round-trip")
	}
}

func TestOplog_UserData(t *testing.T) {
	o := newTestOplog(t)
	if _, ok := o.GetUserData("missing"); ok {
		t.Fatal("expected missing key to report !ok")
	}
	if err := o.SetUserData("k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := o.SetUserData("k", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	v, ok := o.GetUserData("k")
	if !ok || string(v) != "v2" {
		t.Fatalf("got (%q,%v), want (v2,true)", v, ok)
	}
}
