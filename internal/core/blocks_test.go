package core

import (
	"bytes"
	"testing"
)

func newTestBlocks(t *testing.T) *Blocks {
	t.Helper()
	factory := Directory(t.TempDir())
	data, err := factory(NameData)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := factory(NameDataIdx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := OpenBlocks(data, idx)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBlocks_GrowPutGet(t *testing.T) {
	b := newTestBlocks(t)
	if err := b.Grow(3); err != nil {
		t.Fatal(err)
	}
	if b.Has(0) {
		t.Fatal("expected freshly grown slot to be absent")
	}
	if err := b.PutAt(1, []byte("middle")); err != nil {
		t.Fatal(err)
	}
	if !b.Has(1) || b.Has(0) || b.Has(2) {
		t.Fatal("expected only slot 1 to hold content")
	}
	got, err := b.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("middle")) {
		t.Fatalf("got %q, want %q", got, "middle")
	}
}

func TestBlocks_PutBeyondCapacityFails(t *testing.T) {
	b := newTestBlocks(t)
	if err := b.Grow(1); err != nil {
		t.Fatal(err)
	}
	if err := b.PutAt(1, []byte("x")); err == nil {
		t.Fatal("expected error writing beyond capacity")
	}
}

func TestBlocks_Truncate(t *testing.T) {
	b := newTestBlocks(t)
	if err := b.Grow(3); err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 3; i++ {
		if err := b.PutAt(i, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Truncate(1); err != nil {
		t.Fatal(err)
	}
	if b.Capacity() != 1 {
		t.Fatalf("got capacity %d, want 1", b.Capacity())
	}
	if !b.Has(0) {
		t.Fatal("expected slot 0 to survive truncate")
	}
}
