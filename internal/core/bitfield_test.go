package core

import "testing"

func newTestBitfield(t *testing.T) *Bitfield {
	t.Helper()
	f, err := Directory(t.TempDir())(NameBitfield)
	if err != nil {
		t.Fatal(err)
	}
	bf, err := OpenBitfield(f)
	if err != nil {
		t.Fatal(err)
	}
	return bf
}

func TestBitfield_SetGet(t *testing.T) {
	bf := newTestBitfield(t)
	if bf.Get(5) {
		t.Fatal("expected unset bit to read false")
	}
	if err := bf.Set(5); err != nil {
		t.Fatal(err)
	}
	if !bf.Get(5) {
		t.Fatal("expected set bit to read true")
	}
	if bf.Get(4) || bf.Get(6) {
		t.Fatal("expected neighboring bits to remain false")
	}
}

func TestBitfield_Truncate(t *testing.T) {
	bf := newTestBitfield(t)
	for _, i := range []uint64{0, 1, 2, 3} {
		if err := bf.Set(i); err != nil {
			t.Fatal(err)
		}
	}
	if err := bf.Truncate(2); err != nil {
		t.Fatal(err)
	}
	if !bf.Get(0) || !bf.Get(1) {
		t.Fatal("expected surviving bits to remain set")
	}
	if bf.Get(2) || bf.Get(3) {
		t.Fatal("expected truncated bits to clear")
	}
}

func TestBitfield_Drop(t *testing.T) {
	bf := newTestBitfield(t)
	if err := bf.Set(2); err != nil {
		t.Fatal(err)
	}
	if err := bf.Drop(2); err != nil {
		t.Fatal(err)
	}
	if bf.Get(2) {
		t.Fatal("expected dropped bit to read false")
	}
}
