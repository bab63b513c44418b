package xcrypto

import (
	"bytes"
	"testing"
)

func TestBlockCipher_RoundTrip(t *testing.T) {
	c, err := NewBlockCipher([]byte("a 32 byte shared encryption key!"))
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("hello world")
	ct, err := c.Encrypt(3, 0, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(ct) <= Padding {
		t.Fatal("ciphertext must be longer than padding")
	}
	pt, err := c.Decrypt(3, 0, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("got %q, want %q", pt, plaintext)
	}
}

func TestBlockCipher_WrongIndexFails(t *testing.T) {
	c, err := NewBlockCipher([]byte("a 32 byte shared encryption key!"))
	if err != nil {
		t.Fatal(err)
	}
	ct, err := c.Encrypt(3, 0, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decrypt(4, 0, ct); err == nil {
		t.Fatal("expected decryption to fail for wrong index")
	}
	if _, err := c.Decrypt(3, 1, ct); err == nil {
		t.Fatal("expected decryption to fail for wrong fork")
	}
}

func TestBlockCipher_ShortBlock(t *testing.T) {
	c, err := NewBlockCipher([]byte("a 32 byte shared encryption key!"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decrypt(0, 0, []byte("x")); err != ErrShortBlock {
		t.Fatalf("expected ErrShortBlock, got %v", err)
	}
}
