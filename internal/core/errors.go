package core

import "errors"

// ErrCrypto marks verification, decryption, or signing failures, so
// callers can errors.Is against it regardless of the wrapped detail
// (spec §7 "CryptoError").
var ErrCrypto = errors.New("cryptographic verification failed")
