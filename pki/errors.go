package pki

import "errors"

// The failure taxonomy is flat; every codec and chain operation fails
// with one of these, wrapped with context, or with a crypto backend
// error (crypto.ErrBackendUnavailable, crypto.ErrResourceExhaustion)
// passed through as the façade returned it. No partial results are
// ever returned alongside an error.
var (
	// ErrMalformedInput: a required TLV is missing or an input does
	// not match the expected shape or length.
	ErrMalformedInput = errors.New("pki: malformed input")

	// ErrSignatureHeader: the recovered plaintext lacks the 0x6a/0xbc
	// framing, carries the wrong message type, or names an unsupported
	// hash algorithm.
	ErrSignatureHeader = errors.New("pki: invalid signature header")

	// ErrHashMismatch: the recomputed digest differs from the one
	// embedded in the recovered plaintext.
	ErrHashMismatch = errors.New("pki: hash mismatch")

	// ErrFieldConstraint: a recovered field violates its rules:
	// declared modulus or exponent length, PAN prefix agreement, CID,
	// or the dynamic-data length bytes.
	ErrFieldConstraint = errors.New("pki: field constraint violation")
)
