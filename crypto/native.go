package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"hash"
	"math/big"
)

// nativeBackend implements the façade on the Go standard library:
// crypto/sha1 for digests, math/big for the raw RSA operations
// (crypto/rsa only exposes padded ones), crypto/rsa for key
// generation.
type nativeBackend struct{}

func (nativeBackend) Name() string { return DriverNative }

func (nativeBackend) HashOpen(algo byte) (Hash, error) {
	switch algo {
	case HashSHA1:
		return &nativeHash{h: sha1.New()}, nil
	default:
		return nil, fmt.Errorf("%w: hash algorithm %#02x", ErrBackendUnavailable, algo)
	}
}

func (nativeBackend) PKOpen(algo byte, modulus, exponent []byte) (PublicKey, error) {
	if algo != PKRSA {
		return nil, fmt.Errorf("%w: pk algorithm %#02x", ErrBackendUnavailable, algo)
	}
	if len(modulus) == 0 || len(exponent) == 0 {
		return nil, fmt.Errorf("%w: empty RSA parameter", ErrBackendUnavailable)
	}
	if len(modulus) > MaxRSABits/8 {
		return nil, fmt.Errorf("%w: %d-byte modulus exceeds %d bits", ErrResourceExhaustion, len(modulus), MaxRSABits)
	}
	return &nativePublic{
		n:    new(big.Int).SetBytes(modulus),
		e:    new(big.Int).SetBytes(exponent),
		size: len(modulus),
	}, nil
}

func (nativeBackend) PKGenerate(algo byte, nbits int) (PrivateKey, error) {
	if algo != PKRSA {
		return nil, fmt.Errorf("%w: pk algorithm %#02x", ErrBackendUnavailable, algo)
	}
	if nbits <= 0 || nbits > MaxRSABits {
		return nil, fmt.Errorf("%w: %d-bit key outside 1..%d bits", ErrResourceExhaustion, nbits, MaxRSABits)
	}
	key, err := rsa.GenerateKey(rand.Reader, nbits)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa keygen: %v", ErrBackendUnavailable, err)
	}
	return &nativePrivate{key: key}, nil
}

type nativeHash struct {
	h hash.Hash
}

func (nh *nativeHash) Write(p []byte) (int, error) { return nh.h.Write(p) }
func (nh *nativeHash) Sum() []byte                 { return nh.h.Sum(nil) }
func (nh *nativeHash) Size() int                   { return nh.h.Size() }

type nativePublic struct {
	n    *big.Int
	e    *big.Int
	size int
}

func (pk *nativePublic) Algo() byte { return PKRSA }

// Apply computes input^e mod n. The input must be exactly the modulus
// length and, as an integer, smaller than the modulus; the output is
// padded back to the modulus length so the caller can index the EMV
// envelope directly.
func (pk *nativePublic) Apply(input []byte) ([]byte, error) {
	if len(input) != pk.size {
		return nil, fmt.Errorf("rsa public op: input length %d != modulus length %d", len(input), pk.size)
	}
	c := new(big.Int).SetBytes(input)
	if c.Cmp(pk.n) >= 0 {
		return nil, fmt.Errorf("rsa public op: input not reduced modulo n")
	}
	m := new(big.Int).Exp(c, pk.e, pk.n)
	return m.FillBytes(make([]byte, pk.size)), nil
}

type nativePrivate struct {
	key *rsa.PrivateKey
}

// NewPrivateKey wraps an existing RSA private key in a façade context.
// Used by callers that manage key material themselves (fixed test
// vectors, keys loaded from storage).
func NewPrivateKey(key *rsa.PrivateKey) PrivateKey {
	return &nativePrivate{key: key}
}

func (pk *nativePrivate) Algo() byte { return PKRSA }

func (pk *nativePrivate) Bits() int { return pk.key.N.BitLen() }

// Apply computes input^d mod n with no padding. This is the signing
// primitive of the EMV scheme: the formatted envelope is the integer
// being exponentiated.
func (pk *nativePrivate) Apply(input []byte) ([]byte, error) {
	size := pk.key.Size()
	if len(input) != size {
		return nil, fmt.Errorf("rsa private op: input length %d != modulus length %d", len(input), size)
	}
	m := new(big.Int).SetBytes(input)
	if m.Cmp(pk.key.N) >= 0 {
		return nil, fmt.Errorf("rsa private op: input not reduced modulo n")
	}
	c := new(big.Int).Exp(m, pk.key.D, pk.key.N)
	return c.FillBytes(make([]byte, size)), nil
}

func (pk *nativePrivate) Parameter(idx int) ([]byte, error) {
	switch idx {
	case 0:
		return pk.key.N.Bytes(), nil
	case 1:
		return big.NewInt(int64(pk.key.E)).Bytes(), nil
	default:
		return nil, fmt.Errorf("rsa: no parameter %d", idx)
	}
}
