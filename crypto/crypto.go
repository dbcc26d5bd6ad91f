// Package crypto is the hash and public-key façade for the EMV PKI
// engine. All operations go through a process-wide backend selected
// once at startup; the engine itself only ever needs SHA-1 and raw RSA
// (EMV message recovery applies the public operation to the signature
// and reads the plaintext back out).
package crypto

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// EMV single-byte algorithm identifiers.
const (
	PKInvalid byte = 0x00
	PKRSA     byte = 0x01

	HashInvalid byte = 0x00
	HashSHA1    byte = 0x01
)

// DriverNative is the built-in backend on the Go standard library.
const DriverNative = "native"

// ErrBackendUnavailable is returned by every constructor when no
// usable crypto backend could be initialized.
var ErrBackendUnavailable = errors.New("crypto: backend unavailable")

// ErrResourceExhaustion is returned when a constructor refuses to
// allocate key material beyond the EMV ceiling. Go's allocator does
// not fail recoverably, so the bound is enforced up front on the
// requested size.
var ErrResourceExhaustion = errors.New("crypto: resource exhaustion")

// MaxRSABits caps the key material the façade will allocate. EMV
// moduli never exceed 2048 bits.
const MaxRSABits = 2048

// Hash is an incremental digest context for an EMV hash algorithm.
type Hash interface {
	io.Writer
	// Sum finalizes and returns the digest.
	Sum() []byte
	// Size returns the digest length in bytes.
	Size() int
}

// PublicKey applies the public operation m = c^e mod n. Apply requires
// input of exactly the modulus length and preserves that length on
// output, leading zeros included.
type PublicKey interface {
	Algo() byte
	Apply(input []byte) ([]byte, error)
}

// PrivateKey applies the private operation and exposes the key
// parameters needed to build the matching EMV public-key record.
type PrivateKey interface {
	Algo() byte
	// Bits returns the modulus size in bits.
	Bits() int
	// Apply computes input^d mod n, length preserving.
	Apply(input []byte) ([]byte, error)
	// Parameter returns a key parameter: 0 is the modulus, 1 the
	// public exponent, both big-endian without leading zeros.
	Parameter(idx int) ([]byte, error)
}

// Backend provides the primitive constructors. Implementations must be
// safe for concurrent use.
type Backend interface {
	Name() string
	HashOpen(algo byte) (Hash, error)
	PKOpen(algo byte, modulus, exponent []byte) (PublicKey, error)
	PKGenerate(algo byte, nbits int) (PrivateKey, error)
}

var (
	backendMu sync.Mutex
	backend   Backend
)

// Select initializes the process-wide backend by driver name. The
// first successful call wins; later calls are no-ops when the same
// driver is requested and fail otherwise. Concurrent first callers
// converge on exactly one backend.
func Select(driver string) error {
	backendMu.Lock()
	defer backendMu.Unlock()

	if driver == "" {
		driver = DriverNative
	}
	if backend != nil {
		if backend.Name() != driver {
			return fmt.Errorf("%w: %q already selected, cannot switch to %q",
				ErrBackendUnavailable, backend.Name(), driver)
		}
		return nil
	}

	b, err := open(driver)
	if err != nil {
		return err
	}
	backend = b
	log.Debug().Str("driver", driver).Msg("crypto backend selected")
	return nil
}

func open(driver string) (Backend, error) {
	switch driver {
	case DriverNative:
		return nativeBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrBackendUnavailable, driver)
	}
}

// active returns the selected backend, lazily selecting the native one
// on first use.
func active() (Backend, error) {
	backendMu.Lock()
	defer backendMu.Unlock()

	if backend == nil {
		b, err := open(DriverNative)
		if err != nil {
			return nil, err
		}
		backend = b
	}
	return backend, nil
}

// HashOpen opens a digest context for the EMV hash algorithm byte.
func HashOpen(algo byte) (Hash, error) {
	b, err := active()
	if err != nil {
		return nil, err
	}
	return b.HashOpen(algo)
}

// PKOpen opens a public-key context from raw modulus and exponent.
func PKOpen(algo byte, modulus, exponent []byte) (PublicKey, error) {
	b, err := active()
	if err != nil {
		return nil, err
	}
	return b.PKOpen(algo, modulus, exponent)
}

// GenerateKey generates a fresh private key of the given size.
func GenerateKey(algo byte, nbits int) (PrivateKey, error) {
	b, err := active()
	if err != nil {
		return nil, err
	}
	return b.PKGenerate(algo, nbits)
}
