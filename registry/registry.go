// Package registry reads the on-disk CA public-key registry: one key
// per line in the colon-hex text format of types.ParseCAKey.
package registry

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/emvkit/emvpki/types"
)

// ErrKeyNotFound is returned when no registry entry matches the
// requested RID and index.
var ErrKeyNotFound = errors.New("registry: CA key not found")

// Source yields CA public keys by RID and index.
type Source interface {
	Lookup(rid []byte, index byte) (*types.EmvPK, error)
}

// FileSource scans a registry file on every lookup. Unparseable lines
// are skipped; a matching key must pass self-verification, and one
// that does not is an error rather than a skip. A corrupted root key
// must never be silently passed over.
type FileSource struct {
	path   string
	logger zerolog.Logger
}

// NewFileSource returns a FileSource over the given registry file.
func NewFileSource(path string, logger zerolog.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

func (f *FileSource) Lookup(rid []byte, index byte) (*types.EmvPK, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		pk, err := types.ParseCAKey(scanner.Text())
		if err != nil {
			continue
		}
		if !bytes.Equal(pk.RID[:], rid) || pk.Index != index {
			continue
		}

		f.logger.Debug().
			Str("rid", types.HexBytes(pk.RID[:]).String()).
			Uint8("index", pk.Index).
			Int("bits", len(pk.Modulus)*8).
			Msg("verifying CA public key")
		if !pk.Verify() {
			f.logger.Error().
				Str("rid", types.HexBytes(pk.RID[:]).String()).
				Uint8("index", pk.Index).
				Msg("CA public key failed verification")
			return nil, fmt.Errorf("registry: CA key %x/%02x failed self-verification", rid, index)
		}
		return pk, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return nil, fmt.Errorf("%w: %x/%02x", ErrKeyNotFound, rid, index)
}

// All parses every well-formed line of the registry file, preserving
// file order. Malformed lines are counted but not returned.
func (f *FileSource) All() ([]*types.EmvPK, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	defer file.Close()

	var keys []*types.EmvPK
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		pk, err := types.ParseCAKey(line)
		if err != nil {
			skipped++
			continue
		}
		keys = append(keys, pk)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if skipped > 0 {
		f.logger.Warn().Int("lines", skipped).Msg("skipped malformed registry lines")
	}
	return keys, nil
}
