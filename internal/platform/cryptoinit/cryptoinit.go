// Package cryptoinit holds process-wide cryptographic setup: the randomness
// provider used by the engine and the node's static key pair.
package cryptoinit

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.dedis.ch/kyber/v4/util/random"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	kdfSalt          = "csn_kdf_salt_v1"
	kdfEncryptionKey = "csn_crypto_box_encryption_key"

	// KeySize is the size of static secret and public keys.
	KeySize = 32
)

var (
	installOnce sync.Once
	installed   atomic.Bool
	provider    atomic.Value // cipher.Stream
)

// InstallDefaultProvider installs the process randomness provider backed by
// crypto/rand. Only the first call has an effect. A failed install is logged
// and RandomStream keeps serving the unprobed fallback stream.
func InstallDefaultProvider(logger zerolog.Logger) bool {
	installOnce.Do(func() {
		if err := install(rand.Reader); err != nil {
			logger.Warn().Err(err).Msg("cannot install crypto provider, continuing with fallback stream")
			return
		}
		logger.Debug().Msg("crypto provider installed")
	})
	return installed.Load()
}

func install(source io.Reader) error {
	stream := random.New(source)
	if err := probe(stream); err != nil {
		return err
	}
	provider.Store(stream)
	installed.Store(true)
	return nil
}

// probe rejects a source that yields an all-zero block.
func probe(stream cipher.Stream) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe randomness: %v", r)
		}
	}()
	block := make([]byte, KeySize)
	stream.XORKeyStream(block, block)
	if bytes.Equal(block, make([]byte, KeySize)) {
		return errors.New("probe randomness: source returned zero block")
	}
	return nil
}

// RandomStream returns the installed provider.
func RandomStream() cipher.Stream {
	if stream, ok := provider.Load().(cipher.Stream); ok {
		return stream
	}
	return random.New()
}

// StaticKeys is the node's long-term X25519 key pair.
type StaticKeys struct {
	Secret [KeySize]byte
	Public [KeySize]byte
}

// DeriveStaticKeys derives the static key pair from an operator passphrase
// with HKDF-SHA256. The same passphrase always yields the same keys.
func DeriveStaticKeys(passphrase string) (StaticKeys, error) {
	if passphrase == "" {
		return StaticKeys{}, errors.New("key passphrase is required")
	}

	var keys StaticKeys
	kdf := hkdf.New(sha256.New, []byte(passphrase), []byte(kdfSalt), []byte(kdfEncryptionKey))
	if _, err := io.ReadFull(kdf, keys.Secret[:]); err != nil {
		return StaticKeys{}, fmt.Errorf("expand encryption key: %w", err)
	}

	public, err := curve25519.X25519(keys.Secret[:], curve25519.Basepoint)
	if err != nil {
		return StaticKeys{}, fmt.Errorf("derive public key: %w", err)
	}
	copy(keys.Public[:], public)
	return keys, nil
}
