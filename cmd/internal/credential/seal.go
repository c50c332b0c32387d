package credential

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SealParams are the Argon2id parameters used to derive the sealing key from a passphrase.
// MemoryKiB is in KiB as required by argon2.IDKey.
type SealParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultSealParams returns parameters suited to an interactive client.
func DefaultSealParams() SealParams {
	return SealParams{
		MemoryKiB:   64 * 1024, // 64 MiB
		Iterations:  3,
		Parallelism: 1,
	}
}

const sealSaltLen = 16

// sealer encrypts the token at rest with XChaCha20-Poly1305.
// The entry name is bound as additional data so a sealed blob cannot be
// replayed under another key.
type sealer struct {
	passphrase []byte
	params     SealParams
}

func newSealer(passphrase string, p SealParams) (*sealer, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		p = DefaultSealParams()
	}
	return &sealer{passphrase: []byte(passphrase), params: p}, nil
}

func (s *sealer) key(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, s.params.Iterations, s.params.MemoryKiB, s.params.Parallelism, chacha20poly1305.KeySize)
}

func (s *sealer) seal(plain []byte) (salt, nonce, ciphertext []byte, err error) {
	salt = make([]byte, sealSaltLen)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, err
	}
	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, nil, err
	}
	return salt, nonce, aead.Seal(nil, nonce, plain, []byte(EntryName)), nil
}

func (s *sealer) open(salt, nonce, ciphertext []byte) ([]byte, error) {
	if len(salt) != sealSaltLen || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: bad seal header", ErrCorrupt)
	}
	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(EntryName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return plain, nil
}
