// Package secret implements envelope encryption: a random data key
// encrypts the payload with AES-256-GCM and is itself wrapped with
// AES-256-GCM under a key derived from a password.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// ErrDecrypt is returned when an envelope cannot be opened: wrong
// password, tampered data or malformed metadata.
var ErrDecrypt = errors.New("decryption failed")

const (
	keyLen  = 32
	saltLen = 16
	algo    = "aes-256-gcm"
)

// Parameter ceilings accepted from envelope metadata.
const (
	maxIterations = 10_000_000
	maxMemoryKiB  = 1 << 20
	maxTimeCost   = 64
)

// KDF derives the key-encryption key from a password.
type KDF interface {
	Name() string
	derive(password, salt []byte) []byte
	params() kdfParams
}

// PBKDF2 derives keys with PBKDF2-HMAC-SHA256.
type PBKDF2 struct {
	Iterations int
}

// DefaultPBKDF2 uses 200000 iterations.
func DefaultPBKDF2() PBKDF2 { return PBKDF2{Iterations: 200_000} }

func (PBKDF2) Name() string { return "pbkdf2" }

func (k PBKDF2) derive(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, k.Iterations, keyLen, sha256.New)
}

func (k PBKDF2) params() kdfParams {
	return kdfParams{Iterations: k.Iterations, Hash: "sha256"}
}

// Argon2id derives keys with Argon2id.
type Argon2id struct {
	MemoryKiB   uint32
	TimeCost    uint32
	Parallelism uint8
}

// DefaultArgon2id uses 16 MiB, two passes and one lane.
func DefaultArgon2id() Argon2id { return Argon2id{MemoryKiB: 16384, TimeCost: 2, Parallelism: 1} }

func (Argon2id) Name() string { return "argon2id" }

func (k Argon2id) derive(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, k.TimeCost, k.MemoryKiB, k.Parallelism, keyLen)
}

func (k Argon2id) params() kdfParams {
	return kdfParams{MemoryKiB: k.MemoryKiB, TimeCost: k.TimeCost, Parallelism: k.Parallelism}
}

// Envelope is an encrypted payload. EncryptionMeta is a JSON document
// naming the KDF, its salt and parameters, and the wrapped data key.
type Envelope struct {
	DataCiphertext string `json:"data_ciphertext"`
	EncryptionMeta string `json:"encryption_meta"`
}

type kdfParams struct {
	Iterations  int    `json:"iterations,omitempty"`
	Hash        string `json:"hash,omitempty"`
	MemoryKiB   uint32 `json:"memory_kib,omitempty"`
	TimeCost    uint32 `json:"time_cost,omitempty"`
	Parallelism uint8  `json:"parallelism,omitempty"`
}

type meta struct {
	KDF struct {
		Type   string    `json:"type"`
		Salt   string    `json:"salt"`
		Params kdfParams `json:"params"`
	} `json:"kdf"`
	Wrap struct {
		IV         string `json:"iv"`
		Algo       string `json:"algo"`
		WrappedDEK string `json:"wrapped_dek"`
	} `json:"wrap"`
	Cipher struct {
		IV   string `json:"iv"`
		Algo string `json:"algo"`
	} `json:"cipher"`
}

// Encrypt seals plaintext under password.
func Encrypt(plaintext []byte, password string, kdf KDF) (Envelope, error) {
	salt, err := random(saltLen)
	if err != nil {
		return Envelope{}, err
	}
	dek, err := random(keyLen)
	if err != nil {
		return Envelope{}, err
	}
	ivData, ciphertext, err := seal(dek, plaintext)
	if err != nil {
		return Envelope{}, err
	}
	ivWrap, wrapped, err := seal(kdf.derive([]byte(password), salt), dek)
	if err != nil {
		return Envelope{}, err
	}

	var m meta
	m.KDF.Type = kdf.Name()
	m.KDF.Salt = b64(salt)
	m.KDF.Params = kdf.params()
	m.Wrap.IV = b64(ivWrap)
	m.Wrap.Algo = algo
	m.Wrap.WrappedDEK = b64(wrapped)
	m.Cipher.IV = b64(ivData)
	m.Cipher.Algo = algo

	b, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{DataCiphertext: b64(ciphertext), EncryptionMeta: string(b)}, nil
}

// Decrypt opens env with password. The KDF and its parameters come from
// the envelope metadata.
func Decrypt(env Envelope, password string) ([]byte, error) {
	var m meta
	if err := json.Unmarshal([]byte(env.EncryptionMeta), &m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrDecrypt, err)
	}
	kdf, err := kdfFromMeta(m.KDF.Type, m.KDF.Params)
	if err != nil {
		return nil, err
	}

	var salt, ivWrap, wrapped, ivData, ciphertext []byte
	for _, f := range []struct {
		dst *[]byte
		src string
	}{
		{&salt, m.KDF.Salt},
		{&ivWrap, m.Wrap.IV},
		{&wrapped, m.Wrap.WrappedDEK},
		{&ivData, m.Cipher.IV},
		{&ciphertext, env.DataCiphertext},
	} {
		if *f.dst, err = base64.StdEncoding.DecodeString(f.src); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
		}
	}

	dek, err := open(kdf.derive([]byte(password), salt), ivWrap, wrapped)
	if err != nil {
		return nil, err
	}
	return open(dek, ivData, ciphertext)
}

func kdfFromMeta(name string, p kdfParams) (KDF, error) {
	switch name {
	case "pbkdf2":
		if p.Hash != "" && p.Hash != "sha256" {
			return nil, fmt.Errorf("%w: unsupported hash %q", ErrDecrypt, p.Hash)
		}
		if p.Iterations < 1 || p.Iterations > maxIterations {
			return nil, fmt.Errorf("%w: iterations %d out of range", ErrDecrypt, p.Iterations)
		}
		return PBKDF2{Iterations: p.Iterations}, nil
	case "argon2id":
		if p.MemoryKiB < 8 || p.MemoryKiB > maxMemoryKiB || p.TimeCost < 1 || p.TimeCost > maxTimeCost || p.Parallelism < 1 {
			return nil, fmt.Errorf("%w: argon2id parameters out of range", ErrDecrypt)
		}
		return Argon2id{MemoryKiB: p.MemoryKiB, TimeCost: p.TimeCost, Parallelism: p.Parallelism}, nil
	}
	return nil, fmt.Errorf("%w: unknown kdf %q", ErrDecrypt, name)
}

// KDFByName returns the default parameters of a named KDF.
func KDFByName(name string) (KDF, error) {
	switch name {
	case "pbkdf2":
		return DefaultPBKDF2(), nil
	case "argon2id", "argon2":
		return DefaultArgon2id(), nil
	}
	return nil, fmt.Errorf("unknown kdf %q (want pbkdf2 or argon2id)", name)
}

func seal(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	if iv, err = random(gcm.NonceSize()); err != nil {
		return nil, nil, err
	}
	return iv, gcm.Seal(nil, iv, plaintext, nil), nil
}

func open(key, iv, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad iv length", ErrDecrypt)
	}
	out, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
