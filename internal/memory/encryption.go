// Package memory implements the dual-domain memory service (C2): private
// items are encrypted at rest with Argon2id-derived keys and
// ChaCha20-Poly1305 AEAD; public items are plaintext and converge across
// peers via CRDT vector clocks.
package memory

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cis-project/cis-core/internal/domain"
)

const (
	keyEnvelopeFormat  = "cis-key-v2"
	keyEnvelopeVersion = 2

	blobMagic     = "CIS2"
	blobVersion   = 1
	blobSaltLen   = 32
	blobKeyLen    = 32
	blobReserved  = 8
	blobHMACLen   = sha256.Size
	blobPrefixLen = len(blobMagic) + 1 + 2 + blobSaltLen + 2 + blobKeyLen + blobReserved
	blobTotalLen  = blobPrefixLen + blobHMACLen
)

// algorithmParams mirrors the envelope's algorithm_params object.
type algorithmParams struct {
	Iterations   uint32 `json:"iterations"`
	Parallelism  uint8  `json:"parallelism"`
	Memory       uint32 `json:"memory"`
	OutputLength int    `json:"output_length"`
}

// keyFileEnvelope is the on-disk JSON wrapper around the binary key blob:
// `magic ‖ version ‖ salt_len ‖ salt ‖ key_len ‖ key ‖ reserved ‖ hmac`,
// base64-encoded into `data`. The KDF parameters travel alongside so Load
// can re-derive the same wrapping key from a passphrase.
type keyFileEnvelope struct {
	Format          string          `json:"format"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	Algorithm       string          `json:"algorithm"`
	AlgorithmParams algorithmParams `json:"algorithm_params"`
	Encoding        string          `json:"encoding"`
	Data            string          `json:"data"`
}

// Argon2Params tunes the Argon2id key derivation function.
type Argon2Params struct {
	TimeCost uint32
	MemoryKB uint32
	Threads  uint8
}

// Encryptor derives a ChaCha20-Poly1305 key from a passphrase via Argon2id
// and seals/opens private-domain memory values with it.
type Encryptor struct {
	key    []byte // 32-byte data encryption key (DEK)
	params Argon2Params
}

// GenerateKeyFile generates a fresh random salt and a fresh random data
// encryption key, wraps the key under an Argon2id-derived key-encryption
// key, and writes the envelope to path. Call once on first run.
func GenerateKeyFile(path, passphrase string, params Argon2Params) (*Encryptor, error) {
	salt := make([]byte, blobSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.salt_gen_failed", err)
	}
	dek := make([]byte, blobKeyLen)
	if _, err := rand.Read(dek); err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.dek_gen_failed", err)
	}

	kek := deriveKEK(passphrase, salt, params)
	wrapped := xorKey(dek, kek)

	blob := buildBlob(salt, wrapped, kek)
	if err := writeEnvelope(path, blob, params); err != nil {
		return nil, err
	}
	return &Encryptor{key: dek, params: params}, nil
}

// LoadKeyFile reads the envelope at path, re-derives the key-encryption key
// from passphrase, and verifies the stored HMAC before unwrapping the data
// encryption key. Load fails closed: any HMAC mismatch (wrong passphrase or
// a tampered file) is reported the same way, before any private item is
// ever touched.
func LoadKeyFile(path, passphrase string) (*Encryptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.key_read_failed", err)
	}

	var env keyFileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.key_unmarshal_failed", err)
	}
	if env.Format != keyEnvelopeFormat || env.Version != keyEnvelopeVersion || env.Encoding != "base64" {
		return nil, domain.Wrap(domain.ErrMemory, "memory.key_envelope_unrecognized", domain.ErrKeyFileInvalid)
	}

	blob, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.key_data_decode_failed", err)
	}
	salt, wrapped, tag, err := parseBlob(blob)
	if err != nil {
		return nil, err
	}

	params := Argon2Params{
		TimeCost: env.AlgorithmParams.Iterations,
		MemoryKB: env.AlgorithmParams.Memory,
		Threads:  env.AlgorithmParams.Parallelism,
	}
	kek := deriveKEK(passphrase, salt, params)

	expected := hmacOver(blob[:blobPrefixLen], kek)
	if !hmac.Equal(expected, tag) {
		return nil, domain.Wrap(domain.ErrMemory, "memory.key_hmac_mismatch", domain.ErrHMACMismatch)
	}

	dek := xorKey(wrapped, kek)
	return &Encryptor{key: dek, params: params}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	if e == nil || e.key == nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.key_not_loaded", domain.ErrKeyNotLoaded)
	}
	aead, err := chacha20poly1305.New(e.key)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.aead_init_failed", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.nonce_gen_failed", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal.
func (e *Encryptor) Open(sealed []byte) ([]byte, error) {
	if e == nil || e.key == nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.key_not_loaded", domain.ErrKeyNotLoaded)
	}
	aead, err := chacha20poly1305.New(e.key)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.aead_init_failed", err)
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return nil, domain.Wrap(domain.ErrMemory, "memory.ciphertext_short", domain.ErrDecryptionFailed)
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.decrypt_failed", domain.ErrDecryptionFailed)
	}
	return plain, nil
}

// RotateKeyFile generates a brand new salt and data encryption key, wraps it
// under newPassphrase, and overwrites path. The returned Encryptor is the
// new key; callers must re-seal every private item under it (see
// Service.Rotate) before the old Encryptor is discarded — the key file
// alone carries no record of the old key once this returns.
func RotateKeyFile(path, newPassphrase string, params Argon2Params) (*Encryptor, error) {
	return GenerateKeyFile(path, newPassphrase, params)
}

// ─── binary blob + envelope helpers ─────────────────────────────────────────

func deriveKEK(passphrase string, salt []byte, params Argon2Params) []byte {
	return argon2.IDKey([]byte(passphrase), salt, params.TimeCost, params.MemoryKB, params.Threads, 32)
}

// xorKey wraps/unwraps a 32-byte key under a 32-byte key-encryption key.
// The operation is its own inverse, so the same call both wraps (at
// generation time) and unwraps (at load time). This needs no nonce: kek is
// single-use key material scoped to one key file via its own random salt,
// and the envelope's HMAC authenticates the wrapped bytes against both
// tampering and a wrong passphrase.
func xorKey(key, kek []byte) []byte {
	out := make([]byte, len(key))
	for i := range out {
		out[i] = key[i] ^ kek[i%len(kek)]
	}
	return out
}

// buildBlob assembles magic‖version‖salt_len‖salt‖key_len‖key‖reserved and
// appends an HMAC-SHA256 tag (keyed by kek) over everything preceding it.
func buildBlob(salt, wrappedKey, kek []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(blobMagic)
	buf.WriteByte(blobVersion)
	writeUint16(&buf, uint16(len(salt)))
	buf.Write(salt)
	writeUint16(&buf, uint16(len(wrappedKey)))
	buf.Write(wrappedKey)
	buf.Write(make([]byte, blobReserved))

	prefix := buf.Bytes()
	buf.Write(hmacOver(prefix, kek))
	return buf.Bytes()
}

func parseBlob(blob []byte) (salt, wrappedKey, tag []byte, err error) {
	if len(blob) != blobTotalLen {
		return nil, nil, nil, domain.Wrap(domain.ErrMemory, "memory.key_blob_length", domain.ErrKeyFileInvalid)
	}
	off := 0
	magic := string(blob[off : off+len(blobMagic)])
	off += len(blobMagic)
	version := blob[off]
	off++
	if magic != blobMagic || version != blobVersion {
		return nil, nil, nil, domain.Wrap(domain.ErrMemory, "memory.key_blob_magic", domain.ErrKeyFileInvalid)
	}

	saltLen := readUint16(blob[off:])
	off += 2
	if int(saltLen) != blobSaltLen || off+int(saltLen) > len(blob) {
		return nil, nil, nil, domain.Wrap(domain.ErrMemory, "memory.key_blob_salt_len", domain.ErrKeyFileInvalid)
	}
	salt = blob[off : off+int(saltLen)]
	off += int(saltLen)

	keyLen := readUint16(blob[off:])
	off += 2
	if int(keyLen) != blobKeyLen || off+int(keyLen) > len(blob) {
		return nil, nil, nil, domain.Wrap(domain.ErrMemory, "memory.key_blob_key_len", domain.ErrKeyFileInvalid)
	}
	wrappedKey = blob[off : off+int(keyLen)]
	off += int(keyLen)

	off += blobReserved
	tag = blob[off : off+blobHMACLen]
	return salt, wrappedKey, tag, nil
}

func hmacOver(data, kek []byte) []byte {
	mac := hmac.New(sha256.New, kek)
	mac.Write(data)
	return mac.Sum(nil)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readUint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

func writeEnvelope(path string, blob []byte, params Argon2Params) error {
	env := keyFileEnvelope{
		Format:    keyEnvelopeFormat,
		Version:   keyEnvelopeVersion,
		CreatedAt: time.Now().UTC(),
		Algorithm: "argon2id",
		AlgorithmParams: algorithmParams{
			Iterations:   params.TimeCost,
			Parallelism:  params.Threads,
			Memory:       params.MemoryKB,
			OutputLength: 32,
		},
		Encoding: "base64",
		Data:     base64.StdEncoding.EncodeToString(blob),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return domain.Wrap(domain.ErrMemory, "memory.key_dir_failed", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return domain.Wrap(domain.ErrMemory, "memory.key_marshal_failed", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return domain.Wrap(domain.ErrMemory, "memory.key_write_failed", err)
	}
	return nil
}
