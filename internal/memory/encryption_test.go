package memory

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func testParams() Argon2Params {
	return Argon2Params{TimeCost: 1, MemoryKB: 8 * 1024, Threads: 1}
}

func TestSealOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	enc, err := GenerateKeyFile(path, "correct horse battery staple", testParams())
	if err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}

	sealed, err := enc.Seal([]byte("hello private world"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plain, err := enc.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != "hello private world" {
		t.Fatalf("Open() = %q", plain)
	}
}

func TestLoadKeyFileWrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	if _, err := GenerateKeyFile(path, "right-passphrase", testParams()); err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}
	if _, err := LoadKeyFile(path, "wrong-passphrase"); err == nil {
		t.Fatal("expected error loading key with wrong passphrase")
	}
}

func TestOpenRejectsBitFlippedCiphertext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	enc, err := GenerateKeyFile(path, "passphrase", testParams())
	if err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}
	sealed, err := enc.Seal([]byte("sensitive"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF // flip a tag byte

	if _, err := enc.Open(sealed); err == nil {
		t.Fatal("expected authentication failure on tampered ciphertext")
	}
}

func TestLoadKeyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	if _, err := GenerateKeyFile(path, "passphrase", testParams()); err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}
	enc, err := LoadKeyFile(path, "passphrase")
	if err != nil {
		t.Fatalf("LoadKeyFile: %v", err)
	}
	sealed, err := enc.Seal([]byte("x"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := enc.Open(sealed); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func TestGenerateKeyFileWritesDocumentedEnvelope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	if _, err := GenerateKeyFile(path, "passphrase", testParams()); err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var env keyFileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if env.Format != "cis-key-v2" {
		t.Fatalf("Format = %q, want cis-key-v2", env.Format)
	}
	if env.Version != 2 {
		t.Fatalf("Version = %d, want 2", env.Version)
	}
	if env.Algorithm != "argon2id" {
		t.Fatalf("Algorithm = %q, want argon2id", env.Algorithm)
	}
	if env.Encoding != "base64" {
		t.Fatalf("Encoding = %q, want base64", env.Encoding)
	}
	if env.CreatedAt.IsZero() {
		t.Fatal("CreatedAt is zero")
	}

	blob, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		t.Fatalf("decode Data: %v", err)
	}
	if len(blob) != blobTotalLen {
		t.Fatalf("blob length = %d, want %d", len(blob), blobTotalLen)
	}
	if string(blob[:len(blobMagic)]) != blobMagic {
		t.Fatalf("blob magic = %q, want %q", blob[:len(blobMagic)], blobMagic)
	}
}

func TestLoadKeyFileRejectsTamperedBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	if _, err := GenerateKeyFile(path, "passphrase", testParams()); err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var env keyFileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	blob, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		t.Fatalf("decode Data: %v", err)
	}
	blob[len(blob)-1] ^= 0xFF // flip a byte inside the HMAC tag
	env.Data = base64.StdEncoding.EncodeToString(blob)

	tampered, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(path, tampered, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadKeyFile(path, "passphrase"); err == nil {
		t.Fatal("expected HMAC failure on a tampered key blob")
	}
}

func TestRotateKeyFileProducesIndependentKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	oldEnc, err := GenerateKeyFile(path, "old-passphrase", testParams())
	if err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}
	sealed, err := oldEnc.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	newEnc, err := RotateKeyFile(path, "new-passphrase", testParams())
	if err != nil {
		t.Fatalf("RotateKeyFile: %v", err)
	}

	if _, err := newEnc.Open(sealed); err == nil {
		t.Fatal("expected the rotated key to be unable to open data sealed under the old key")
	}

	reloaded, err := LoadKeyFile(path, "new-passphrase")
	if err != nil {
		t.Fatalf("LoadKeyFile after rotation: %v", err)
	}
	resealed, err := reloaded.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal with reloaded key: %v", err)
	}
	if _, err := reloaded.Open(resealed); err != nil {
		t.Fatalf("Open with reloaded key: %v", err)
	}
	if _, err := LoadKeyFile(path, "old-passphrase"); err == nil {
		t.Fatal("expected the old passphrase to no longer load the rotated key file")
	}
}
