package provenance

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyai/wasm-build/errors"
)

// Key file names written by SaveKey.
const (
	PrivateKeyFile = "signing-key"
	PublicKeyFile  = "signing-key.pub"
)

// GenerateKey creates a new Ed25519 keypair for signing build records.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errors.Signature("generate Ed25519 keypair", err)
	}
	return public, private, nil
}

// SaveKey writes a keypair into dir as raw key bytes. The private key file
// has 0600 permissions; the public key file has 0644. Existing files are
// never overwritten.
func SaveKey(dir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.IO(errors.PhaseSign, dir, err)
	}
	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{PrivateKeyFile, private, 0o600},
		{PublicKeyFile, public, 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if _, err := os.Lstat(path); err == nil {
			return errors.IO(errors.PhaseSign, path, fs.ErrExist)
		}
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeExclusive(path, f.data, f.perm); err != nil {
			// A keypair is written whole or not at all.
			for _, w := range written {
				_ = os.Remove(w)
			}
			return errors.IO(errors.PhaseSign, path, err)
		}
		written = append(written, path)
	}
	return nil
}

func writeExclusive(path string, data []byte, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		_ = os.Remove(path)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// LoadPrivateKey reads a raw Ed25519 private key file.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseSign, path, err)
	}
	if len(data) != ed25519.PrivateKeySize {
		return nil, errors.New(errors.PhaseSign, errors.KindSignature).
			Subject(path).
			Detail("private key has %d bytes, want %d", len(data), ed25519.PrivateKeySize).
			Build()
	}
	return ed25519.PrivateKey(data), nil
}

// LoadPublicKey reads a raw Ed25519 public key file.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseSign, path, err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, errors.New(errors.PhaseSign, errors.KindSignature).
			Subject(path).
			Detail("public key has %d bytes, want %d", len(data), ed25519.PublicKeySize).
			Build()
	}
	return ed25519.PublicKey(data), nil
}

func sign(key ed25519.PrivateKey, record []byte) []byte {
	return []byte(hex.EncodeToString(ed25519.Sign(key, record)) + "\n")
}

func checkSignature(key ed25519.PublicKey, record, sigFile []byte) error {
	sig, err := hex.DecodeString(strings.TrimSpace(string(sigFile)))
	if err != nil {
		return errors.Signature("decode signature", err)
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(key, record, sig) {
		return errors.Signature("signature does not match "+RecordFile, nil)
	}
	return nil
}
