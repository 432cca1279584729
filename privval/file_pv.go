package privval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File errors
var (
	ErrKeyFileExists   = errors.New("key file already exists")
	ErrKeyFileNotFound = errors.New("key file not found")
)

const keyFilePerm = 0600

// FilePVKey is the on-disk layout of a validator key file.
type FilePVKey struct {
	Scheme     string `json:"scheme"`
	PublicKey  []byte `json:"pub_key"`
	PrivateKey []byte `json:"priv_key"`
}

// FilePV is a Signer backed by a key file on disk.
type FilePV struct {
	signer *LocalSigner
	path   string
}

// GenerateFilePV generates a fresh keypair for the named scheme and writes
// it to path. It refuses to overwrite an existing file.
func GenerateFilePV(path, schemeName string) (*FilePV, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyFileExists, path)
	}
	signer, err := NewLocalSigner(schemeName)
	if err != nil {
		return nil, err
	}
	pv := &FilePV{signer: signer, path: path}
	if err := pv.Save(); err != nil {
		return nil, err
	}
	return pv, nil
}

// LoadFilePV loads a validator key file.
func LoadFilePV(path string) (*FilePV, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var key FilePVKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}

	scheme, err := SchemeByName(key.Scheme)
	if err != nil {
		return nil, err
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	signer := &LocalSigner{scheme: scheme, priv: priv, pub: key.PublicKey}
	return &FilePV{signer: signer, path: path}, nil
}

// Save writes the key file atomically (temp file + rename).
func (pv *FilePV) Save() error {
	priv, err := pv.signer.privateKeyBytes()
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	key := FilePVKey{
		Scheme:     pv.signer.SchemeName(),
		PublicKey:  pv.signer.PublicKey(),
		PrivateKey: priv,
	}
	data, err := json.MarshalIndent(&key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key file: %w", err)
	}

	tmp := pv.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(pv.path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, keyFilePerm); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, pv.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename key file: %w", err)
	}
	return nil
}

// SchemeName implements Signer.
func (pv *FilePV) SchemeName() string {
	return pv.signer.SchemeName()
}

// PublicKey implements Signer.
func (pv *FilePV) PublicKey() []byte {
	return pv.signer.PublicKey()
}

// Sign implements Signer.
func (pv *FilePV) Sign(msg []byte) ([]byte, error) {
	return pv.signer.Sign(msg)
}
