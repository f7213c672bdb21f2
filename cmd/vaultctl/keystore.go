package main

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"

	"github.com/fortiblox/stratus-vault/internal/types"
)

var keyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// keystore keeps named keypairs as <dir>/<name>.json files holding the 64
// byte ed25519 private key as a JSON array of numbers.
type keystore struct {
	dir string
}

func (k *keystore) path(name string) string {
	return filepath.Join(k.dir, name+".json")
}

func (k *keystore) create(name string, overwrite bool) (ed25519.PrivateKey, error) {
	if !keyNamePattern.MatchString(name) {
		return nil, errors.Errorf("invalid key name %q", name)
	}
	if _, err := os.Stat(k.path(name)); err == nil && !overwrite {
		return nil, errors.Errorf("key %q already exists", name)
	}
	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "failed to create keys dir")
	}
	if err := os.WriteFile(k.path(name), data, 0o600); err != nil {
		return nil, errors.Wrapf(err, "failed to write key %q", name)
	}
	return key, nil
}

func (k *keystore) load(name string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(k.path(name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read key %q", name)
	}
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse key %q", name)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("key %q has %d bytes, want %d", name, len(raw), ed25519.PrivateKeySize)
	}
	key := make(ed25519.PrivateKey, len(raw))
	for i, v := range raw {
		if v < 0 || v > 255 {
			return nil, errors.Errorf("key %q is corrupt", name)
		}
		key[i] = byte(v)
	}
	return key, nil
}

// resolve returns the public key of a named keypair, or parses arg as a
// base58 address.
func (k *keystore) resolve(arg string) (types.Pubkey, error) {
	if keyNamePattern.MatchString(arg) {
		if key, err := k.load(arg); err == nil {
			return types.PubkeyFromPublicKey(key.Public().(ed25519.PublicKey)), nil
		}
	}
	pk, err := types.PubkeyFromBase58(arg)
	if err != nil {
		return types.Pubkey{}, errors.Errorf("%q is neither a key name nor an address", arg)
	}
	return pk, nil
}
