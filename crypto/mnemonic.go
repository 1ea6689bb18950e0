package crypto

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// NewMnemonic generates a fresh key together with its 24 word recovery phrase.
func NewMnemonic() (*PrivateKey, string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, "", err
	}
	defer wipe(entropy)
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}
	key, err := PrivateKeyFromSeed(entropy)
	if err != nil {
		return nil, "", err
	}
	return key, phrase, nil
}

// PrivateKeyFromMnemonic recovers the key encoded by a recovery phrase. The
// phrase entropy is used directly as the ed25519 seed.
func PrivateKeyFromMnemonic(phrase string) (*PrivateKey, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
	if !bip39.IsMnemonicValid(normalized) {
		return nil, fmt.Errorf("crypto: invalid recovery phrase")
	}
	entropy, err := bip39.EntropyFromMnemonic(normalized)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode recovery phrase: %w", err)
	}
	defer wipe(entropy)
	if len(entropy) != 32 {
		return nil, fmt.Errorf("crypto: recovery phrase must encode 256 bits")
	}
	return PrivateKeyFromSeed(entropy)
}

// MnemonicFromKey renders the recovery phrase for an existing key.
func MnemonicFromKey(key *PrivateKey) (string, error) {
	seed := key.Seed()
	if seed == nil {
		return "", fmt.Errorf("crypto: private key wiped or missing")
	}
	defer wipe(seed)
	return bip39.NewMnemonic(seed)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
