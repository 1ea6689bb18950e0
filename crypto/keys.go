package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix defines the human-readable prefix used for ledger addresses.
const AddressPrefix = "cf"

// AddressLength is the byte length of a ledger address (an ed25519 public key).
const AddressLength = ed25519.PublicKeySize

// Address is a 32-byte ledger address. Application addresses share the same
// shape but have no corresponding private key.
type Address [AddressLength]byte

// ZeroAddress is the all-zero address used to express "no authority".
var ZeroAddress Address

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler so addresses render as bech32
// strings inside JSON payloads.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	if len(bytes.TrimSpace(text)) == 0 {
		*a = ZeroAddress
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// AddressFromBytes copies b into an Address. The slice must be exactly 32
// bytes long.
func AddressFromBytes(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// DecodeAddress parses the bech32 text form of an address. A 64 character hex
// string is accepted as well for tooling convenience.
func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if len(trimmed) == 2*AddressLength {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			return AddressFromBytes(raw)
		}
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return AddressFromBytes(conv)
}

// MustDecodeAddress is DecodeAddress for constants in tests and tooling.
func MustDecodeAddress(addrStr string) Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}

// --- Key Management ---

// PrivateKey wraps an ed25519 private key. Callers holding one are expected to
// call Wipe once the key is no longer required.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// GeneratePrivateKey creates a fresh random key.
func GeneratePrivateKey() (*PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromSeed derives the key for a 32-byte seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes", ed25519.SeedSize)
	}
	return &PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns a copy of the 32-byte seed of the key.
func (k *PrivateKey) Seed() []byte {
	if k == nil || len(k.key) == 0 {
		return nil
	}
	return append([]byte(nil), k.key.Seed()...)
}

// Address returns the ledger address controlled by the key.
func (k *PrivateKey) Address() Address {
	var addr Address
	if k == nil || len(k.key) == 0 {
		return addr
	}
	copy(addr[:], k.key.Public().(ed25519.PublicKey))
	return addr
}

// Sign signs msg with the key.
func (k *PrivateKey) Sign(msg []byte) ([]byte, error) {
	if k == nil || len(k.key) == 0 {
		return nil, fmt.Errorf("crypto: private key wiped or missing")
	}
	return ed25519.Sign(k.key, msg), nil
}

// Wipe overwrites the key material in place.
func (k *PrivateKey) Wipe() {
	if k == nil {
		return
	}
	for i := range k.key {
		k.key[i] = 0
	}
	k.key = nil
}

// Verify checks an ed25519 signature produced by the key behind addr.
func Verify(addr Address, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(addr[:]), msg, sig)
}
