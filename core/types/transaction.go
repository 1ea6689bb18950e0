package types

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"confio/crypto"
)

// TxType defines the purpose of a transaction.
type TxType string

const (
	PaymentTx         TxType = "pay"   // native balance transfer
	AssetTransferTx   TxType = "axfer" // asset transfer, opt-in, clawback
	AssetFreezeTx     TxType = "afrz"  // toggle an account's frozen flag
	AssetConfigTx     TxType = "acfg"  // create or reconfigure an asset
	ApplicationCallTx TxType = "appl"  // call (or create) an application
)

// OnCompletion selects the lifecycle action attached to an application call.
type OnCompletion uint8

const (
	NoOp OnCompletion = iota
	OptIn
	CloseOut
	ClearState
	UpdateApplication
	DeleteApplication
)

func (oc OnCompletion) String() string {
	switch oc {
	case NoOp:
		return "noop"
	case OptIn:
		return "optin"
	case CloseOut:
		return "closeout"
	case ClearState:
		return "clear"
	case UpdateApplication:
		return "update"
	case DeleteApplication:
		return "delete"
	default:
		return fmt.Sprintf("oc(%d)", uint8(oc))
	}
}

// AssetParams describes an asset. The four authority addresses are cleared by
// reconfiguring them to the zero address; a zero manager makes the asset
// immutable.
type AssetParams struct {
	Total         uint64         `json:"total"`
	Decimals      uint32         `json:"decimals"`
	DefaultFrozen bool           `json:"default-frozen,omitempty"`
	UnitName      string         `json:"unit-name,omitempty"`
	AssetName     string         `json:"name,omitempty"`
	Manager       crypto.Address `json:"manager"`
	Reserve       crypto.Address `json:"reserve"`
	Freeze        crypto.Address `json:"freeze"`
	Clawback      crypto.Address `json:"clawback"`
}

// BoxRef names a sub-record an application call intends to touch. App zero
// refers to the called application.
type BoxRef struct {
	App  uint64 `json:"app,omitempty"`
	Name []byte `json:"name"`
}

// Transaction is the unsigned body shared by every transaction type. Fields
// that do not apply to Type stay at their zero value.
type Transaction struct {
	Type       TxType         `json:"type"`
	Sender     crypto.Address `json:"sender"`
	Fee        uint64         `json:"fee"`
	FirstValid uint64         `json:"first-valid"`
	LastValid  uint64         `json:"last-valid"`
	GenesisID  string         `json:"genesis-id,omitempty"`
	Note       []byte         `json:"note,omitempty"`
	Group      [32]byte       `json:"group"`
	RekeyTo    crypto.Address `json:"rekey-to"`

	// payment
	Receiver         crypto.Address `json:"receiver"`
	Amount           uint64         `json:"amount,omitempty"`
	CloseRemainderTo crypto.Address `json:"close-remainder-to"`

	// asset transfer
	XferAsset     uint64         `json:"xfer-asset,omitempty"`
	AssetAmount   uint64         `json:"asset-amount,omitempty"`
	AssetSender   crypto.Address `json:"asset-sender"`
	AssetReceiver crypto.Address `json:"asset-receiver"`
	AssetCloseTo  crypto.Address `json:"asset-close-to"`

	// asset freeze
	FreezeAsset   uint64         `json:"freeze-asset,omitempty"`
	FreezeAccount crypto.Address `json:"freeze-account"`
	AssetFrozen   bool           `json:"asset-frozen,omitempty"`

	// asset config
	ConfigAsset uint64      `json:"config-asset,omitempty"`
	AssetParams AssetParams `json:"asset-params"`

	// application call
	ApplicationID   uint64           `json:"application-id,omitempty"`
	OnCompletion    OnCompletion     `json:"on-completion,omitempty"`
	Program         string           `json:"program,omitempty"`
	ApplicationArgs [][]byte         `json:"application-args,omitempty"`
	Accounts        []crypto.Address `json:"accounts,omitempty"`
	ForeignAssets   []uint64         `json:"foreign-assets,omitempty"`
	ForeignApps     []uint64         `json:"foreign-apps,omitempty"`
	Boxes           []BoxRef         `json:"boxes,omitempty"`
}

// TxID identifies a transaction.
type TxID [32]byte

var txidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func (id TxID) String() string { return txidEncoding.EncodeToString(id[:]) }

// IsZero reports whether the id is unset.
func (id TxID) IsZero() bool { return id == TxID{} }

// MarshalText renders the id in its base32 text form.
func (id TxID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText parses the base32 text form.
func (id *TxID) UnmarshalText(text []byte) error {
	parsed, err := ParseTxID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseTxID decodes the base32 text form of a transaction id.
func ParseTxID(text string) (TxID, error) {
	var id TxID
	raw, err := txidEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(text)))
	if err != nil {
		return id, fmt.Errorf("invalid transaction id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid transaction id length %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

var (
	txDomain    = []byte("TX")
	groupDomain = []byte("TG")
	appDomain   = []byte("appID")
)

// Encode returns the canonical RLP encoding of the transaction body.
func (tx *Transaction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// SignBytes returns the domain separated bytes covered by a signature.
func (tx *Transaction) SignBytes() ([]byte, error) {
	enc, err := tx.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(txDomain)+len(enc))
	out = append(out, txDomain...)
	return append(out, enc...), nil
}

// ID computes the transaction id.
func (tx *Transaction) ID() (TxID, error) {
	msg, err := tx.SignBytes()
	if err != nil {
		return TxID{}, err
	}
	return TxID(blake3.Sum256(msg)), nil
}

// MustID is ID for transactions known to encode.
func (tx *Transaction) MustID() TxID {
	id, err := tx.ID()
	if err != nil {
		panic(err)
	}
	return id
}

// Clone returns a deep copy.
func (tx *Transaction) Clone() *Transaction {
	if tx == nil {
		return nil
	}
	out := *tx
	out.Note = append([]byte(nil), tx.Note...)
	if tx.ApplicationArgs != nil {
		out.ApplicationArgs = make([][]byte, len(tx.ApplicationArgs))
		for i, arg := range tx.ApplicationArgs {
			out.ApplicationArgs[i] = append([]byte(nil), arg...)
		}
	}
	out.Accounts = append([]crypto.Address(nil), tx.Accounts...)
	out.ForeignAssets = append([]uint64(nil), tx.ForeignAssets...)
	out.ForeignApps = append([]uint64(nil), tx.ForeignApps...)
	if tx.Boxes != nil {
		out.Boxes = make([]BoxRef, len(tx.Boxes))
		for i, ref := range tx.Boxes {
			out.Boxes[i] = BoxRef{App: ref.App, Name: append([]byte(nil), ref.Name...)}
		}
	}
	return &out
}

// ApplicationAddress derives the escrow address controlled by an application.
func ApplicationAddress(appID uint64) crypto.Address {
	buf := make([]byte, 0, len(appDomain)+8)
	buf = append(buf, appDomain...)
	buf = append(buf, Uint64Bytes(appID)...)
	return crypto.Address(blake3.Sum256(buf))
}

// SignedTxn carries a transaction with its signature. AuthAddr is set when the
// sender has been rekeyed to another key.
type SignedTxn struct {
	Txn      Transaction    `json:"txn"`
	Sig      []byte         `json:"sig,omitempty"`
	AuthAddr crypto.Address `json:"sgnr"`
}

// Encode returns the canonical RLP encoding of the signed transaction.
func (s *SignedTxn) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(s)
}

// DecodeSignedTxn parses a signed transaction produced by Encode.
func DecodeSignedTxn(raw []byte) (*SignedTxn, error) {
	var stx SignedTxn
	if err := rlp.DecodeBytes(raw, &stx); err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return &stx, nil
}

// Signer produces signatures for a single ledger address.
type Signer interface {
	Address() crypto.Address
	SignBytes(msg []byte) ([]byte, error)
}

// ErrSignerMismatch is returned when a signer is asked to sign for an address
// it does not control.
var ErrSignerMismatch = errors.New("signer does not control the transaction sender")

// SignTransaction signs tx with key, which must control the sender (or the
// sender's auth address, which the caller then passes as authAddr).
func SignTransaction(tx *Transaction, key *crypto.PrivateKey, authAddr crypto.Address) (*SignedTxn, error) {
	if key == nil {
		return nil, fmt.Errorf("sign: key required")
	}
	expected := tx.Sender
	if !authAddr.IsZero() {
		expected = authAddr
	}
	if key.Address() != expected {
		return nil, ErrSignerMismatch
	}
	msg, err := tx.SignBytes()
	if err != nil {
		return nil, err
	}
	sig, err := key.Sign(msg)
	if err != nil {
		return nil, err
	}
	stx := &SignedTxn{Txn: *tx.Clone(), Sig: sig}
	if !authAddr.IsZero() && authAddr != tx.Sender {
		stx.AuthAddr = authAddr
	}
	return stx, nil
}

// Uint64Bytes encodes v as 8 big-endian bytes.
func Uint64Bytes(v uint64) []byte {
	return []byte{byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// BytesUint64 decodes up to 8 big-endian bytes.
func BytesUint64(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("integer argument longer than 8 bytes")
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}
