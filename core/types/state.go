package types

import "confio/crypto"

// StateValueType tags the representation held by a StateValue.
type StateValueType uint8

const (
	StateBytes StateValueType = 1
	StateUint  StateValueType = 2
)

// StateValue is a single global or local state cell.
type StateValue struct {
	Type  StateValueType `json:"type"`
	Bytes []byte         `json:"bytes,omitempty"`
	Uint  uint64         `json:"uint,omitempty"`
}

// UintValue builds an integer cell.
func UintValue(v uint64) StateValue { return StateValue{Type: StateUint, Uint: v} }

// BytesValue builds a byte string cell.
func BytesValue(b []byte) StateValue {
	return StateValue{Type: StateBytes, Bytes: append([]byte(nil), b...)}
}

// AddressValue builds a byte string cell holding an address.
func AddressValue(addr crypto.Address) StateValue { return BytesValue(addr[:]) }

// Clone returns a deep copy.
func (v StateValue) Clone() StateValue {
	out := v
	out.Bytes = append([]byte(nil), v.Bytes...)
	return out
}

// StateMap is a keyed set of state cells as exposed by the node API.
type StateMap map[string]StateValue

// Uint returns the integer stored at key, or zero.
func (m StateMap) Uint(key string) uint64 {
	if v, ok := m[key]; ok && v.Type == StateUint {
		return v.Uint
	}
	return 0
}

// Bytes returns the byte string stored at key, or nil.
func (m StateMap) Bytes(key string) []byte {
	if v, ok := m[key]; ok && v.Type == StateBytes {
		return v.Bytes
	}
	return nil
}

// Address returns the address stored at key, or the zero address.
func (m StateMap) Address(key string) crypto.Address {
	addr, err := crypto.AddressFromBytes(m.Bytes(key))
	if err != nil {
		return crypto.ZeroAddress
	}
	return addr
}
