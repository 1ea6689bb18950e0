package types

import (
	"fmt"

	"lukechampine.com/blake3"
)

// MaxGroupSize bounds the number of outer transactions in an atomic group.
const MaxGroupSize = 16

// ComputeGroupID derives the group identifier for txns. The Group field of each
// transaction is ignored.
func ComputeGroupID(txns []*Transaction) ([32]byte, error) {
	var gid [32]byte
	if len(txns) == 0 {
		return gid, fmt.Errorf("group: empty group")
	}
	if len(txns) > MaxGroupSize {
		return gid, fmt.Errorf("group: %d transactions exceeds limit %d", len(txns), MaxGroupSize)
	}
	buf := make([]byte, 0, len(groupDomain)+32*len(txns))
	buf = append(buf, groupDomain...)
	for i, tx := range txns {
		if tx == nil {
			return gid, fmt.Errorf("group: transaction %d is nil", i)
		}
		clone := tx.Clone()
		clone.Group = [32]byte{}
		id, err := clone.ID()
		if err != nil {
			return gid, err
		}
		buf = append(buf, id[:]...)
	}
	return blake3.Sum256(buf), nil
}

// AssignGroupID computes the group id and stamps it on every transaction.
// Single transactions are left ungrouped.
func AssignGroupID(txns []*Transaction) ([32]byte, error) {
	gid, err := ComputeGroupID(txns)
	if err != nil {
		return gid, err
	}
	if len(txns) == 1 {
		txns[0].Group = [32]byte{}
		return [32]byte{}, nil
	}
	for _, tx := range txns {
		tx.Group = gid
	}
	return gid, nil
}

// EncodeGroup encodes each signed transaction for transport.
func EncodeGroup(group []SignedTxn) ([][]byte, error) {
	out := make([][]byte, len(group))
	for i := range group {
		raw, err := group[i].Encode()
		if err != nil {
			return nil, fmt.Errorf("encode transaction %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// DecodeGroup reverses EncodeGroup.
func DecodeGroup(raw [][]byte) ([]SignedTxn, error) {
	out := make([]SignedTxn, len(raw))
	for i, r := range raw {
		stx, err := DecodeSignedTxn(r)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out[i] = *stx
	}
	return out, nil
}
