package common

import (
	"confio/core/ledger"
	"confio/core/types"
	"confio/crypto"
)

// Method returns the method selector carried in the first argument.
func Method(ctx *ledger.Context) string { return string(ctx.Arg(0)) }

// Uint decodes argument i as a big-endian integer.
func Uint(ctx *ledger.Context, op string, i int) (uint64, error) {
	raw := ctx.Arg(i)
	if raw == nil {
		return 0, Fail(op, "missing integer argument %d", i)
	}
	v, err := types.BytesUint64(raw)
	if err != nil {
		return 0, Fail(op, "argument %d: %v", i, err)
	}
	return v, nil
}

// Address decodes argument i as a 32-byte address.
func Address(ctx *ledger.Context, op string, i int) (crypto.Address, error) {
	addr, err := crypto.AddressFromBytes(ctx.Arg(i))
	if err != nil {
		return crypto.ZeroAddress, Fail(op, "argument %d: %v", i, err)
	}
	return addr, nil
}

// Args builds an application argument list: the method name followed by
// encoded values. Supported value types are uint64, string, []byte and
// crypto.Address.
func Args(method string, values ...any) [][]byte {
	out := make([][]byte, 0, len(values)+1)
	out = append(out, []byte(method))
	for _, v := range values {
		switch val := v.(type) {
		case uint64:
			out = append(out, types.Uint64Bytes(val))
		case string:
			out = append(out, []byte(val))
		case []byte:
			out = append(out, append([]byte(nil), val...))
		case crypto.Address:
			out = append(out, val.Bytes())
		default:
			panic("common.Args: unsupported argument type")
		}
	}
	return out
}

// PutUint64 writes v big-endian into b[off:off+8].
func PutUint64(b []byte, off int, v uint64) {
	copy(b[off:off+8], types.Uint64Bytes(v))
}

// GetUint64 reads a big-endian integer from b[off:off+8].
func GetUint64(b []byte, off int) uint64 {
	v, _ := types.BytesUint64(b[off : off+8])
	return v
}
