package state

import (
	"confio/core/types"
	"confio/crypto"
)

var (
	accountPrefix = []byte("acct/")
	assetPrefix   = []byte("asset/")
	appPrefix     = []byte("app/")
	boxPrefix     = []byte("box/")
	metaKey       = []byte("meta/ledger")
)

func accountKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), accountPrefix...), addr[:]...)
}

func assetKey(id uint64) []byte {
	return append(append([]byte(nil), assetPrefix...), types.Uint64Bytes(id)...)
}

func appKey(id uint64) []byte {
	return append(append([]byte(nil), appPrefix...), types.Uint64Bytes(id)...)
}

// boxID is the in-memory key of a sub-record: 8-byte app id followed by the
// raw name.
func boxID(app uint64, name []byte) string {
	return string(types.Uint64Bytes(app)) + string(name)
}

func boxKey(id string) []byte {
	return append(append([]byte(nil), boxPrefix...), id...)
}

func splitBoxID(id string) (uint64, []byte) {
	app, _ := types.BytesUint64([]byte(id[:8]))
	return app, []byte(id[8:])
}
