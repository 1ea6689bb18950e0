package state

import (
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"confio/core/types"
	"confio/crypto"
)

// Persisted records use sorted slices so the RLP encoding is canonical.

type holdingRecord struct {
	Asset  uint64
	Amount uint64
	Frozen bool
}

type kvRecord struct {
	Key   string
	Type  uint8
	Bytes []byte
	Uint  uint64
}

type localRecord struct {
	App    uint64
	Values []kvRecord
}

type accountRecord struct {
	Balance       uint64
	AuthAddr      crypto.Address
	Holdings      []holdingRecord
	Locals        []localRecord
	CreatedApps   []uint64
	CreatedAssets []uint64
	BoxReserve    uint64
}

type assetRecord struct {
	ID      uint64
	Creator crypto.Address
	Params  types.AssetParams
}

type appRecord struct {
	ID      uint64
	Creator crypto.Address
	Program string
	Global  []kvRecord
}

// Meta tracks ledger-wide counters.
type Meta struct {
	NextID    uint64
	Round     uint64
	Timestamp uint64
}

func encodeStateMap(m types.StateMap) []kvRecord {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kvRecord, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		out = append(out, kvRecord{Key: k, Type: uint8(v.Type), Bytes: v.Bytes, Uint: v.Uint})
	}
	return out
}

func decodeStateMap(records []kvRecord) types.StateMap {
	m := make(types.StateMap, len(records))
	for _, r := range records {
		m[r.Key] = types.StateValue{Type: types.StateValueType(r.Type), Bytes: r.Bytes, Uint: r.Uint}
	}
	return m
}

func encodeAccount(a *Account) ([]byte, error) {
	rec := accountRecord{
		Balance:       a.Balance,
		AuthAddr:      a.AuthAddr,
		CreatedApps:   a.CreatedApps,
		CreatedAssets: a.CreatedAssets,
		BoxReserve:    a.BoxReserve,
	}
	for _, id := range sortedKeys(a.Holdings) {
		h := a.Holdings[id]
		rec.Holdings = append(rec.Holdings, holdingRecord{Asset: id, Amount: h.Amount, Frozen: h.Frozen})
	}
	for _, id := range sortedKeys(a.Locals) {
		rec.Locals = append(rec.Locals, localRecord{App: id, Values: encodeStateMap(a.Locals[id])})
	}
	return rlp.EncodeToBytes(&rec)
}

func decodeAccount(raw []byte) (*Account, error) {
	var rec accountRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, err
	}
	acct := newAccount()
	acct.Balance = rec.Balance
	acct.AuthAddr = rec.AuthAddr
	acct.CreatedApps = rec.CreatedApps
	acct.CreatedAssets = rec.CreatedAssets
	acct.BoxReserve = rec.BoxReserve
	for _, h := range rec.Holdings {
		acct.Holdings[h.Asset] = Holding{Amount: h.Amount, Frozen: h.Frozen}
	}
	for _, l := range rec.Locals {
		acct.Locals[l.App] = decodeStateMap(l.Values)
	}
	return acct, nil
}

func encodeApp(a *App) ([]byte, error) {
	return rlp.EncodeToBytes(&appRecord{ID: a.ID, Creator: a.Creator, Program: a.Program, Global: encodeStateMap(a.Global)})
}

func decodeApp(raw []byte) (*App, error) {
	var rec appRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, err
	}
	return &App{ID: rec.ID, Creator: rec.Creator, Program: rec.Program, Global: decodeStateMap(rec.Global)}, nil
}

func encodeAsset(a *Asset) ([]byte, error) {
	return rlp.EncodeToBytes(&assetRecord{ID: a.ID, Creator: a.Creator, Params: a.Params})
}

func decodeAsset(raw []byte) (*Asset, error) {
	var rec assetRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, err
	}
	return &Asset{ID: rec.ID, Creator: rec.Creator, Params: rec.Params}, nil
}
