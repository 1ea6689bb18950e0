package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"confio/crypto"
	"confio/storage"
)

// FirstID is the first identifier handed out to assets and applications.
const FirstID uint64 = 1001

// Store holds committed ledger state in memory and writes every commit
// through to the backing database. Store is not safe for concurrent use; the
// ledger serialises access.
type Store struct {
	db       storage.Database
	accounts map[crypto.Address]*Account
	assets   map[uint64]*Asset
	apps     map[uint64]*App
	boxes    map[string][]byte
	meta     Meta
}

// Open loads state from db. A nil db keeps state in memory only.
func Open(db storage.Database) (*Store, error) {
	s := &Store{
		db:       db,
		accounts: make(map[crypto.Address]*Account),
		assets:   make(map[uint64]*Asset),
		apps:     make(map[uint64]*App),
		boxes:    make(map[string][]byte),
		meta:     Meta{NextID: FirstID},
	}
	if db == nil {
		return s, nil
	}
	raw, err := db.Get(metaKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("state: load meta: %w", err)
	default:
		if err := rlp.DecodeBytes(raw, &s.meta); err != nil {
			return nil, fmt.Errorf("state: decode meta: %w", err)
		}
	}
	if err := db.Iterate(accountPrefix, func(key, value []byte) error {
		addr, err := crypto.AddressFromBytes(bytes.TrimPrefix(key, accountPrefix))
		if err != nil {
			return err
		}
		acct, err := decodeAccount(value)
		if err != nil {
			return fmt.Errorf("account %s: %w", addr, err)
		}
		s.accounts[addr] = acct
		return nil
	}); err != nil {
		return nil, fmt.Errorf("state: load accounts: %w", err)
	}
	if err := db.Iterate(assetPrefix, func(_, value []byte) error {
		asset, err := decodeAsset(value)
		if err != nil {
			return err
		}
		s.assets[asset.ID] = asset
		return nil
	}); err != nil {
		return nil, fmt.Errorf("state: load assets: %w", err)
	}
	if err := db.Iterate(appPrefix, func(_, value []byte) error {
		app, err := decodeApp(value)
		if err != nil {
			return err
		}
		s.apps[app.ID] = app
		return nil
	}); err != nil {
		return nil, fmt.Errorf("state: load apps: %w", err)
	}
	if err := db.Iterate(boxPrefix, func(key, value []byte) error {
		id := string(bytes.TrimPrefix(key, boxPrefix))
		if len(id) < 8 {
			return fmt.Errorf("malformed box key %x", key)
		}
		s.boxes[id] = append([]byte(nil), value...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("state: load boxes: %w", err)
	}
	return s, nil
}

// Meta returns the ledger counters.
func (s *Store) Meta() Meta { return s.meta }

// Account returns the committed account or nil. Callers must not mutate it.
func (s *Store) Account(addr crypto.Address) *Account { return s.accounts[addr] }

// Asset returns the committed asset or nil.
func (s *Store) Asset(id uint64) *Asset { return s.assets[id] }

// App returns the committed application or nil.
func (s *Store) App(id uint64) *App { return s.apps[id] }

// Box returns a copy of the named sub-record.
func (s *Store) Box(app uint64, name []byte) ([]byte, bool) {
	v, ok := s.boxes[boxID(app, name)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// BoxNames lists the sub-record names of an application in byte order.
func (s *Store) BoxNames(app uint64) [][]byte {
	var names [][]byte
	for id := range s.boxes {
		owner, name := splitBoxID(id)
		if owner == app {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return bytes.Compare(names[i], names[j]) < 0 })
	return names
}

// AdvanceRound records a new round and its timestamp.
func (s *Store) AdvanceRound(timestamp uint64) error {
	s.meta.Round++
	s.meta.Timestamp = timestamp
	return s.writeMeta()
}

func (s *Store) writeMeta() error {
	if s.db == nil {
		return nil
	}
	raw, err := rlp.EncodeToBytes(&s.meta)
	if err != nil {
		return err
	}
	return s.db.Put(metaKey, raw)
}

// NewOverlay starts a copy-on-write view over the committed state.
func (s *Store) NewOverlay() *Overlay {
	return &Overlay{
		parent:   s,
		accounts: make(map[crypto.Address]*Account),
		assets:   make(map[uint64]*Asset),
		apps:     make(map[uint64]*App),
		boxes:    make(map[string]boxEntry),
		nextID:   s.meta.NextID,
	}
}
