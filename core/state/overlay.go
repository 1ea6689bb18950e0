package state

import (
	"fmt"
	"sort"

	"confio/crypto"
	"confio/storage"
)

type boxEntry struct {
	value   []byte
	deleted bool
}

// Overlay buffers the writes of one atomic group. Commit publishes them to the
// parent store; dropping the overlay discards them.
type Overlay struct {
	parent   *Store
	accounts map[crypto.Address]*Account
	assets   map[uint64]*Asset
	apps     map[uint64]*App
	boxes    map[string]boxEntry
	nextID   uint64
}

// Account returns a mutable copy of the account, creating an empty record
// for unknown addresses.
func (o *Overlay) Account(addr crypto.Address) *Account {
	if acct, ok := o.accounts[addr]; ok {
		return acct
	}
	acct := o.parent.accounts[addr].Clone()
	o.accounts[addr] = acct
	return acct
}

// Touched lists the addresses read or written through the overlay.
func (o *Overlay) Touched() []crypto.Address {
	out := make([]crypto.Address, 0, len(o.accounts))
	for addr := range o.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}

// Asset returns a mutable copy of the asset or nil when it does not exist.
func (o *Overlay) Asset(id uint64) *Asset {
	if asset, ok := o.assets[id]; ok {
		return asset
	}
	asset := o.parent.assets[id].Clone()
	if asset == nil {
		return nil
	}
	o.assets[id] = asset
	return asset
}

// DeleteAsset removes an asset.
func (o *Overlay) DeleteAsset(id uint64) { o.assets[id] = nil }

// App returns a mutable copy of the application or nil.
func (o *Overlay) App(id uint64) *App {
	if app, ok := o.apps[id]; ok {
		return app
	}
	app := o.parent.apps[id].Clone()
	if app == nil {
		return nil
	}
	o.apps[id] = app
	return app
}

// DeleteApp removes an application's record and global state.
func (o *Overlay) DeleteApp(id uint64) { o.apps[id] = nil }

// AllocateID hands out the next asset or application identifier.
func (o *Overlay) AllocateID() uint64 {
	id := o.nextID
	o.nextID++
	return id
}

// CreateAsset registers a new asset.
func (o *Overlay) CreateAsset(asset *Asset) { o.assets[asset.ID] = asset }

// CreateApp registers a new application.
func (o *Overlay) CreateApp(app *App) { o.apps[app.ID] = app }

// Box returns the current value of a sub-record.
func (o *Overlay) Box(app uint64, name []byte) ([]byte, bool) {
	if entry, ok := o.boxes[boxID(app, name)]; ok {
		if entry.deleted {
			return nil, false
		}
		return append([]byte(nil), entry.value...), true
	}
	return o.parent.Box(app, name)
}

// PutBox writes a sub-record.
func (o *Overlay) PutBox(app uint64, name, value []byte) {
	o.boxes[boxID(app, name)] = boxEntry{value: append([]byte(nil), value...)}
}

// DeleteBox removes a sub-record.
func (o *Overlay) DeleteBox(app uint64, name []byte) {
	o.boxes[boxID(app, name)] = boxEntry{deleted: true}
}

// Commit publishes the overlay to the parent store and persists it.
func (o *Overlay) Commit() error {
	s := o.parent
	type write struct {
		key   []byte
		value []byte
	}
	var puts []write
	var dels [][]byte

	for addr, acct := range o.accounts {
		if acct.Empty() {
			if _, ok := s.accounts[addr]; ok {
				dels = append(dels, accountKey(addr))
			}
			continue
		}
		raw, err := encodeAccount(acct)
		if err != nil {
			return fmt.Errorf("state: encode account %s: %w", addr, err)
		}
		puts = append(puts, write{accountKey(addr), raw})
	}
	for id, asset := range o.assets {
		if asset == nil {
			dels = append(dels, assetKey(id))
			continue
		}
		raw, err := encodeAsset(asset)
		if err != nil {
			return fmt.Errorf("state: encode asset %d: %w", id, err)
		}
		puts = append(puts, write{assetKey(id), raw})
	}
	for id, app := range o.apps {
		if app == nil {
			dels = append(dels, appKey(id))
			continue
		}
		raw, err := encodeApp(app)
		if err != nil {
			return fmt.Errorf("state: encode app %d: %w", id, err)
		}
		puts = append(puts, write{appKey(id), raw})
	}
	for id, entry := range o.boxes {
		if entry.deleted {
			dels = append(dels, boxKey(id))
			continue
		}
		puts = append(puts, write{boxKey(id), entry.value})
	}

	if batcher, ok := s.db.(storage.Batcher); ok {
		if err := batcher.Write(func(b storage.Batch) {
			for _, w := range puts {
				b.Put(w.key, w.value)
			}
			for _, key := range dels {
				b.Delete(key)
			}
		}); err != nil {
			return fmt.Errorf("state: persist: %w", err)
		}
	} else if s.db != nil {
		for _, w := range puts {
			if err := s.db.Put(w.key, w.value); err != nil {
				return fmt.Errorf("state: persist: %w", err)
			}
		}
		for _, key := range dels {
			if err := s.db.Delete(key); err != nil {
				return fmt.Errorf("state: persist: %w", err)
			}
		}
	}

	for addr, acct := range o.accounts {
		if acct.Empty() {
			delete(s.accounts, addr)
			continue
		}
		s.accounts[addr] = acct
	}
	for id, asset := range o.assets {
		if asset == nil {
			delete(s.assets, id)
			continue
		}
		s.assets[id] = asset
	}
	for id, app := range o.apps {
		if app == nil {
			delete(s.apps, id)
			continue
		}
		s.apps[id] = app
	}
	for id, entry := range o.boxes {
		if entry.deleted {
			delete(s.boxes, id)
			continue
		}
		s.boxes[id] = entry.value
	}
	if o.nextID != s.meta.NextID {
		s.meta.NextID = o.nextID
		if err := s.writeMeta(); err != nil {
			return fmt.Errorf("state: persist meta: %w", err)
		}
	}
	o.accounts = map[crypto.Address]*Account{}
	o.assets = map[uint64]*Asset{}
	o.apps = map[uint64]*App{}
	o.boxes = map[string]boxEntry{}
	return nil
}
