package txc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketActions = []byte("actions")
	bucketTxIDs   = []byte("txids")

	// ErrEntryNotFound is returned when the journal has no matching entry.
	ErrEntryNotFound = errors.New("journal entry not found")
)

// State is the lifecycle of a journalled submission.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateRejected  State = "rejected"
	StateTimeout   State = "timeout"
	StateUnknown   State = "unknown"
)

// Entry is one submitted group.
type Entry struct {
	ActionID  string    `json:"actionId"`
	Operation string    `json:"operation"`
	Actor     string    `json:"actor,omitempty"`
	GroupID   string    `json:"groupId,omitempty"`
	TxIDs     []string  `json:"txids"`
	State     State     `json:"state"`
	Round     uint64    `json:"round,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Journal persists submissions so a timed out group can be reconciled
// later.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens (and creates) the journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketActions, bucketTxIDs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record stores a new entry and indexes its transaction ids.
func (j *Journal) Record(e Entry) error {
	if e.ActionID == "" {
		return errors.New("journal: action id required")
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		actions := tx.Bucket(bucketActions)
		if actions.Get([]byte(e.ActionID)) != nil {
			return fmt.Errorf("journal: action %s already recorded", e.ActionID)
		}
		encoded, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := actions.Put([]byte(e.ActionID), encoded); err != nil {
			return err
		}
		index := tx.Bucket(bucketTxIDs)
		for _, id := range e.TxIDs {
			if err := index.Put([]byte(id), []byte(e.ActionID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Mutate applies fn to the entry for actionID and stores the result.
func (j *Journal) Mutate(actionID string, fn func(*Entry) error) (Entry, error) {
	var result Entry
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketActions)
		raw := bucket.Get([]byte(actionID))
		if raw == nil {
			return ErrEntryNotFound
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		if err := fn(&e); err != nil {
			return err
		}
		encoded, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(actionID), encoded); err != nil {
			return err
		}
		result = e
		return nil
	})
	return result, err
}

func (j *Journal) Get(actionID string) (Entry, error) {
	var e Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketActions).Get([]byte(actionID))
		if raw == nil {
			return ErrEntryNotFound
		}
		return json.Unmarshal(raw, &e)
	})
	return e, err
}

// ByTxID finds the entry containing txid.
func (j *Journal) ByTxID(txid string) (Entry, error) {
	var actionID string
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTxIDs).Get([]byte(txid))
		if raw == nil {
			return ErrEntryNotFound
		}
		actionID = string(raw)
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return j.Get(actionID)
}

// List returns entries in creation order, filtered by state unless state
// is empty.
func (j *Journal) List(state State) ([]Entry, error) {
	var out []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(_, raw []byte) error {
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			if state == "" || e.State == state {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}
