// Package mirror keeps the off-ledger copy of presale phases, reward flags
// and the operator action audit. Rows are a cache of confirmed ledger state;
// callers update them only after the ledger write confirmed.
package mirror

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("mirror: not found")

// PresalePhase is the product configuration of one presale phase and the
// last confirmed on-ledger round it was bound to.
type PresalePhase struct {
	Phase uint64 `gorm:"primaryKey;autoIncrement:false"`
	// Price is micro-USD per whole token.
	Price uint64 `gorm:"not null"`
	// DisplayCap is the cap shown to users in micro-USD; the on-ledger cap
	// is DisplayCap times the configured multiplier.
	DisplayCap uint64 `gorm:"not null"`
	MaxPerAddr uint64 `gorm:"not null"`
	Active     bool   `gorm:"index"`
	RoundID    uint64
	LastTxID   string `gorm:"size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Flag is a named switch mirrored from the ledger, e.g. the presale claim
// unlock.
type Flag struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     bool
	TxID      string `gorm:"size:64"`
	UpdatedAt time.Time
}

// RewardFlag mirrors a rewards user's status.
type RewardFlag struct {
	Address   string `gorm:"primaryKey;size:80"`
	Revoked   bool   `gorm:"index"`
	Frozen    bool
	TxID      string `gorm:"size:64"`
	UpdatedAt time.Time
}

// Action is one audited operator action.
type Action struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Operator  string    `gorm:"size:128;index"`
	Action    string    `gorm:"size:64;index"`
	TxID      string    `gorm:"size:64;index"`
	Round     uint64
	Outcome   string `gorm:"size:32"`
	Detail    string `gorm:"size:512"`
	CreatedAt time.Time
}

// Flag names.
const FlagClaimsUnlocked = "presale.claims_unlocked"

// Store wraps the mirror database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn. postgres:// and postgresql:// URLs use Postgres;
// anything else is a SQLite path or URI.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("mirror: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("mirror: open: %w", err)
	}
	return New(db)
}

// New migrates db and wraps it.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&PresalePhase{}, &Flag{}, &RewardFlag{}, &Action{}); err != nil {
		return nil, fmt.Errorf("mirror: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for row timestamps.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePhase creates or replaces the configuration of a phase. The ledger
// binding fields are kept.
func (s *Store) SavePhase(p PresalePhase) error {
	if p.Phase == 0 || p.Price == 0 || p.DisplayCap == 0 || p.MaxPerAddr == 0 {
		return errors.New("mirror: phase, price, cap and max must be positive")
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phase"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "display_cap", "max_per_addr", "updated_at"}),
	}).Create(&p).Error
}

func (s *Store) Phase(n uint64) (PresalePhase, error) {
	var p PresalePhase
	err := s.db.First(&p, "phase = ?", n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p, fmt.Errorf("%w: presale phase %d", ErrNotFound, n)
	}
	return p, err
}

// Phases lists every configured phase in order.
func (s *Store) Phases() ([]PresalePhase, error) {
	var out []PresalePhase
	err := s.db.Order("phase").Find(&out).Error
	return out, err
}

// MarkPhase records a confirmed round change. Activating a phase clears the
// active mark on every other phase.
func (s *Store) MarkPhase(n uint64, active bool, roundID uint64, txid string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if active {
			if err := tx.Model(&PresalePhase{}).Where("phase <> ?", n).Update("active", false).Error; err != nil {
				return err
			}
		}
		res := tx.Model(&PresalePhase{}).Where("phase = ?", n).Updates(map[string]any{
			"active":     active,
			"round_id":   roundID,
			"last_tx_id": txid,
			"updated_at": s.now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: presale phase %d", ErrNotFound, n)
		}
		return nil
	})
}

// DeactivatePhases clears every active mark, as after the claim unlock.
func (s *Store) DeactivatePhases(txid string) error {
	return s.db.Model(&PresalePhase{}).Where("active = ?", true).Updates(map[string]any{
		"active":     false,
		"last_tx_id": txid,
		"updated_at": s.now().UTC(),
	}).Error
}

func (s *Store) SetFlag(name string, value bool, txid string) error {
	f := Flag{Name: name, Value: value, TxID: txid, UpdatedAt: s.now().UTC()}
	return s.db.Save(&f).Error
}

// Flag returns the named flag, false when never set.
func (s *Store) Flag(name string) (bool, error) {
	var f Flag
	err := s.db.First(&f, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return f.Value, err
}

// MarkRevoked records a confirmed reward revocation and, when frozen is
// set, the stablecoin freeze that went with it.
func (s *Store) MarkRevoked(addr string, frozen bool, txid string) error {
	f := RewardFlag{Address: addr, Revoked: true, Frozen: frozen, TxID: txid, UpdatedAt: s.now().UTC()}
	return s.db.Save(&f).Error
}

func (s *Store) RewardFlag(addr string) (RewardFlag, error) {
	var f RewardFlag
	err := s.db.First(&f, "address = ?", addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return f, fmt.Errorf("%w: reward flag %s", ErrNotFound, addr)
	}
	return f, err
}

// RecordAction appends an audit row.
func (s *Store) RecordAction(a Action) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	return s.db.Create(&a).Error
}

// Actions returns the newest audit rows first.
func (s *Store) Actions(limit int) ([]Action, error) {
	var out []Action
	q := s.db.Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
