package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kumanofoo/tako/internal/model"
)

// SQLiteStore implements Store on a single SQLite file (pure Go driver).
// This is the default backing store: the whole market survives a process
// restart as one file, matching the classic deployment.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// schema migration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.AutoMigrate(
		&model.Owner{},
		&model.Order{},
		&model.Round{},
		&model.Transaction{},
		&model.Season{},
		&model.SeasonRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

// --- Owners ---

func (s *SQLiteStore) CreateOwner(ctx context.Context, o *model.Owner) error {
	err := s.db.WithContext(ctx).Create(o).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: owner %s", ErrDuplicate, o.ID)
	}
	return err
}

func (s *SQLiteStore) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	var o model.Owner
	if err := s.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "owner %s", id)
	}
	return &o, nil
}

func (s *SQLiteStore) ListOwners(ctx context.Context) ([]model.Owner, error) {
	var owners []model.Owner
	err := s.db.WithContext(ctx).Order("id").Find(&owners).Error
	return owners, err
}

func (s *SQLiteStore) RenameOwner(ctx context.Context, id, name string) error {
	res := s.db.WithContext(ctx).Model(&model.Owner{}).
		Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: owner %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) DeleteOwner(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.Owner{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: owner %s", ErrNotFound, id)
		}
		if err := tx.Delete(&model.Order{}, "owner_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Transaction{}, "owner_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.SeasonRecord{}, "owner_id = ?", id).Error
	})
}

// --- Rounds ---

func (s *SQLiteStore) CreateRound(ctx context.Context, r *model.Round) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Round{}).
		Where("date = ?", r.Date).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: round for %s", ErrDuplicate, r.Date)
	}
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *SQLiteStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	var r model.Round
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "round %s", id)
	}
	return &r, nil
}

func (s *SQLiteStore) GetRoundByDate(ctx context.Context, date string) (*model.Round, error) {
	var r model.Round
	if err := s.db.WithContext(ctx).First(&r, "date = ?", date).Error; err != nil {
		return nil, notFound(err, "round for %s", date)
	}
	return &r, nil
}

func (s *SQLiteStore) RoundInStatus(ctx context.Context, status string) (*model.Round, error) {
	var r model.Round
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("date DESC").
		First(&r).Error
	if err != nil {
		return nil, notFound(err, "no round in status %s", status)
	}
	return &r, nil
}

func (s *SQLiteStore) SetRoundStatus(ctx context.Context, id, from, to string) error {
	res := s.db.WithContext(ctx).Model(&model.Round{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: round %s not in status %s", ErrConflict, id, from)
	}
	return nil
}

func (s *SQLiteStore) CancelRoundsBefore(ctx context.Context, date string) error {
	return s.db.WithContext(ctx).Model(&model.Round{}).
		Where("date < ? AND status IN ?", date,
			[]string{model.RoundScheduled, model.RoundOpen, model.RoundClosed}).
		Updates(map[string]any{
			"status":     model.RoundCanceled,
			"updated_at": time.Now().UTC(),
		}).Error
}

// --- Orders ---

func (s *SQLiteStore) UpsertOrder(ctx context.Context, o *model.Order) error {
	return s.db.WithContext(ctx).Save(o).Error
}

func (s *SQLiteStore) GetOrder(ctx context.Context, ownerID, roundID string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).
		First(&o, "owner_id = ? AND round_id = ?", ownerID, roundID).Error
	if err != nil {
		return nil, notFound(err, "order %s/%s", ownerID, roundID)
	}
	return &o, nil
}

func (s *SQLiteStore) OrdersByRound(ctx context.Context, roundID string) ([]model.Order, error) {
	var orders []model.Order
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).Order("owner_id").Find(&orders).Error
	return orders, err
}

// --- Settlement and history ---

func (s *SQLiteStore) ApplySettlement(ctx context.Context, st *Settlement) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r model.Round
		if err := tx.First(&r, "id = ?", st.RoundID).Error; err != nil {
			return notFound(err, "round %s", st.RoundID)
		}
		switch r.Status {
		case model.RoundSettled:
			return ErrAlreadySettled
		case model.RoundClosed:
			// proceed
		default:
			return fmt.Errorf("%w: round %s is %s, not closed", ErrConflict, st.RoundID, r.Status)
		}

		for i := range st.Entries {
			e := &st.Entries[i]
			if err := tx.Create(e).Error; err != nil {
				return err
			}
			res := tx.Model(&model.Owner{}).Where("id = ?", e.OwnerID).
				Updates(map[string]any{
					"balance":    e.Balance,
					"updated_at": e.Timestamp,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: owner %s", ErrNotFound, e.OwnerID)
			}
		}

		return tx.Model(&model.Round{}).Where("id = ?", st.RoundID).
			Updates(map[string]any{
				"actual_sales": st.ActualSales,
				"weather":      st.Weather,
				"status":       model.RoundSettled,
				"updated_at":   time.Now().UTC(),
			}).Error
	})
}

func (s *SQLiteStore) TransactionsByRound(ctx context.Context, roundID string) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).Order("owner_id").Find(&txs).Error
	return txs, err
}

func (s *SQLiteStore) TransactionsByOwner(ctx context.Context, ownerID string) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).Order("timestamp").Find(&txs).Error
	return txs, err
}

// --- Seasons ---

func (s *SQLiteStore) CreateSeason(ctx context.Context, season *model.Season) error {
	return s.db.WithContext(ctx).Create(season).Error
}

func (s *SQLiteStore) ActiveSeason(ctx context.Context) (*model.Season, error) {
	var season model.Season
	err := s.db.WithContext(ctx).
		Where("ended_at IS NULL OR ended_at = ?", time.Time{}).
		Order("number DESC").
		First(&season).Error
	if err != nil {
		return nil, notFound(err, "no active season")
	}
	return &season, nil
}

func (s *SQLiteStore) ResetSeason(ctx context.Context, r *Reset) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Season{}).
			Where("id = ? AND (ended_at IS NULL OR ended_at = ?)", r.SeasonID, time.Time{}).
			Updates(map[string]any{"ended_at": r.EndedAt, "winner_id": r.WinnerID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: season %s not active", ErrConflict, r.SeasonID)
		}

		for i := range r.Records {
			if err := tx.Create(&r.Records[i]).Error; err != nil {
				return err
			}
		}
		if len(r.BadgeWinners) > 0 {
			if err := tx.Model(&model.Owner{}).
				Where("id IN ?", r.BadgeWinners).
				Update("badges", gorm.Expr("badges + 1")).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&model.Owner{}).Where("1 = 1").
			Updates(map[string]any{
				"balance":    r.SeedMoney,
				"updated_at": r.EndedAt,
			}).Error; err != nil {
			return err
		}
		next := r.Next
		return tx.Create(&next).Error
	})
}

func (s *SQLiteStore) SeasonRecords(ctx context.Context, seasonID string) ([]model.SeasonRecord, error) {
	var records []model.SeasonRecord
	err := s.db.WithContext(ctx).
		Where("season_id = ?", seasonID).Order("rank").Find(&records).Error
	return records, err
}
