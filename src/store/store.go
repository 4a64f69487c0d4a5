package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"trade-core/src/engine"
	"trade-core/src/pnl"
	"trade-core/src/position"
	"trade-core/src/snapshot"
)

// Amounts are stored as decimal strings so the database never rounds them.

type PositionRow struct {
	AccountID   string `gorm:"primaryKey"`
	Symbol      string `gorm:"primaryKey"`
	NetQuantity int64
	AverageCost string
	UpdatedAt   time.Time
}

func (PositionRow) TableName() string { return "positions" }

type PnLRow struct {
	AccountID     string `gorm:"primaryKey"`
	Symbol        string `gorm:"primaryKey"`
	RealizedPnL   string
	UnrealizedPnL string
	LastMarkPrice string
	HasMark       bool
	UpdatedAt     time.Time
}

func (PnLRow) TableName() string { return "pnl" }

type FillRow struct {
	FillID         string `gorm:"primaryKey"`
	Symbol         string `gorm:"index:idx_fills_symbol_seq,priority:1"`
	Sequence       uint64 `gorm:"index:idx_fills_symbol_seq,priority:2"`
	MakerOrderID   string
	TakerOrderID   string
	MakerAccountID string `gorm:"index"`
	TakerAccountID string `gorm:"index"`
	TakerSide      string
	Price          string
	Quantity       int64
	ExecutedAt     int64
}

func (FillRow) TableName() string { return "fills" }

// Store keeps the latest position and PnL per account and symbol, and every
// fill, in SQL.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db %s: %w", path, err)
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&PositionRow{}, &PnLRow{}, &FillRow{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Name() string { return "sqlite" }

// Persist writes one batch in a single transaction.
func (s *Store) Persist(ctx context.Context, batch snapshot.Batch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(batch.Fills) > 0 {
			rows := make([]FillRow, 0, len(batch.Fills))
			for _, f := range batch.Fills {
				rows = append(rows, fillRow(f))
			}
			// edge case: a redelivered batch must not fail on existing fills
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
				return fmt.Errorf("insert fills: %w", err)
			}
		}

		for _, p := range batch.Positions {
			row := PositionRow{
				AccountID:   p.AccountID,
				Symbol:      p.Symbol,
				NetQuantity: p.NetQuantity,
				AverageCost: p.AverageCost.String(),
				UpdatedAt:   p.UpdatedAt,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("upsert position %s/%s: %w", p.AccountID, p.Symbol, err)
			}
		}

		for _, r := range batch.PnL {
			row := PnLRow{
				AccountID:     r.AccountID,
				Symbol:        r.Symbol,
				RealizedPnL:   r.RealizedPnL.String(),
				UnrealizedPnL: r.UnrealizedPnL.String(),
				LastMarkPrice: r.LastMarkPrice.String(),
				HasMark:       r.HasMark,
				UpdatedAt:     r.UpdatedAt,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("upsert pnl %s/%s: %w", r.AccountID, r.Symbol, err)
			}
		}
		return nil
	})
}

func fillRow(f engine.Fill) FillRow {
	return FillRow{
		FillID:         f.ID,
		Symbol:         f.Symbol,
		Sequence:       f.Sequence,
		MakerOrderID:   f.MakerOrderID,
		TakerOrderID:   f.TakerOrderID,
		MakerAccountID: f.MakerAccountID,
		TakerAccountID: f.TakerAccountID,
		TakerSide:      f.TakerSide.String(),
		Price:          f.Price.String(),
		Quantity:       f.Quantity,
		ExecutedAt:     f.Timestamp,
	}
}

// GetPosition returns the stored position, or ok=false if none was written.
func (s *Store) GetPosition(ctx context.Context, accountID, symbol string) (position.Position, bool, error) {
	var row PositionRow
	err := s.db.WithContext(ctx).Where("account_id = ? AND symbol = ?", accountID, symbol).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return position.Position{}, false, nil
		}
		return position.Position{}, false, err
	}
	cost, err := decimal.NewFromString(row.AverageCost)
	if err != nil {
		return position.Position{}, false, fmt.Errorf("position %s/%s cost: %w", accountID, symbol, err)
	}
	return position.Position{
		AccountID:   row.AccountID,
		Symbol:      row.Symbol,
		NetQuantity: row.NetQuantity,
		AverageCost: cost,
		UpdatedAt:   row.UpdatedAt,
	}, true, nil
}

func (s *Store) GetPnL(ctx context.Context, accountID, symbol string) (pnl.Record, bool, error) {
	var row PnLRow
	err := s.db.WithContext(ctx).Where("account_id = ? AND symbol = ?", accountID, symbol).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pnl.Record{}, false, nil
		}
		return pnl.Record{}, false, err
	}

	rec := pnl.Record{AccountID: row.AccountID, Symbol: row.Symbol, HasMark: row.HasMark, UpdatedAt: row.UpdatedAt}
	for _, field := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{row.RealizedPnL, &rec.RealizedPnL},
		{row.UnrealizedPnL, &rec.UnrealizedPnL},
		{row.LastMarkPrice, &rec.LastMarkPrice},
	} {
		v, err := decimal.NewFromString(field.raw)
		if err != nil {
			return pnl.Record{}, false, fmt.Errorf("pnl %s/%s: %w", accountID, symbol, err)
		}
		*field.dst = v
	}
	return rec, true, nil
}

// CountFills returns the number of stored fills for symbol.
func (s *Store) CountFills(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&FillRow{}).Where("symbol = ?", symbol).Count(&n).Error
	return n, err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
