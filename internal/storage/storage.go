package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ladder-bot-go/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// OrderEvent is one row of the order ledger, appended on every order transition.
type OrderEvent struct {
	ID          uint   `gorm:"primaryKey"`
	StrategyID  string `gorm:"index;not null"`
	OrderID     string `gorm:"index;not null"`
	Event       string `gorm:"not null"`
	Kind        string
	Side        string
	LadderIndex int
	Price       string // decimal 以字符串保存, 避免精度损失
	Quantity    string
	Cost        string
	Status      string
	ParentID    string
	RecordedAt  time.Time `gorm:"index"`
}

// OrderRecord is the latest known state of an order.
type OrderRecord struct {
	OrderID     string `gorm:"primaryKey"`
	StrategyID  string `gorm:"index;not null"`
	Kind        string
	Side        string
	LadderIndex int
	Price       string
	Quantity    string
	Cost        string
	Status      string `gorm:"index"`
	ParentID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ledger is the append-only order history kept next to the badger snapshot.
// It implements orders.Recorder.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLedger opens the SQLite file at path (pure Go driver) and migrates the schema.
func NewLedger(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if err := db.AutoMigrate(&OrderEvent{}, &OrderRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	return &Ledger{db: db, now: time.Now}, nil
}

// Record appends an event and upserts the order's latest state in one transaction.
func (l *Ledger) Record(ctx context.Context, strategyID, event string, o models.Order) error {
	ev := OrderEvent{
		StrategyID:  strategyID,
		OrderID:     o.ID,
		Event:       event,
		Kind:        string(o.Kind),
		Side:        string(o.Side),
		LadderIndex: o.LadderIndex,
		Price:       o.Price.String(),
		Quantity:    o.Quantity.String(),
		Cost:        o.Cost.String(),
		Status:      string(o.Status),
		ParentID:    o.ParentID,
		RecordedAt:  l.now(),
	}
	rec := OrderRecord{
		OrderID:     o.ID,
		StrategyID:  strategyID,
		Kind:        ev.Kind,
		Side:        ev.Side,
		LadderIndex: o.LadderIndex,
		Price:       ev.Price,
		Quantity:    ev.Quantity,
		Cost:        ev.Cost,
		Status:      ev.Status,
		ParentID:    o.ParentID,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
		}).Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record %s for order %s: %w", event, o.ID, err)
	}
	return nil
}

// History returns a strategy's events oldest first. limit <= 0 means no limit.
func (l *Ledger) History(ctx context.Context, strategyID string, limit int) ([]OrderEvent, error) {
	var events []OrderEvent
	q := l.db.WithContext(ctx).Where("strategy_id = ?", strategyID).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return events, nil
}

// OrdersByStatus lists the latest order records of a strategy in the given status.
func (l *Ledger) OrdersByStatus(ctx context.Context, strategyID string, status models.OrderStatus) ([]OrderRecord, error) {
	var recs []OrderRecord
	err := l.db.WithContext(ctx).
		Where("strategy_id = ? AND status = ?", strategyID, string(status)).
		Order("ladder_index asc").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	return recs, nil
}

// GetOrder returns (nil, nil) when the order was never recorded.
func (l *Ledger) GetOrder(ctx context.Context, orderID string) (*OrderRecord, error) {
	var rec OrderRecord
	err := l.db.WithContext(ctx).First(&rec, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
