// Package journal persists executions and inside-market changes to
// PostgreSQL for later analysis.
package journal

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"main/internal/model"
	"main/internal/reconcile"
	"main/pkg/conn"
)

// FillRecord is one execution against one of our orders.
type FillRecord struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement"`
	Time          time.Time       `gorm:"index"`
	ClientOrderID string          `gorm:"index;size:64"`
	Instrument    string          `gorm:"index;size:32"`
	Side          string          `gorm:"size:8"`
	Price         decimal.Decimal `gorm:"type:numeric"`
	FilledSize    decimal.Decimal `gorm:"type:numeric"`
	WorkingSize   decimal.Decimal `gorm:"type:numeric"`
}

func (FillRecord) TableName() string { return "fills" }

// InsideMarketRecord is one top-of-book change.
type InsideMarketRecord struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	Time       time.Time       `gorm:"index"`
	Instrument string          `gorm:"index;size:32"`
	BidPrice   decimal.Decimal `gorm:"type:numeric"`
	BidSize    decimal.Decimal `gorm:"type:numeric"`
	AskPrice   decimal.Decimal `gorm:"type:numeric"`
	AskSize    decimal.Decimal `gorm:"type:numeric"`
}

func (InsideMarketRecord) TableName() string { return "inside_markets" }

// Journal writes trade and market records through one connection pool.
type Journal struct {
	client *conn.Client
	db     *gorm.DB
}

// Open connects and migrates the journal tables.
func Open(option conn.Option) (*Journal, error) {
	client, err := conn.New(option)
	if err != nil {
		return nil, errors.Wrap(err, "open journal database")
	}
	if err := client.DB().AutoMigrate(&FillRecord{}, &InsideMarketRecord{}); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "migrate journal tables")
	}
	return &Journal{client: client}, nil
}

// NewWithDB wraps an existing gorm handle, used by tests.
func NewWithDB(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&FillRecord{}, &InsideMarketRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate journal tables")
	}
	return &Journal{client: nil, db: db}, nil
}

// RecordFill persists one execution event.
func (j *Journal) RecordFill(ev reconcile.Filled) error {
	record := FillRecord{
		Time:          ev.Time,
		ClientOrderID: string(ev.ClientOrderID),
		Instrument:    string(ev.Instrument),
		Side:          ev.Side.String(),
		Price:         ev.Price,
		FilledSize:    ev.FilledSize,
		WorkingSize:   ev.WorkingSize,
	}
	if err := j.handle().Create(&record).Error; err != nil {
		return errors.Wrap(err, "record fill")
	}
	return nil
}

// RecordInsideMarket persists one top-of-book change.
func (j *Journal) RecordInsideMarket(change model.InsideMarketChange) error {
	record := InsideMarketRecord{
		Time:       time.Now().UTC(),
		Instrument: string(change.Instrument),
		BidPrice:   change.New.Bid.Price,
		BidSize:    change.New.Bid.Size,
		AskPrice:   change.New.Ask.Price,
		AskSize:    change.New.Ask.Size,
	}
	if err := j.handle().Create(&record).Error; err != nil {
		return errors.Wrap(err, "record inside market")
	}
	return nil
}

// Close releases the connection pool.
func (j *Journal) Close() error {
	if j == nil || j.client == nil {
		return nil
	}
	return j.client.Close()
}

func (j *Journal) handle() *gorm.DB {
	if j.db != nil {
		return j.db
	}
	return j.client.DB()
}
