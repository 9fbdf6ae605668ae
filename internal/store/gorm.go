package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"airguard.dev/gateway/pkg/metrics"
)

// GormStore is the Postgres-backed Store. Uniqueness is enforced by the
// unique index on batch_id, so the database resolves concurrent inserts.
type GormStore struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.IngestMetrics // Optional metrics
}

// NewGormStore creates a store over an open database handle.
func NewGormStore(db *gorm.DB, logger *slog.Logger, m *metrics.IngestMetrics) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &GormStore{
		db:      db,
		logger:  logger,
		metrics: m,
	}, nil
}

// Insert adds sample unless its batch id is already stored.
func (s *GormStore) Insert(ctx context.Context, sample *Sample) (InsertResult, error) {
	done := s.track("insert")

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "batch_id"}},
			DoNothing: true,
		}).
		Create(sample)
	if result.Error != nil {
		done(result.Error)
		return Duplicate, fmt.Errorf("failed to insert sample: %w", result.Error)
	}
	done(nil)

	if result.RowsAffected == 0 {
		s.logger.Debug("duplicate batch ignored by store", "batch_id", sample.BatchID)
		return Duplicate, nil
	}

	return Inserted, nil
}

// Get returns the sample stored under batchID.
func (s *GormStore) Get(ctx context.Context, batchID string) (*Sample, error) {
	done := s.track("get")

	var sample Sample
	err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		done(nil)
		return nil, ErrNotFound
	}
	done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sample: %w", err)
	}

	return &sample, nil
}

// List returns one page of samples, newest stored first, plus the total count.
func (s *GormStore) List(ctx context.Context, limit, offset int) (Page, error) {
	done := s.track("list")

	page := Page{
		Limit:  ClampLimit(limit),
		Offset: clampOffset(offset),
	}

	if err := s.db.WithContext(ctx).Model(&Sample{}).Count(&page.Total).Error; err != nil {
		done(err)
		return Page{}, fmt.Errorf("failed to count samples: %w", err)
	}

	page.Samples = make([]Sample, 0, min(page.Limit, int(page.Total)))
	err := s.db.WithContext(ctx).
		Order("stored_at DESC").
		Order("id DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&page.Samples).Error
	done(err)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list samples: %w", err)
	}

	return page, nil
}

// Ping verifies the database is reachable.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// track starts timing an operation and returns a func that records its outcome.
func (s *GormStore) track(operation string) func(error) {
	if s.metrics == nil {
		return func(error) {}
	}

	timer := prometheus.NewTimer(s.metrics.DBOperationDuration.WithLabelValues(operation))
	return func(err error) {
		timer.ObserveDuration()
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.DBOperationsTotal.WithLabelValues(operation, status).Inc()
	}
}
