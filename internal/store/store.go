package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"evshop-payment/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for /ready
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetVehicleByID retrieves an active vehicle by ID
func (s *Store) GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	var v models.Vehicle
	err := s.db.GetContext(ctx, &v,
		"SELECT id, sku, name, price, sale_price, active, created_at FROM vehicles WHERE id = $1 AND active", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrVehicleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", models.ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}
