package pgtracking

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Storage is the Postgres read model of tracked shipments. It keeps exactly
// one row per shipment; every update replaces the previous snapshot.
type Storage struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
