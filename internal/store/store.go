// Package store provides the persistence layer for the portfolio impact
// engine (C1, spec §4.1). It wraps a single internal/database.DB connection
// with repository-style methods grouped by concern: companies and articles,
// relationships and precedents, alerts and their reasoning trail, holdings,
// the Governor's usage accounting, and its response cache.
//
// There is no ORM. Every method issues raw SQL through database/sql, matching
// the teacher's internal/modules/*/repository pattern.
package store

import (
	"github.com/rs/zerolog"

	"github.com/aristath/impactengine/internal/database"
)

// Store is the engine's persistence façade (C1).
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// New creates a Store over an already-migrated database connection.
func New(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}
}

// DB exposes the underlying connection for callers that need WithTransaction
// across more than one repository method (save_alert does this internally).
func (s *Store) DB() *database.DB {
	return s.db
}
