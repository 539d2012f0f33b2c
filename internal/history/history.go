// internal/history/history.go

// Package history persists confirmed contact records. Repeat confirmations
// for the same lead replace the prior row instead of duplicating it.
package history

import (
	"context"
	"database/sql"
	"time"

	"leadpilot/internal/common/errors"
	"leadpilot/internal/common/logger"
	"leadpilot/internal/models"
)

const upsertQuery = `
	INSERT INTO contact_history (lead_id, company_name, location, value_formatted, confirmed_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (lead_id) DO UPDATE SET
		company_name = EXCLUDED.company_name,
		location = EXCLUDED.location,
		value_formatted = EXCLUDED.value_formatted,
		confirmed_at = EXCLUDED.confirmed_at`

const recentQuery = `
	SELECT lead_id, company_name, location, value_formatted, confirmed_at
	FROM contact_history
	ORDER BY confirmed_at DESC
	LIMIT $1`

type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "history"}),
	}
}

// Record upserts one confirmed contact keyed by lead id.
func (s *Store) Record(ctx context.Context, rec models.ContactRecord) error {
	if rec.ConfirmedAt.IsZero() {
		rec.ConfirmedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, upsertQuery,
		rec.LeadID, rec.CompanyName, rec.Location, rec.ValueFormatted, rec.ConfirmedAt,
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "contact history write failed", err)
	}

	s.logger.Info("contact recorded", map[string]interface{}{
		"leadId":  rec.LeadID,
		"company": rec.CompanyName,
	})
	return nil
}

// Recent returns the latest confirmed contacts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.ContactRecord, error) {
	rows, err := s.db.QueryContext(ctx, recentQuery, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "contact history read failed", err)
	}
	defer rows.Close()

	var out []models.ContactRecord
	for rows.Next() {
		var rec models.ContactRecord
		if err := rows.Scan(&rec.LeadID, &rec.CompanyName, &rec.Location,
			&rec.ValueFormatted, &rec.ConfirmedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "contact history scan failed", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "contact history iteration failed", err)
	}
	return out, nil
}
