// Package archive persists finalized activity artifacts to Postgres so an
// external sync collaborator can pick them up later. It is optional: without
// a database the engine still finalizes to disk, and nothing here is ever
// allowed to block or fail a finish.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/deancochran/gradientpeak-sub005/internal/activity"
	"github.com/deancochran/gradientpeak-sub005/internal/db"
)

// ErrNotFound marks lookups for activities that were never archived.
var ErrNotFound = errors.New("activity not archived")

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Save archives a finalized artifact. Artifacts are immutable, so saving the
// same id twice is a no-op rather than an update.
func (s *Service) Save(ctx context.Context, art activity.Activity) error {
	doc, err := json.Marshal(art)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO activities (id, profile_id, activity_type, started_at, finished_at, document)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING
	`, art.ID, art.ProfileID, art.ActivityType, art.StartedAt, art.FinishedAt, doc)
	return err
}

// List returns archived records newest first, optionally scoped to one
// profile.
func (s *Service) List(ctx context.Context, profileID string) ([]Record, error) {
	query := `
		SELECT document, synced_at
		FROM activities
		ORDER BY started_at DESC
	`
	var args []any
	if profileID != "" {
		query = `
			SELECT document, synced_at
			FROM activities WHERE profile_id=$1
			ORDER BY started_at DESC
		`
		args = append(args, profileID)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			doc []byte
			rec Record
		)
		if err := rows.Scan(&doc, &rec.SyncedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(doc, &rec.Activity); err != nil {
			return nil, fmt.Errorf("archived document: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT document, synced_at
		FROM activities WHERE id=$1
	`, id)
	var (
		doc []byte
		rec Record
	)
	if err := row.Scan(&doc, &rec.SyncedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return Record{}, err
	}
	if err := json.Unmarshal(doc, &rec.Activity); err != nil {
		return Record{}, fmt.Errorf("archived document: %w", err)
	}
	return rec, nil
}

// MarkSynced records when the sync collaborator uploaded the activity. The
// document itself stays untouched.
func (s *Service) MarkSynced(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE activities SET synced_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}
