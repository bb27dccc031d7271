package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/waypoint/internal/vectorstore"
)

const indexColumns = `index_id, tenant_id, segment_id, journey_id, model, dimension, created_at`

func scanIndex(row rowScanner) (*vectorstore.IndexRecord, error) {
	var (
		rec       vectorstore.IndexRecord
		createdAt int64
	)
	if err := row.Scan(&rec.IndexID, &rec.TenantID, &rec.SegmentID, &rec.JourneyID, &rec.Model, &rec.Dimension, &createdAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = fromNanos(createdAt)
	return &rec, nil
}

// InsertIndex implements vectorstore.IndexRepository.
func (s *Store) InsertIndex(ctx context.Context, rec *vectorstore.IndexRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO embedding_index (`+indexColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.IndexID, rec.TenantID, rec.SegmentID, rec.JourneyID, rec.Model, rec.Dimension, toNanos(rec.CreatedAt))
	err = classify(err)
	if errors.Is(err, errUniqueViolation) {
		return fmt.Errorf("%w: segment %s model %s", vectorstore.ErrDuplicateEmbedding, rec.SegmentID, rec.Model)
	}
	if err != nil {
		return fmt.Errorf("inserting index %s: %w", rec.IndexID, err)
	}
	return nil
}

// ReplaceIndex implements vectorstore.IndexRepository.
func (s *Store) ReplaceIndex(ctx context.Context, rec *vectorstore.IndexRecord) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE embedding_index SET journey_id = ?, dimension = ?, created_at = ? WHERE index_id = ?`),
		rec.JourneyID, rec.Dimension, toNanos(rec.CreatedAt), rec.IndexID)
	if err != nil {
		return fmt.Errorf("updating index %s: %w", rec.IndexID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, rec.IndexID)
	}
	return nil
}

// FindIndex implements vectorstore.IndexRepository.
func (s *Store) FindIndex(ctx context.Context, tenantID, segmentID, model string) (*vectorstore.IndexRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+indexColumns+` FROM embedding_index WHERE tenant_id = ? AND segment_id = ? AND model = ?`),
		tenantID, segmentID, model)
	rec, err := scanIndex(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vectorstore.ErrIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding index: %w", err)
	}
	return rec, nil
}

// GetIndexes implements vectorstore.IndexRepository.
func (s *Store) GetIndexes(ctx context.Context, indexIDs []string) (map[string]*vectorstore.IndexRecord, error) {
	out := make(map[string]*vectorstore.IndexRecord, len(indexIDs))
	if len(indexIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(indexIDs))
	for i, id := range indexIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+indexColumns+` FROM embedding_index WHERE index_id IN (`+placeholders(len(indexIDs))+`)`),
		args...)
	if err != nil {
		return nil, fmt.Errorf("loading indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanIndex(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		out[rec.IndexID] = rec
	}
	return out, rows.Err()
}

// DeleteIndex implements vectorstore.IndexRepository.
func (s *Store) DeleteIndex(ctx context.Context, indexID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM embedding_index WHERE index_id = ?`), indexID); err != nil {
		return fmt.Errorf("deleting index %s: %w", indexID, err)
	}
	return nil
}

// DeleteSegmentIndexes implements vectorstore.IndexRepository.
func (s *Store) DeleteSegmentIndexes(ctx context.Context, segmentID string) ([]*vectorstore.IndexRecord, error) {
	var out []*vectorstore.IndexRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.rebind(`SELECT `+indexColumns+` FROM embedding_index WHERE segment_id = ?`), segmentID)
		if err != nil {
			return fmt.Errorf("loading segment indexes: %w", err)
		}
		for rows.Next() {
			rec, err := scanIndex(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scanning index: %w", err)
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM embedding_index WHERE segment_id = ?`), segmentID); err != nil {
			return fmt.Errorf("deleting segment indexes: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
