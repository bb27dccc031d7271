package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/waypoint/internal/execution"
	"github.com/fyrsmithlabs/waypoint/internal/tenant"
)

// CreateJourney registers a journey for a tenant. Journeys are owned by the
// wider platform; this exists for seeding and the CLI.
func (s *Store) CreateJourney(ctx context.Context, journeyID, tenantID, name string) error {
	if journeyID == "" {
		return fmt.Errorf("journey id is required")
	}
	if err := tenant.ValidateID(tenantID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO journeys (id, tenant_id, name, created_at) VALUES (?, ?, ?, ?)`),
		journeyID, tenantID, name, toNanos(s.nowFunc()))
	if err := classify(err); err != nil {
		return fmt.Errorf("creating journey %s: %w", journeyID, err)
	}
	return nil
}

// ResolveJourney implements execution.JourneyResolver.
func (s *Store) ResolveJourney(ctx context.Context, journeyID string) (*execution.Journey, error) {
	j := &execution.Journey{ID: journeyID}
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT tenant_id FROM journeys WHERE id = ?`), journeyID).Scan(&j.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", execution.ErrJourneyNotFound, journeyID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving journey %s: %w", journeyID, err)
	}
	return j, nil
}
