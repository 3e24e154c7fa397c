package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mindery/booking/libs/db"
	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/outbox"
	"github.com/mindery/booking/services/availability-service/internal/scheduling"
)

// Store is the Postgres implementation of scheduling.Store.
type Store struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

var _ scheduling.Store = (*Store)(nil)

func NewStore(pool *db.Pool, outboxRepo *outbox.Repository) *Store {
	return &Store{pool: pool, outbox: outboxRepo}
}

type providerDocument struct {
	weekly    []byte
	overrides []byte
	explicit  []byte
}

func encodeProvider(p *model.Provider) (providerDocument, error) {
	weekly := p.WeeklyRules
	if weekly == nil {
		weekly = []model.WeeklyRule{}
	}
	overrides := p.DateOverrides
	if overrides == nil {
		overrides = []model.DateOverrideRule{}
	}
	explicit := p.ExplicitSlots
	if explicit == nil {
		explicit = map[string][]model.ExplicitSlot{}
	}

	var doc providerDocument
	var err error
	if doc.weekly, err = json.Marshal(weekly); err != nil {
		return doc, fmt.Errorf("encode weekly rules: %w", err)
	}
	if doc.overrides, err = json.Marshal(overrides); err != nil {
		return doc, fmt.Errorf("encode date overrides: %w", err)
	}
	if doc.explicit, err = json.Marshal(explicit); err != nil {
		return doc, fmt.Errorf("encode explicit slots: %w", err)
	}
	return doc, nil
}

func decodeProvider(p *model.Provider, doc providerDocument) error {
	if err := json.Unmarshal(doc.weekly, &p.WeeklyRules); err != nil {
		return fmt.Errorf("decode weekly rules: %w", err)
	}
	if err := json.Unmarshal(doc.overrides, &p.DateOverrides); err != nil {
		return fmt.Errorf("decode date overrides: %w", err)
	}
	if err := json.Unmarshal(doc.explicit, &p.ExplicitSlots); err != nil {
		return fmt.Errorf("decode explicit slots: %w", err)
	}
	return nil
}

func (s *Store) Provider(ctx context.Context, id string) (*model.Provider, error) {
	var p model.Provider
	var doc providerDocument
	err := s.pool.QueryRow(ctx, `
		SELECT id, timezone, weekly_rules, date_overrides, explicit_slots, version, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Timezone, &doc.weekly, &doc.overrides, &doc.explicit, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scheduling.ErrProviderNotFound
		}
		return nil, err
	}
	if err := decodeProvider(&p, doc); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProvider(ctx context.Context, p *model.Provider) error {
	doc, err := encodeProvider(p)
	if err != nil {
		return err
	}
	if p.Version <= 0 {
		p.Version = 1
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO providers (id, timezone, weekly_rules, date_overrides, explicit_slots, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Timezone, doc.weekly, doc.overrides, doc.explicit, p.Version, p.CreatedAt, p.UpdatedAt)
	if IsUniqueViolation(err) {
		return scheduling.ErrProviderExists
	}
	return err
}

func (s *Store) UpdateProvider(ctx context.Context, p *model.Provider, events ...outbox.Event) error {
	doc, err := encodeProvider(p)
	if err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE providers
			SET timezone = $3,
				weekly_rules = $4,
				date_overrides = $5,
				explicit_slots = $6,
				version = version + 1,
				updated_at = $7
			WHERE id = $1 AND version = $2
		`, p.ID, p.Version, p.Timezone, doc.weekly, doc.overrides, doc.explicit, p.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return scheduling.ErrProviderNotFound
			}
			return scheduling.ErrVersionConflict
		}
		if err := s.outbox.InsertAll(ctx, tx, events); err != nil {
			return fmt.Errorf("outbox insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}
