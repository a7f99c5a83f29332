package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kaupa/barter-engine/internal/model"
)

// Schema creates the tables PostgresStore expects.
const Schema = `
CREATE TABLE IF NOT EXISTS proposals (
	id            TEXT PRIMARY KEY,
	engine_id     TEXT NOT NULL,
	owner         TEXT NOT NULL,
	counterparty  TEXT NOT NULL DEFAULT '',
	kind          TEXT NOT NULL,
	offering      JSONB NOT NULL,
	asking        JSONB NOT NULL,
	allow_partial BOOLEAN NOT NULL,
	side          TEXT NOT NULL DEFAULT '',
	price_per     NUMERIC,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS proposals_engine_idx ON proposals (engine_id, created_at);

CREATE TABLE IF NOT EXISTS settlements (
	id          TEXT PRIMARY KEY,
	engine_id   TEXT NOT NULL,
	proposal_id TEXT NOT NULL,
	owner       TEXT NOT NULL,
	taker       TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	ratio       NUMERIC NOT NULL,
	full_fill   BOOLEAN NOT NULL,
	paid        JSONB NOT NULL,
	received    JSONB NOT NULL,
	fees        JSONB NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS settlements_proposal_idx ON settlements (proposal_id, timestamp);
CREATE INDEX IF NOT EXISTS settlements_owner_idx ON settlements (owner, timestamp);
`

// PostgresStore implements Store using PostgreSQL.
// Ratios and prices are stored as NUMERIC for exact decimal precision;
// asset amounts are JSONB documents of decimal strings.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) SaveProposal(ctx context.Context, rec *model.ProposalRecord) error {
	offering, err := json.Marshal(rec.Offering)
	if err != nil {
		return err
	}
	asking, err := json.Marshal(rec.Asking)
	if err != nil {
		return err
	}
	var price *string
	if rec.PricePer != nil {
		p := rec.PricePer.String()
		price = &p
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO proposals (id, engine_id, owner, counterparty, kind, offering, asking,
		                        allow_partial, side, price_per, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7::JSONB, $8, $9, $10::NUMERIC, $11, $12)
		 ON CONFLICT (id) DO UPDATE
		 SET offering = EXCLUDED.offering, asking = EXCLUDED.asking, updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.EngineID, rec.Owner, rec.Counterparty, rec.Kind.String(),
		string(offering), string(asking),
		rec.AllowPartial, rec.Side, price, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeleteProposal(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM proposals WHERE id = $1`, id)
	return err
}

const proposalColumns = `id, engine_id, owner, counterparty, kind, offering::TEXT, asking::TEXT,
		        allow_partial, side, price_per::TEXT, created_at, updated_at`

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*model.ProposalRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanProposals(rows)
	if err != nil {
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	return &recs[0], nil
}

func (s *PostgresStore) ListProposals(ctx context.Context, engineID string) ([]model.ProposalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE engine_id = $1 ORDER BY created_at, id`, engineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProposals(rows)
}

func (s *PostgresStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	paid, err := json.Marshal(st.Paid)
	if err != nil {
		return err
	}
	received, err := json.Marshal(st.Received)
	if err != nil {
		return err
	}
	fees := st.Fees
	if fees == nil {
		fees = []model.Amount{}
	}
	feeDoc, err := json.Marshal(fees)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO settlements (id, engine_id, proposal_id, owner, taker, kind, ratio, full_fill,
		                          paid, received, fees, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9::JSONB, $10::JSONB, $11::JSONB, $12)`,
		st.ID, st.EngineID, st.ProposalID, st.Owner, st.Taker, st.Kind.String(),
		st.Ratio.String(), st.Full, string(paid), string(received), string(feeDoc), st.Timestamp,
	)
	return err
}

const settlementColumns = `id, engine_id, proposal_id, owner, taker, kind, ratio::TEXT, full_fill,
		        paid::TEXT, received::TEXT, fees::TEXT, timestamp`

func (s *PostgresStore) GetSettlementsByProposal(ctx context.Context, proposalID string) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE proposal_id = $1 ORDER BY timestamp`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSettlements(rows)
}

func (s *PostgresStore) GetSettlementsByOwner(ctx context.Context, owner string) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE owner = $1 ORDER BY timestamp`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSettlements(rows)
}

func scanProposals(rows pgx.Rows) ([]model.ProposalRecord, error) {
	var out []model.ProposalRecord
	for rows.Next() {
		var rec model.ProposalRecord
		var kind, offering, asking string
		var price *string

		if err := rows.Scan(&rec.ID, &rec.EngineID, &rec.Owner, &rec.Counterparty, &kind,
			&offering, &asking, &rec.AllowPartial, &rec.Side, &price,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := rec.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(offering), &rec.Offering); err != nil {
			return nil, fmt.Errorf("proposal %s offering: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(asking), &rec.Asking); err != nil {
			return nil, fmt.Errorf("proposal %s asking: %w", rec.ID, err)
		}
		if price != nil {
			p, err := decimal.NewFromString(*price)
			if err != nil {
				return nil, err
			}
			rec.PricePer = &p
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSettlements(rows pgx.Rows) ([]model.Settlement, error) {
	var out []model.Settlement
	for rows.Next() {
		var st model.Settlement
		var kind, ratio, paid, received, fees string

		if err := rows.Scan(&st.ID, &st.EngineID, &st.ProposalID, &st.Owner, &st.Taker, &kind,
			&ratio, &st.Full, &paid, &received, &fees, &st.Timestamp); err != nil {
			return nil, err
		}
		if err := st.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, err
		}
		st.Ratio, _ = decimal.NewFromString(ratio)
		for _, doc := range []struct {
			raw  string
			into *[]model.Amount
		}{{paid, &st.Paid}, {received, &st.Received}, {fees, &st.Fees}} {
			if err := json.Unmarshal([]byte(doc.raw), doc.into); err != nil {
				return nil, fmt.Errorf("settlement %s: %w", st.ID, err)
			}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
