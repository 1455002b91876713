package claims

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
)

// PostgresStore persists pending claims in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed claim store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, c *Claim) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO claims (id, claimant, amount, received_at)
		VALUES ($1, $2, $3::NUMERIC(78,0), $4)`,
		int64(c.ID), strings.ToLower(c.Claimant.Hex()), c.Amount.String(), c.ReceivedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrClaimExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id uint64) (*Claim, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, claimant, amount::TEXT, received_at FROM claims WHERE id = $1`, int64(id))
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, ErrClaimNotFound
	}
	return c, err
}

func (p *PostgresStore) Update(ctx context.Context, c *Claim) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE claims SET amount = $1::NUMERIC(78,0) WHERE id = $2`,
		c.Amount.String(), int64(c.ID))
	if err != nil {
		return err
	}
	return affectedOne(result)
}

func (p *PostgresStore) Delete(ctx context.Context, id uint64) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM claims WHERE id = $1`, int64(id))
	if err != nil {
		return err
	}
	return affectedOne(result)
}

func (p *PostgresStore) ListByClaimant(ctx context.Context, claimant common.Address) ([]*Claim, error) {
	return p.query(ctx, `
		SELECT id, claimant, amount::TEXT, received_at FROM claims
		WHERE claimant = $1 ORDER BY id ASC`, strings.ToLower(claimant.Hex()))
}

func (p *PostgresStore) All(ctx context.Context) ([]*Claim, error) {
	return p.query(ctx, `
		SELECT id, claimant, amount::TEXT, received_at FROM claims ORDER BY id ASC`)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Claim, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func affectedOne(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrClaimNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClaim(s scanner) (*Claim, error) {
	var (
		id               int64
		claimant, amount string
		receivedAt       time.Time
	)
	if err := s.Scan(&id, &claimant, &amount, &receivedAt); err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount for claim %d: %q", id, amount)
	}
	return &Claim{
		ID:         uint64(id),
		Claimant:   common.HexToAddress(claimant),
		Amount:     v,
		ReceivedAt: receivedAt,
	}, nil
}
