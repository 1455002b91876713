package policy

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
)

// PostgresStore persists policies in PostgreSQL.
//
// Burned policies keep their row with burned_at set, so ids are never reissued.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const policyColumns = `id, holder, product, strategy, position_description, cover_amount::TEXT,
	expiration_block, price, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, pol *Policy) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO policies (id, holder, product, strategy, position_description, cover_amount,
			expiration_block, price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC(78,0), $7, $8, $9, $10)`,
		int64(pol.ID), addrKey(pol.Holder), addrKey(pol.Product), addrKey(pol.Strategy),
		pol.PositionDescription, pol.CoverAmount.String(), int64(pol.ExpirationBlock), int64(pol.Price),
		pol.CreatedAt, pol.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("policy %d already exists: %w", pol.ID, err)
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id uint64) (*Policy, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+policyColumns+`
		FROM policies WHERE id = $1 AND burned_at IS NULL`, int64(id))
	pol, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrNonexistentPolicy
	}
	return pol, err
}

func (p *PostgresStore) Update(ctx context.Context, pol *Policy) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE policies
		SET holder = $1, position_description = $2, cover_amount = $3::NUMERIC(78,0),
			expiration_block = $4, price = $5, updated_at = $6
		WHERE id = $7 AND burned_at IS NULL`,
		addrKey(pol.Holder), pol.PositionDescription, pol.CoverAmount.String(),
		int64(pol.ExpirationBlock), int64(pol.Price), pol.UpdatedAt, int64(pol.ID),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNonexistentPolicy
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id uint64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE policies SET burned_at = NOW() WHERE id = $1 AND burned_at IS NULL`, int64(id))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNonexistentPolicy
	}
	return nil
}

func (p *PostgresStore) DeleteMany(ctx context.Context, ids []uint64) error {
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE policies SET burned_at = NOW() WHERE id = ANY($1) AND burned_at IS NULL`, pq.Array(keys))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows != int64(len(keys)) {
		return ErrNonexistentPolicy
	}
	return tx.Commit()
}

func (p *PostgresStore) Reinstate(ctx context.Context, pol *Policy) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE policies SET burned_at = NULL WHERE id = $1 AND burned_at IS NOT NULL`, int64(pol.ID))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var live bool
		err := p.db.QueryRowContext(ctx, `SELECT burned_at IS NULL FROM policies WHERE id = $1`, int64(pol.ID)).Scan(&live)
		switch {
		case err == sql.ErrNoRows:
			return ErrNonexistentPolicy
		case err != nil:
			return err
		case live:
			return ErrPolicyExists
		}
		return ErrNonexistentPolicy
	}
	return nil
}

func (p *PostgresStore) ListByHolder(ctx context.Context, holder common.Address) ([]*Policy, error) {
	return p.query(ctx, `
		SELECT `+policyColumns+`
		FROM policies WHERE holder = $1 AND burned_at IS NULL
		ORDER BY id ASC`, addrKey(holder))
}

func (p *PostgresStore) ListExpired(ctx context.Context, block uint64, limit int) ([]*Policy, error) {
	if limit <= 0 {
		limit = 100
	}
	return p.query(ctx, `
		SELECT `+policyColumns+`
		FROM policies WHERE expiration_block <= $1 AND burned_at IS NULL
		ORDER BY id ASC LIMIT $2`, int64(block), limit)
}

func (p *PostgresStore) All(ctx context.Context) ([]*Policy, error) {
	return p.query(ctx, `
		SELECT `+policyColumns+`
		FROM policies WHERE burned_at IS NULL
		ORDER BY id ASC`)
}

func (p *PostgresStore) MaxID(ctx context.Context) (uint64, error) {
	var id int64
	if err := p.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM policies`).Scan(&id); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Policy, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Policy
	for rows.Next() {
		pol, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pol)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(s scanner) (*Policy, error) {
	var (
		pol                       Policy
		id, expiration, price     int64
		holder, product, strategy string
		cover                     string
	)
	if err := s.Scan(&id, &holder, &product, &strategy, &pol.PositionDescription, &cover,
		&expiration, &price, &pol.CreatedAt, &pol.UpdatedAt); err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(cover, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt cover amount for policy %d: %q", id, cover)
	}
	pol.ID = uint64(id)
	pol.Holder = common.HexToAddress(holder)
	pol.Product = common.HexToAddress(product)
	pol.Strategy = common.HexToAddress(strategy)
	pol.CoverAmount = amount
	pol.ExpirationBlock = uint64(expiration)
	pol.Price = uint32(price)
	return &pol, nil
}

func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}
