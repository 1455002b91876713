package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PostgresStore persists balances in PostgreSQL.
//
// Amounts are NUMERIC(78,0), wide enough for any uint256.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed balance store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Balance(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	var raw string
	err := p.db.QueryRowContext(ctx, `
		SELECT amount::TEXT FROM balances WHERE asset = $1 AND account = $2
	`, addrKey(asset), addrKey(account)).Scan(&raw)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseNumeric(raw)
}

func (p *PostgresStore) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int, memo string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Debit only if the row can cover the amount; zero rows means overdraw.
	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET amount = amount - $3::NUMERIC(78,0), updated_at = NOW()
		WHERE asset = $1 AND account = $2 AND amount >= $3::NUMERIC(78,0)
	`, addrKey(asset), addrKey(from), amount.String())
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInsufficientBalance
	}

	if err := creditTx(ctx, tx, asset, to, amount); err != nil {
		return err
	}
	if err := recordTx(ctx, tx, asset, from, to, amount, memo); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Mint(ctx context.Context, asset, to common.Address, amount *big.Int, memo string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := creditTx(ctx, tx, asset, to, amount); err != nil {
		return err
	}
	if err := recordTx(ctx, tx, asset, common.Address{}, to, amount, memo); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Burn(ctx context.Context, asset, from common.Address, amount *big.Int, memo string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET amount = amount - $3::NUMERIC(78,0), updated_at = NOW()
		WHERE asset = $1 AND account = $2 AND amount >= $3::NUMERIC(78,0)
	`, addrKey(asset), addrKey(from), amount.String())
	if err != nil {
		return fmt.Errorf("failed to burn balance: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInsufficientBalance
	}
	if err := recordTx(ctx, tx, asset, from, common.Address{}, amount, memo); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Supply(ctx context.Context, asset common.Address) (*big.Int, error) {
	var raw string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)::TEXT FROM balances WHERE asset = $1
	`, addrKey(asset)).Scan(&raw)
	if err != nil {
		return nil, err
	}
	return parseNumeric(raw)
}

func (p *PostgresStore) History(ctx context.Context, account common.Address, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, asset, from_account, to_account, amount::TEXT, COALESCE(memo, ''), created_at
		FROM ledger_entries
		WHERE from_account = $1 OR to_account = $1
		ORDER BY id DESC
		LIMIT $2
	`, addrKey(account), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		var (
			e                    Entry
			asset, from, to, amt string
			createdAt            time.Time
		)
		if err := rows.Scan(&e.ID, &asset, &from, &to, &amt, &e.Memo, &createdAt); err != nil {
			return nil, err
		}
		amount, err := parseNumeric(amt)
		if err != nil {
			return nil, err
		}
		e.Asset = common.HexToAddress(asset)
		e.From = common.HexToAddress(from)
		e.To = common.HexToAddress(to)
		e.Amount = amount
		e.CreatedAt = createdAt
		result = append(result, &e)
	}
	return result, rows.Err()
}

func creditTx(ctx context.Context, tx *sql.Tx, asset, to common.Address, amount *big.Int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (asset, account, amount, updated_at)
		VALUES ($1, $2, $3::NUMERIC(78,0), NOW())
		ON CONFLICT (asset, account) DO UPDATE SET
			amount = balances.amount + EXCLUDED.amount,
			updated_at = NOW()
	`, addrKey(asset), addrKey(to), amount.String())
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

func recordTx(ctx context.Context, tx *sql.Tx, asset, from, to common.Address, amount *big.Int, memo string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (asset, from_account, to_account, amount, memo, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(78,0), $5, NOW())
	`, addrKey(asset), addrKey(from), addrKey(to), amount.String(), memo)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}
