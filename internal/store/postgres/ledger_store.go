package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

const uniqueViolation = "23505"

// LedgerStore implements domain.LedgerStore using PostgreSQL transactions.
// Update locks the market row it reads (and the sequence row on create), so
// concurrent mutations of one market serialize on the database.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Update runs fn in a read-write transaction, committing only if fn succeeds.
func (s *LedgerStore) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx, lock: true})
	})
}

// View runs fn in a read-only repeatable-read transaction.
func (s *LedgerStore) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

type ledgerTx struct {
	tx   pgx.Tx
	lock bool
}

const marketCols = `id, title, options, odds, option_pools, total_pool,
	creator, end_time, status, winning_option, created_at, settled_at`

func (t *ledgerTx) MarketCount(ctx context.Context) (uint64, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		`SELECT value FROM ledger_sequence WHERE name = 'market_id'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: market count: %w", err)
	}
	return uint64(n), nil
}

func (t *ledgerTx) CreateMarket(ctx context.Context, m domain.Market) (uint64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`UPDATE ledger_sequence SET value = value + 1 WHERE name = 'market_id' RETURNING value`,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: advance market sequence: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO markets (`+marketCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, m.Title, m.Options, toInt64s(m.Odds), toInt64s(m.OptionPools), int64(m.TotalPool),
		string(m.Creator), m.EndTime, string(m.Status), m.WinningOption, m.CreatedAt, m.SettledAt,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert market %d: %w", id, err)
	}
	return uint64(id), nil
}

func (t *ledgerTx) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if id > domain.MaxAmount {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	query := `SELECT ` + marketCols + ` FROM markets WHERE id = $1`
	if t.lock {
		query += ` FOR UPDATE`
	}
	m, err := scanMarket(t.tx.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

func (t *ledgerTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE markets SET
			option_pools   = $2,
			total_pool     = $3,
			status         = $4,
			winning_option = $5,
			settled_at     = $6
		WHERE id = $1`,
		int64(m.ID), toInt64s(m.OptionPools), int64(m.TotalPool),
		string(m.Status), m.WinningOption, m.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

func (t *ledgerTx) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return t.queryMarkets(ctx, query, args...)
}

func (t *ledgerTx) ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE status = 'settled' AND settled_at < $1 ORDER BY id`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return t.queryMarkets(ctx, query, args...)
}

func (t *ledgerTx) queryMarkets(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

const positionCols = `market_id, bettor, bets_by_option, total_bet, claimed, claimed_at`

func (t *ledgerTx) GetPosition(ctx context.Context, marketID uint64, bettor domain.Principal) (domain.UserPosition, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE market_id = $1 AND bettor = $2`
	if t.lock {
		query += ` FOR UPDATE`
	}
	p, err := scanPosition(t.tx.QueryRow(ctx, query, int64(marketID), string(bettor)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserPosition{}, domain.ErrNoPosition
		}
		return domain.UserPosition{}, fmt.Errorf("postgres: get position %d/%s: %w", marketID, bettor, err)
	}
	return p, nil
}

func (t *ledgerTx) PutPosition(ctx context.Context, p domain.UserPosition) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO positions (`+positionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id, bettor) DO UPDATE SET
			bets_by_option = EXCLUDED.bets_by_option,
			total_bet      = EXCLUDED.total_bet,
			claimed        = EXCLUDED.claimed,
			claimed_at     = EXCLUDED.claimed_at`,
		int64(p.MarketID), string(p.Bettor), toInt64s(p.BetsByOption), int64(p.TotalBet),
		p.Claimed, p.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put position %d/%s: %w", p.MarketID, p.Bettor, err)
	}
	return nil
}

func (t *ledgerTx) ListPositions(ctx context.Context, marketID uint64) ([]domain.UserPosition, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 ORDER BY bettor`,
		int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.UserPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

const payoutCols = `id, market_id, bettor, stake, amount, fee, status,
	attempts, last_error, created_at, completed_at`

func (t *ledgerTx) CreatePayout(ctx context.Context, p domain.Payout) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payouts (`+payoutCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, int64(p.MarketID), string(p.Bettor), int64(p.Stake), int64(p.Amount), int64(p.Fee),
		string(p.Status), p.Attempts, p.LastError, p.CreatedAt, p.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyClaimed
		}
		return fmt.Errorf("postgres: insert payout %s: %w", p.ID, err)
	}
	return nil
}

func (t *ledgerTx) GetPayout(ctx context.Context, id string) (domain.Payout, error) {
	query := `SELECT ` + payoutCols + ` FROM payouts WHERE id = $1`
	if t.lock {
		query += ` FOR UPDATE`
	}
	p, err := scanPayout(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Payout{}, fmt.Errorf("postgres: payout %s: %w", id, domain.ErrNotFound)
		}
		return domain.Payout{}, fmt.Errorf("postgres: get payout %s: %w", id, err)
	}
	return p, nil
}

func (t *ledgerTx) UpdatePayout(ctx context.Context, p domain.Payout) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payouts SET
			status       = $2,
			attempts     = $3,
			last_error   = $4,
			completed_at = $5
		WHERE id = $1`,
		p.ID, string(p.Status), p.Attempts, p.LastError, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update payout %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: payout %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) ListPayouts(ctx context.Context, marketID uint64) ([]domain.Payout, error) {
	return t.queryPayouts(ctx,
		`SELECT `+payoutCols+` FROM payouts WHERE market_id = $1 ORDER BY created_at, id`,
		int64(marketID))
}

func (t *ledgerTx) ListPendingPayouts(ctx context.Context, limit int) ([]domain.Payout, error) {
	query := `SELECT ` + payoutCols + ` FROM payouts WHERE status = 'pending' ORDER BY created_at, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return t.queryPayouts(ctx, query, args...)
}

func (t *ledgerTx) queryPayouts(ctx context.Context, query string, args ...any) ([]domain.Payout, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payouts: %w", err)
	}
	defer rows.Close()

	var out []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list payouts rows: %w", err)
	}
	return out, nil
}

// scanMarket scans a single row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m         domain.Market
		id, total int64
		odds      []int64
		pools     []int64
		creator   string
		status    string
		winning   *int32
		settledAt *time.Time
	)
	err := row.Scan(
		&id, &m.Title, &m.Options, &odds, &pools, &total,
		&creator, &m.EndTime, &status, &winning, &m.CreatedAt, &settledAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.ID = uint64(id)
	m.TotalPool = uint64(total)
	m.Creator = domain.Principal(creator)
	m.Status = domain.MarketStatus(status)
	m.EndTime = m.EndTime.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	if m.Odds, err = toUint64s(odds); err != nil {
		return domain.Market{}, err
	}
	if m.OptionPools, err = toUint64s(pools); err != nil {
		return domain.Market{}, err
	}
	if winning != nil {
		w := int(*winning)
		m.WinningOption = &w
	}
	if settledAt != nil {
		at := settledAt.UTC()
		m.SettledAt = &at
	}
	return m, nil
}

func scanPosition(row pgx.Row) (domain.UserPosition, error) {
	var (
		p         domain.UserPosition
		marketID  int64
		bettor    string
		bets      []int64
		total     int64
		claimedAt *time.Time
	)
	if err := row.Scan(&marketID, &bettor, &bets, &total, &p.Claimed, &claimedAt); err != nil {
		return domain.UserPosition{}, err
	}
	var err error
	if p.BetsByOption, err = toUint64s(bets); err != nil {
		return domain.UserPosition{}, err
	}
	p.MarketID = uint64(marketID)
	p.Bettor = domain.Principal(bettor)
	p.TotalBet = uint64(total)
	if claimedAt != nil {
		at := claimedAt.UTC()
		p.ClaimedAt = &at
	}
	return p, nil
}

func scanPayout(row pgx.Row) (domain.Payout, error) {
	var (
		p                  domain.Payout
		marketID           int64
		stake, amount, fee int64
		bettor, status     string
		completedAt        *time.Time
	)
	err := row.Scan(
		&p.ID, &marketID, &bettor, &stake, &amount, &fee, &status,
		&p.Attempts, &p.LastError, &p.CreatedAt, &completedAt,
	)
	if err != nil {
		return domain.Payout{}, err
	}
	p.MarketID = uint64(marketID)
	p.Bettor = domain.Principal(bettor)
	p.Stake, p.Amount, p.Fee = uint64(stake), uint64(amount), uint64(fee)
	p.Status = domain.PayoutStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	if completedAt != nil {
		at := completedAt.UTC()
		p.CompletedAt = &at
	}
	return p, nil
}

// toInt64s converts ledger amounts to BIGINT array elements. Callers keep
// every amount at or below domain.MaxAmount.
func toInt64s(in []uint64) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func toUint64s(in []int64) ([]uint64, error) {
	out := make([]uint64, len(in))
	for i, v := range in {
		if v < 0 {
			return nil, fmt.Errorf("%w: negative amount %d", domain.ErrCorrupt, v)
		}
		out[i] = uint64(v)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
