// Package sqlite implements domain.LedgerStore on an embedded SQLite database
// (modernc.org/sqlite, no cgo). It serves single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite-backed ledger store. It holds a single connection, so
// every transaction runs exclusively.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema migration: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Update runs fn in a transaction committed only if fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return s.run(ctx, true, fn)
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) run(ctx context.Context, writable bool, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&ledgerTx{tx: tx, writable: writable}); err != nil {
		return err
	}
	if !writable {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx       *sql.Tx
	writable bool
}

func (t *ledgerTx) checkWritable() error {
	if !t.writable {
		return fmt.Errorf("sqlite: write in read-only transaction")
	}
	return nil
}

const marketCols = `id, title, options, odds, option_pools, total_pool,
	creator, end_time, status, winning_option, created_at, settled_at`

func (t *ledgerTx) MarketCount(ctx context.Context) (uint64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT value FROM ledger_sequence WHERE name = 'market_id'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: market count: %w", err)
	}
	return uint64(n), nil
}

func (t *ledgerTx) CreateMarket(ctx context.Context, m domain.Market) (uint64, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE ledger_sequence SET value = value + 1 WHERE name = 'market_id' RETURNING value`,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: advance market sequence: %w", err)
	}

	options, odds, pools, err := encodeMarketArrays(m)
	if err != nil {
		return 0, err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO markets (`+marketCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, m.Title, options, odds, pools, int64(m.TotalPool),
		string(m.Creator), formatTime(m.EndTime), string(m.Status),
		nullInt(m.WinningOption), formatTime(m.CreatedAt), nullTime(m.SettledAt),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert market %d: %w", id, err)
	}
	return uint64(id), nil
}

func (t *ledgerTx) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if id > domain.MaxAmount {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	m, err := scanMarket(t.tx.QueryRowContext(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = ?`, int64(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("sqlite: get market %d: %w", id, err)
	}
	return m, nil
}

func (t *ledgerTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	pools, err := json.Marshal(m.OptionPools)
	if err != nil {
		return fmt.Errorf("sqlite: encode option pools: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE markets SET
			option_pools = ?, total_pool = ?, status = ?, winning_option = ?, settled_at = ?
		WHERE id = ?`,
		string(pools), int64(m.TotalPool), string(m.Status),
		nullInt(m.WinningOption), nullTime(m.SettledAt), int64(m.ID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update market %d: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

func (t *ledgerTx) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, formatTime(*opts.Until))
	}
	query += ` ORDER BY id DESC`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}
	return t.queryMarkets(ctx, query, args...)
}

func (t *ledgerTx) ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE status = 'settled' AND settled_at < ? ORDER BY id`
	args := []any{formatTime(before)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return t.queryMarkets(ctx, query, args...)
}

func (t *ledgerTx) queryMarkets(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const positionCols = `market_id, bettor, bets_by_option, total_bet, claimed, claimed_at`

func (t *ledgerTx) GetPosition(ctx context.Context, marketID uint64, bettor domain.Principal) (domain.UserPosition, error) {
	p, err := scanPosition(t.tx.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = ? AND bettor = ?`,
		int64(marketID), string(bettor)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserPosition{}, domain.ErrNoPosition
		}
		return domain.UserPosition{}, fmt.Errorf("sqlite: get position %d/%s: %w", marketID, bettor, err)
	}
	return p, nil
}

func (t *ledgerTx) PutPosition(ctx context.Context, p domain.UserPosition) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	bets, err := json.Marshal(p.BetsByOption)
	if err != nil {
		return fmt.Errorf("sqlite: encode bets: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO positions (`+positionCols+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, bettor) DO UPDATE SET
			bets_by_option = excluded.bets_by_option,
			total_bet = excluded.total_bet,
			claimed = excluded.claimed,
			claimed_at = excluded.claimed_at`,
		int64(p.MarketID), string(p.Bettor), string(bets), int64(p.TotalBet),
		p.Claimed, nullTime(p.ClaimedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put position %d/%s: %w", p.MarketID, p.Bettor, err)
	}
	return nil
}

func (t *ledgerTx) ListPositions(ctx context.Context, marketID uint64) ([]domain.UserPosition, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = ? ORDER BY bettor`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.UserPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const payoutCols = `id, market_id, bettor, stake, amount, fee, status,
	attempts, last_error, created_at, completed_at`

func (t *ledgerTx) CreatePayout(ctx context.Context, p domain.Payout) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payouts (`+payoutCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, int64(p.MarketID), string(p.Bettor), int64(p.Stake), int64(p.Amount), int64(p.Fee),
		string(p.Status), p.Attempts, p.LastError, formatTime(p.CreatedAt), nullTime(p.CompletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: payouts.market_id") {
			return domain.ErrAlreadyClaimed
		}
		return fmt.Errorf("sqlite: insert payout %s: %w", p.ID, err)
	}
	return nil
}

func (t *ledgerTx) GetPayout(ctx context.Context, id string) (domain.Payout, error) {
	p, err := scanPayout(t.tx.QueryRowContext(ctx,
		`SELECT `+payoutCols+` FROM payouts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payout{}, fmt.Errorf("sqlite: payout %s: %w", id, domain.ErrNotFound)
		}
		return domain.Payout{}, fmt.Errorf("sqlite: get payout %s: %w", id, err)
	}
	return p, nil
}

func (t *ledgerTx) UpdatePayout(ctx context.Context, p domain.Payout) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payouts SET status = ?, attempts = ?, last_error = ?, completed_at = ?
		WHERE id = ?`,
		string(p.Status), p.Attempts, p.LastError, nullTime(p.CompletedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update payout %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: payout %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) ListPayouts(ctx context.Context, marketID uint64) ([]domain.Payout, error) {
	return t.queryPayouts(ctx,
		`SELECT `+payoutCols+` FROM payouts WHERE market_id = ? ORDER BY created_at, id`, int64(marketID))
}

func (t *ledgerTx) ListPendingPayouts(ctx context.Context, limit int) ([]domain.Payout, error) {
	query := `SELECT ` + payoutCols + ` FROM payouts WHERE status = 'pending' ORDER BY created_at, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return t.queryPayouts(ctx, query, args...)
}

func (t *ledgerTx) queryPayouts(ctx context.Context, query string, args ...any) ([]domain.Payout, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list payouts: %w", err)
	}
	defer rows.Close()

	var out []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan payout: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMarket(row scanner) (domain.Market, error) {
	var (
		m                    domain.Market
		id, total            int64
		options, odds, pools string
		creator, status      string
		endTime, createdAt   string
		winning              sql.NullInt64
		settledAt            sql.NullString
	)
	err := row.Scan(&id, &m.Title, &options, &odds, &pools, &total,
		&creator, &endTime, &status, &winning, &createdAt, &settledAt)
	if err != nil {
		return domain.Market{}, err
	}

	m.ID = uint64(id)
	m.TotalPool = uint64(total)
	m.Creator = domain.Principal(creator)
	m.Status = domain.MarketStatus(status)
	if err := json.Unmarshal([]byte(options), &m.Options); err != nil {
		return domain.Market{}, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal([]byte(odds), &m.Odds); err != nil {
		return domain.Market{}, fmt.Errorf("decode odds: %w", err)
	}
	if err := json.Unmarshal([]byte(pools), &m.OptionPools); err != nil {
		return domain.Market{}, fmt.Errorf("decode option pools: %w", err)
	}
	if m.EndTime, err = parseTime(endTime); err != nil {
		return domain.Market{}, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Market{}, err
	}
	if winning.Valid {
		w := int(winning.Int64)
		m.WinningOption = &w
	}
	if m.SettledAt, err = parseNullTime(settledAt); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func scanPosition(row scanner) (domain.UserPosition, error) {
	var (
		p         domain.UserPosition
		marketID  int64
		total     int64
		bettor    string
		bets      string
		claimedAt sql.NullString
	)
	if err := row.Scan(&marketID, &bettor, &bets, &total, &p.Claimed, &claimedAt); err != nil {
		return domain.UserPosition{}, err
	}
	if err := json.Unmarshal([]byte(bets), &p.BetsByOption); err != nil {
		return domain.UserPosition{}, fmt.Errorf("decode bets: %w", err)
	}
	p.MarketID = uint64(marketID)
	p.Bettor = domain.Principal(bettor)
	p.TotalBet = uint64(total)
	var err error
	if p.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return domain.UserPosition{}, err
	}
	return p, nil
}

func scanPayout(row scanner) (domain.Payout, error) {
	var (
		p                  domain.Payout
		marketID           int64
		stake, amount, fee int64
		bettor, status     string
		createdAt          string
		completedAt        sql.NullString
	)
	err := row.Scan(&p.ID, &marketID, &bettor, &stake, &amount, &fee, &status,
		&p.Attempts, &p.LastError, &createdAt, &completedAt)
	if err != nil {
		return domain.Payout{}, err
	}
	p.MarketID = uint64(marketID)
	p.Bettor = domain.Principal(bettor)
	p.Stake, p.Amount, p.Fee = uint64(stake), uint64(amount), uint64(fee)
	p.Status = domain.PayoutStatus(status)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Payout{}, err
	}
	if p.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return domain.Payout{}, err
	}
	return p, nil
}

func encodeMarketArrays(m domain.Market) (options, odds, pools string, err error) {
	o, err := json.Marshal(m.Options)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encode options: %w", err)
	}
	d, err := json.Marshal(m.Odds)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encode odds: %w", err)
	}
	p, err := json.Marshal(m.OptionPools)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encode option pools: %w", err)
	}
	return string(o), string(d), string(p), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// Compile-time interface check.
var _ domain.LedgerStore = (*Store)(nil)
