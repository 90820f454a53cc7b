package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Rows are
// ordered by seq, which is assigned on first insert and never changes on
// upsert, so the stored list keeps event arrival order.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const upsertMarketSQL = `
	INSERT INTO markets (
		condition_id, creator, question, outcomes, ts, ends_at,
		open, redeemed, payouts, closure_prices,
		question_id, realitio_question_id, collateral_token, market_maker, oracle,
		updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13, $14, $15,
		NOW()
	)
	ON CONFLICT (condition_id) DO UPDATE SET
		outcomes       = EXCLUDED.outcomes,
		open           = EXCLUDED.open,
		redeemed       = EXCLUDED.redeemed,
		payouts        = EXCLUDED.payouts,
		closure_prices = EXCLUDED.closure_prices,
		updated_at     = NOW()`

// UpsertBatch inserts or updates markets in a single batch. The immutable
// columns of an existing row are left untouched.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		args, err := marketArgs(m)
		if err != nil {
			return fmt.Errorf("postgres: upsert market %s: %w", m.ConditionID, err)
		}
		batch.Queue(upsertMarketSQL, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

func marketArgs(m domain.Market) ([]any, error) {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return nil, err
	}
	payouts, err := nullableJSON(m.Payouts)
	if err != nil {
		return nil, err
	}
	prices, err := nullableJSON(m.MarginalPricesAtClosure)
	if err != nil {
		return nil, err
	}
	return []any{
		m.ConditionID, m.Creator, m.Question, outcomes, m.Timestamp, m.EndsAt,
		m.Open, m.Redeemed, payouts, prices,
		m.QuestionID, m.RealitioQuestionID, m.CollateralToken, m.MarketMaker, m.Oracle,
	}, nil
}

func nullableJSON(v []string) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

const marketCols = `condition_id, creator, question, outcomes, ts, ends_at,
	open, redeemed, payouts, closure_prices,
	question_id, realitio_question_id, collateral_token, market_maker, oracle`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                         domain.Market
		outcomes, payouts, prices []byte
	)
	err := row.Scan(
		&m.ConditionID, &m.Creator, &m.Question, &outcomes, &m.Timestamp, &m.EndsAt,
		&m.Open, &m.Redeemed, &payouts, &prices,
		&m.QuestionID, &m.RealitioQuestionID, &m.CollateralToken, &m.MarketMaker, &m.Oracle,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if err := json.Unmarshal(outcomes, &m.Outcomes); err != nil {
		return domain.Market{}, fmt.Errorf("outcomes: %w", err)
	}
	if payouts != nil {
		if err := json.Unmarshal(payouts, &m.Payouts); err != nil {
			return domain.Market{}, fmt.Errorf("payouts: %w", err)
		}
	}
	if prices != nil {
		if err := json.Unmarshal(prices, &m.MarginalPricesAtClosure); err != nil {
			return domain.Market{}, fmt.Errorf("closure prices: %w", err)
		}
	}
	return m, nil
}

// GetByConditionID retrieves a market by its condition ID.
func (s *MarketStore) GetByConditionID(ctx context.Context, conditionID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE condition_id = $1`, conditionID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", conditionID, err)
	}
	return m, nil
}

// marketListQuery builds the filtered, paginated market query. Since and
// Until bound the market creation timestamp.
func marketListQuery(opts domain.ListOpts) *listQuery {
	q := newListQuery(`SELECT ` + marketCols + ` FROM markets`)
	if opts.OpenOnly {
		q.raw(" AND open")
	}
	if opts.Since != nil {
		q.where("ts >= $%d", opts.Since.Unix())
	}
	if opts.Until != nil {
		q.where("ts <= $%d", opts.Until.Unix())
	}
	q.page("seq ASC", opts.Limit, opts.Offset)
	return q
}

// List returns markets in arrival order with pagination and filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	q := marketListQuery(opts)
	return s.query(ctx, q.String(), q.args...)
}

// ListAll returns every market in arrival order.
func (s *MarketStore) ListAll(ctx context.Context) ([]domain.Market, error) {
	return s.query(ctx, `SELECT `+marketCols+` FROM markets ORDER BY seq ASC`)
}

func (s *MarketStore) query(ctx context.Context, sql string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
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

// Count returns the number of stored markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
