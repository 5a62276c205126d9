package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kumanofoo/tako/internal/model"
)

// PostgresStore implements Store using PostgreSQL. All monetary values are
// stored as NUMERIC for exact decimal precision; the forecast snapshot is
// one JSONB column since it is written once and read whole.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS owners (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			balance    NUMERIC NOT NULL,
			badges     INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS rounds (
			id           TEXT PRIMARY KEY,
			date         TEXT NOT NULL UNIQUE,
			place        TEXT NOT NULL,
			opens_at     TIMESTAMPTZ NOT NULL,
			closes_at    TIMESTAMPTZ NOT NULL,
			forecast     JSONB NOT NULL,
			actual_sales BIGINT NOT NULL DEFAULT 0,
			weather      TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			season_id    TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS rounds_status_idx ON rounds (status);
		CREATE TABLE IF NOT EXISTS orders (
			owner_id     TEXT NOT NULL,
			round_id     TEXT NOT NULL,
			quantity     BIGINT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (owner_id, round_id)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id        TEXT PRIMARY KEY,
			owner_id  TEXT NOT NULL,
			round_id  TEXT NOT NULL,
			date      TEXT NOT NULL,
			ordered   BIGINT NOT NULL,
			sold      BIGINT NOT NULL,
			revenue   NUMERIC NOT NULL,
			cost      NUMERIC NOT NULL,
			net       NUMERIC NOT NULL,
			balance   NUMERIC NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transactions_owner_idx ON transactions (owner_id);
		CREATE INDEX IF NOT EXISTS transactions_round_idx ON transactions (round_id);
		CREATE TABLE IF NOT EXISTS seasons (
			id         TEXT PRIMARY KEY,
			number     INTEGER NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at   TIMESTAMPTZ,
			winner_id  TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS season_records (
			season_id TEXT NOT NULL,
			owner_id  TEXT NOT NULL,
			name      TEXT NOT NULL,
			balance   NUMERIC NOT NULL,
			target    NUMERIC NOT NULL,
			rank      INTEGER NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (season_id, owner_id)
		);`)
	return err
}

// --- Owners ---

func (s *PostgresStore) CreateOwner(ctx context.Context, o *model.Owner) error {
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO owners (id, name, balance, badges, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		o.ID, o.Name, o.Balance.String(), o.Badges, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: owner %s", ErrDuplicate, o.ID)
	}
	return nil
}

func (s *PostgresStore) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	var o model.Owner
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, balance::TEXT, badges, created_at, updated_at
		 FROM owners WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &balance, &o.Badges, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: owner %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get owner %s: %w", id, err)
	}
	o.Balance, _ = decimal.NewFromString(balance)
	return &o, nil
}

func (s *PostgresStore) ListOwners(ctx context.Context) ([]model.Owner, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, balance::TEXT, badges, created_at, updated_at
		 FROM owners ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []model.Owner
	for rows.Next() {
		var o model.Owner
		var balance string
		if err := rows.Scan(&o.ID, &o.Name, &balance, &o.Badges, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Balance, _ = decimal.NewFromString(balance)
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

func (s *PostgresStore) RenameOwner(ctx context.Context, id, name string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE owners SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: owner %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) DeleteOwner(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `DELETE FROM owners WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: owner %s", ErrNotFound, id)
	}
	for _, q := range []string{
		`DELETE FROM orders WHERE owner_id = $1`,
		`DELETE FROM transactions WHERE owner_id = $1`,
		`DELETE FROM season_records WHERE owner_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// --- Rounds ---

const roundColumns = `id, date, place, opens_at, closes_at, forecast,
	actual_sales, weather, status, season_id, created_at, updated_at`

func scanRound(row pgx.Row) (*model.Round, error) {
	var r model.Round
	var forecastJSON []byte

	err := row.Scan(&r.ID, &r.Date, &r.Place, &r.OpensAt, &r.ClosesAt,
		&forecastJSON, &r.ActualSales, &r.Weather, &r.Status, &r.SeasonID,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(forecastJSON, &r.Forecast); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) CreateRound(ctx context.Context, r *model.Round) error {
	forecastJSON, err := json.Marshal(r.Forecast)
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (`+roundColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (date) DO NOTHING`,
		r.ID, r.Date, r.Place, r.OpensAt, r.ClosesAt, forecastJSON,
		r.ActualSales, r.Weather, r.Status, r.SeasonID, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: round for %s", ErrDuplicate, r.Date)
	}
	return nil
}

func (s *PostgresStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: round %s", ErrNotFound, id)
	}
	return r, err
}

func (s *PostgresStore) GetRoundByDate(ctx context.Context, date string) (*model.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE date = $1`, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: round for %s", ErrNotFound, date)
	}
	return r, err
}

func (s *PostgresStore) RoundInStatus(ctx context.Context, status string) (*model.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds
		 WHERE status = $1 ORDER BY date DESC LIMIT 1`, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no round in status %s", ErrNotFound, status)
	}
	return r, err
}

func (s *PostgresStore) SetRoundStatus(ctx context.Context, id, from, to string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE rounds SET status = $3, updated_at = $4
		 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: round %s not in status %s", ErrConflict, id, from)
	}
	return nil
}

func (s *PostgresStore) CancelRoundsBefore(ctx context.Context, date string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rounds SET status = $2, updated_at = $3
		 WHERE date < $1 AND status = ANY($4)`,
		date, model.RoundCanceled, time.Now().UTC(),
		[]string{model.RoundScheduled, model.RoundOpen, model.RoundClosed})
	return err
}

// --- Orders ---

func (s *PostgresStore) UpsertOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (owner_id, round_id, quantity, submitted_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id, round_id)
		 DO UPDATE SET quantity = $3, submitted_at = $4`,
		o.OwnerID, o.RoundID, o.Quantity, o.SubmittedAt)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, ownerID, roundID string) (*model.Order, error) {
	var o model.Order
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, round_id, quantity, submitted_at
		 FROM orders WHERE owner_id = $1 AND round_id = $2`, ownerID, roundID).
		Scan(&o.OwnerID, &o.RoundID, &o.Quantity, &o.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s/%s", ErrNotFound, ownerID, roundID)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) OrdersByRound(ctx context.Context, roundID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner_id, round_id, quantity, submitted_at
		 FROM orders WHERE round_id = $1 ORDER BY owner_id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.OwnerID, &o.RoundID, &o.Quantity, &o.SubmittedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// --- Settlement and history ---

func (s *PostgresStore) ApplySettlement(ctx context.Context, st *Settlement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM rounds WHERE id = $1 FOR UPDATE`, st.RoundID).
		Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: round %s", ErrNotFound, st.RoundID)
	}
	if err != nil {
		return err
	}
	switch status {
	case model.RoundSettled:
		return ErrAlreadySettled
	case model.RoundClosed:
		// proceed
	default:
		return fmt.Errorf("%w: round %s is %s, not closed", ErrConflict, st.RoundID, status)
	}

	for _, e := range st.Entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transactions
				(id, owner_id, round_id, date, ordered, sold,
				 revenue, cost, net, balance, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6,
				 $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
			e.ID, e.OwnerID, e.RoundID, e.Date, e.Ordered, e.Sold,
			e.Revenue.String(), e.Cost.String(), e.Net.String(),
			e.Balance.String(), e.Timestamp); err != nil {
			return err
		}
		ct, err := tx.Exec(ctx,
			`UPDATE owners SET balance = $2::NUMERIC, updated_at = $3 WHERE id = $1`,
			e.OwnerID, e.Balance.String(), e.Timestamp)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("%w: owner %s", ErrNotFound, e.OwnerID)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rounds
		 SET actual_sales = $2, weather = $3, status = $4, updated_at = $5
		 WHERE id = $1`,
		st.RoundID, st.ActualSales, st.Weather, model.RoundSettled,
		time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) transactions(ctx context.Context, query string, arg any) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var revenue, cost, net, balance string
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.RoundID, &t.Date,
			&t.Ordered, &t.Sold, &revenue, &cost, &net, &balance,
			&t.Timestamp); err != nil {
			return nil, err
		}
		t.Revenue, _ = decimal.NewFromString(revenue)
		t.Cost, _ = decimal.NewFromString(cost)
		t.Net, _ = decimal.NewFromString(net)
		t.Balance, _ = decimal.NewFromString(balance)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) TransactionsByRound(ctx context.Context, roundID string) ([]model.Transaction, error) {
	return s.transactions(ctx,
		`SELECT id, owner_id, round_id, date, ordered, sold,
			revenue::TEXT, cost::TEXT, net::TEXT, balance::TEXT, timestamp
		 FROM transactions WHERE round_id = $1 ORDER BY owner_id`, roundID)
}

func (s *PostgresStore) TransactionsByOwner(ctx context.Context, ownerID string) ([]model.Transaction, error) {
	return s.transactions(ctx,
		`SELECT id, owner_id, round_id, date, ordered, sold,
			revenue::TEXT, cost::TEXT, net::TEXT, balance::TEXT, timestamp
		 FROM transactions WHERE owner_id = $1 ORDER BY timestamp`, ownerID)
}

// --- Seasons ---

func (s *PostgresStore) CreateSeason(ctx context.Context, season *model.Season) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seasons (id, number, started_at, ended_at, winner_id)
		 VALUES ($1, $2, $3, NULL, '')`,
		season.ID, season.Number, season.StartedAt)
	return err
}

func (s *PostgresStore) ActiveSeason(ctx context.Context) (*model.Season, error) {
	var season model.Season
	var endedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, number, started_at, ended_at, winner_id
		 FROM seasons WHERE ended_at IS NULL
		 ORDER BY number DESC LIMIT 1`).
		Scan(&season.ID, &season.Number, &season.StartedAt, &endedAt, &season.WinnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active season", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if endedAt != nil {
		season.EndedAt = *endedAt
	}
	return &season, nil
}

func (s *PostgresStore) ResetSeason(ctx context.Context, r *Reset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`UPDATE seasons SET ended_at = $2, winner_id = $3
		 WHERE id = $1 AND ended_at IS NULL`,
		r.SeasonID, r.EndedAt, r.WinnerID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: season %s not active", ErrConflict, r.SeasonID)
	}

	for _, rec := range r.Records {
		if _, err := tx.Exec(ctx,
			`INSERT INTO season_records
				(season_id, owner_id, name, balance, target, rank, timestamp)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
			rec.SeasonID, rec.OwnerID, rec.Name, rec.Balance.String(),
			rec.Target.String(), rec.Rank, rec.Timestamp); err != nil {
			return err
		}
	}
	if len(r.BadgeWinners) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE owners SET badges = badges + 1 WHERE id = ANY($1)`,
			r.BadgeWinners); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE owners SET balance = $1::NUMERIC, updated_at = $2`,
		r.SeedMoney.String(), r.EndedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO seasons (id, number, started_at, ended_at, winner_id)
		 VALUES ($1, $2, $3, NULL, '')`,
		r.Next.ID, r.Next.Number, r.Next.StartedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SeasonRecords(ctx context.Context, seasonID string) ([]model.SeasonRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT season_id, owner_id, name, balance::TEXT, target::TEXT, rank, timestamp
		 FROM season_records WHERE season_id = $1 ORDER BY rank`, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.SeasonRecord
	for rows.Next() {
		var rec model.SeasonRecord
		var balance, target string
		if err := rows.Scan(&rec.SeasonID, &rec.OwnerID, &rec.Name,
			&balance, &target, &rec.Rank, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Balance, _ = decimal.NewFromString(balance)
		rec.Target, _ = decimal.NewFromString(target)
		records = append(records, rec)
	}
	return records, rows.Err()
}
