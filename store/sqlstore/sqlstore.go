/*
Package sqlstore provides a database/sql implementation of ledger.Store.

PURPOSE:
  Persists apartments, categories, expenses and payments, plus the two
  derived tables the engine writes: the running ledger totals and the
  audit trail of payment event generation runs.

DRIVERS:
  sqlite3   (default) mattn/go-sqlite3. Use ":memory:" for tests.
  postgres  lib/pq.

  Queries are written once with "?" placeholders and rebound to "$1.."
  for postgres. Everything else is portable SQL: TEXT money columns,
  RFC3339 timestamps, INSERT .. ON CONFLICT upserts.

  Expense dates keep their UTC offset, so an expense booked at
  2024-03-01T00:30+02:00 stays in 2024-03 after a round trip.

KEY TABLES:
  apartments, categories: reference data
  expenses:               owed/paid apartment lists stored as JSON arrays
  payments:               one row per money movement
  ledger_totals:          running (apartment, month) income/expense cells
  generation_runs:        scheduler audit trail, per-category results as JSON

ATOMICITY:
  TransitionPayment reads the payment, updates it and read-modify-writes
  every affected ledger_totals cell in one SQL transaction. The update is
  a compare-and-swap on the status that was read (plus FOR UPDATE on
  postgres), so a writer in another process makes it fail with
  ErrConcurrentUpdate instead of double-applying deltas. CreatePayment
  inserts a payment with its deltas the same way. SavePayments inserts a
  whole batch or nothing.

CONCURRENCY:
  Uses sync.RWMutex around every call, like the in-memory store. SQLite is
  additionally limited to one open connection so ":memory:" databases are
  shared by every query.

USAGE:
  store, err := sqlstore.New("sqlite3", "./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store, nil)

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/apartment-ledger/ledger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements ledger.Store on database/sql.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
	now    func() time.Time
}

var _ ledger.Store = (*Store)(nil)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database and migrates the schema.
func New(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_journal_mode=WAL"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS apartments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_payment_event BOOLEAN NOT NULL DEFAULT FALSE,
			auto_generate BOOLEAN NOT NULL DEFAULT FALSE,
			monthly_amount TEXT,
			day_of_month INTEGER,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			description TEXT,
			amount TEXT NOT NULL,
			expense_date TEXT NOT NULL,
			category_id TEXT,
			paid_by_apartment TEXT NOT NULL,
			owed_by_json TEXT NOT NULL,
			per_apartment_share TEXT NOT NULL,
			paid_by_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_date ON expenses(expense_date)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			payer_id TEXT,
			payee_id TEXT,
			apartment_id TEXT,
			amount TEXT NOT NULL,
			status TEXT NOT NULL,
			category TEXT,
			month_year TEXT NOT NULL,
			reason TEXT,
			expense_id TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_month ON payments(month_year)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
		`CREATE TABLE IF NOT EXISTS ledger_totals (
			apartment_id TEXT NOT NULL,
			month_year TEXT NOT NULL,
			total_income TEXT NOT NULL,
			total_expenses TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (apartment_id, month_year)
		)`,
		`CREATE TABLE IF NOT EXISTS generation_runs (
			id TEXT PRIMARY KEY,
			trigger_source TEXT NOT NULL,
			target_month TEXT NOT NULL,
			forced BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			events_created INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			results_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_generation_runs_started ON generation_runs(started_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts "?" placeholders to "$n" for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) timestamp() string {
	return s.now().Format(time.RFC3339)
}

// =============================================================================
// APARTMENTS
// =============================================================================

func (s *Store) SaveApartment(ctx context.Context, a ledger.Apartment) error {
	if err := ledger.ValidateApartment(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO apartments (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query), a.ID, a.Name, s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to save apartment: %w", err)
	}
	return nil
}

func (s *Store) ListApartments(ctx context.Context) ([]ledger.Apartment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM apartments ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query apartments: %w", err)
	}
	defer rows.Close()

	var apartments []ledger.Apartment
	for rows.Next() {
		var a ledger.Apartment
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, err
		}
		apartments = append(apartments, a)
	}
	return apartments, rows.Err()
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Store) SaveCategory(ctx context.Context, c ledger.Category) error {
	if err := ledger.ValidateCategory(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO categories (id, name, is_payment_event, auto_generate, monthly_amount, day_of_month, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_payment_event = excluded.is_payment_event,
			auto_generate = excluded.auto_generate,
			monthly_amount = excluded.monthly_amount,
			day_of_month = excluded.day_of_month
	`
	var amount sql.NullString
	if c.MonthlyAmount.Valid {
		amount = sql.NullString{String: c.MonthlyAmount.Decimal.String(), Valid: true}
	}
	var day sql.NullInt64
	if c.DayOfMonth != nil {
		day = sql.NullInt64{Int64: int64(*c.DayOfMonth), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		c.ID, c.Name, c.IsPaymentEvent, c.AutoGenerate, amount, day, s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]ledger.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, is_payment_event, auto_generate, monthly_amount, day_of_month
		FROM categories ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []ledger.Category
	for rows.Next() {
		var (
			c      ledger.Category
			amount sql.NullString
			day    sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.IsPaymentEvent, &c.AutoGenerate, &amount, &day); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if amount.Valid {
			d, err := decimal.NewFromString(amount.String)
			if err != nil {
				return nil, fmt.Errorf("category %s: bad monthly_amount: %w", c.ID, err)
			}
			c.MonthlyAmount = decimal.NewNullDecimal(d)
		}
		if day.Valid {
			n := int(day.Int64)
			c.DayOfMonth = &n
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// =============================================================================
// EXPENSES
// =============================================================================

const expenseColumns = `id, description, amount, expense_date, category_id, paid_by_apartment,
	owed_by_json, per_apartment_share, paid_by_json`

// SaveExpense inserts or replaces an expense.
func (s *Store) SaveExpense(ctx context.Context, e ledger.Expense) error {
	if err := ledger.ValidateExpense(e); err != nil {
		return err
	}
	owedJSON, err := json.Marshal(nonNilIDs(e.OwedByApartments))
	if err != nil {
		return err
	}
	paidJSON, err := json.Marshal(nonNilIDs(e.PaidByApartments))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO expenses (` + expenseColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			amount = excluded.amount,
			expense_date = excluded.expense_date,
			category_id = excluded.category_id,
			paid_by_apartment = excluded.paid_by_apartment,
			owed_by_json = excluded.owed_by_json,
			per_apartment_share = excluded.per_apartment_share,
			paid_by_json = excluded.paid_by_json
	`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		e.ID, nullString(e.Description), e.Amount.String(), e.Date.Format(time.RFC3339Nano),
		nullString(string(e.CategoryID)), e.PaidByApartment, string(owedJSON),
		e.PerApartmentShare.String(), string(paidJSON), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to save expense: %w", err)
	}
	return nil
}

func (s *Store) GetExpense(ctx context.Context, id ledger.ExpenseID) (*ledger.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+expenseColumns+" FROM expenses WHERE id = ?"), id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListExpenses(ctx context.Context) ([]ledger.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+expenseColumns+" FROM expenses ORDER BY expense_date, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []ledger.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (ledger.Expense, error) {
	var (
		e                     ledger.Expense
		description, category sql.NullString
		amount, share, date   string
		owedJSON, paidJSON    string
	)
	err := row.Scan(&e.ID, &description, &amount, &date, &category, &e.PaidByApartment,
		&owedJSON, &share, &paidJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan expense: %w", err)
	}

	e.Description = description.String
	e.CategoryID = ledger.CategoryID(category.String)
	if e.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
		return e, fmt.Errorf("expense %s: bad date: %w", e.ID, err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return e, fmt.Errorf("expense %s: bad amount: %w", e.ID, err)
	}
	if e.PerApartmentShare, err = decimal.NewFromString(share); err != nil {
		return e, fmt.Errorf("expense %s: bad share: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(owedJSON), &e.OwedByApartments); err != nil {
		return e, fmt.Errorf("expense %s: bad owed list: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(paidJSON), &e.PaidByApartments); err != nil {
		return e, fmt.Errorf("expense %s: bad paid list: %w", e.ID, err)
	}
	return e, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, payer_id, payee_id, apartment_id, amount, status, category,
	month_year, reason, expense_id, created_at`

func (s *Store) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+paymentColumns+" FROM payments WHERE id = ?"), id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPayments(ctx context.Context) ([]ledger.Payment, error) {
	return s.queryPayments(ctx, "SELECT "+paymentColumns+" FROM payments ORDER BY month_year, created_at, id")
}

func (s *Store) ListPaymentsByMonth(ctx context.Context, month ledger.MonthYear) ([]ledger.Payment, error) {
	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE month_year = ? ORDER BY created_at, id", month)
}

// ListSettledPayments matches approved and paid in any letter case.
func (s *Store) ListSettledPayments(ctx context.Context) ([]ledger.Payment, error) {
	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE LOWER(status) IN (?, ?) ORDER BY month_year, created_at, id",
		ledger.StatusApproved, ledger.StatusPaid)
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (ledger.Payment, error) {
	var (
		p                                         ledger.Payment
		payer, payee, apartment, category, reason sql.NullString
		expenseID                                 sql.NullString
		amount, status, month, createdAt          string
	)
	err := row.Scan(&p.ID, &payer, &payee, &apartment, &amount, &status, &category,
		&month, &reason, &expenseID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.PayerID = payer.String
	p.PayeeID = payee.String
	p.ApartmentID = ledger.ApartmentID(apartment.String)
	p.Status = ledger.PaymentStatus(status)
	p.Category = ledger.PaymentCategory(category.String)
	p.MonthYear = ledger.MonthYear(month)
	p.Reason = reason.String
	p.ExpenseID = ledger.ExpenseID(expenseID.String)
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return p, fmt.Errorf("payment %s: bad created_at: %w", p.ID, err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return p, fmt.Errorf("payment %s: bad amount: %w", p.ID, err)
	}
	return p, nil
}

// SavePayments inserts a batch of new payments atomically.
func (s *Store) SavePayments(ctx context.Context, payments []ledger.Payment) error {
	seen := make(map[ledger.PaymentID]bool, len(payments))
	for _, p := range payments {
		if err := ledger.ValidatePayment(p); err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: payment %s", ledger.ErrDuplicateRecord, p.ID)
		}
		seen[p.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, p := range payments {
		if err := s.insertPayment(ctx, sqlTx, p); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// CreatePayment inserts one payment and applies its deltas in one SQL
// transaction.
func (s *Store) CreatePayment(ctx context.Context, p ledger.Payment, deltas []ledger.PaymentDelta) error {
	if err := ledger.ValidatePayment(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.insertPayment(ctx, sqlTx, p); err != nil {
		return err
	}
	if err := s.applyDeltas(ctx, sqlTx, deltas); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) insertPayment(ctx context.Context, tx execer, p ledger.Payment) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, nullString(p.PayerID), nullString(p.PayeeID), nullString(string(p.ApartmentID)),
		p.Amount.String(), string(p.Status), nullString(string(p.Category)),
		p.MonthYear, nullString(p.Reason), nullString(string(p.ExpenseID)),
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: payment %s", ledger.ErrDuplicateRecord, p.ID)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// TransitionPayment reads the payment, runs fn and writes the result with
// its deltas in one SQL transaction. The UPDATE only matches while the
// status is still the one fn saw.
func (s *Store) TransitionPayment(ctx context.Context, id ledger.PaymentID, fn ledger.TransitionFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := "SELECT " + paymentColumns + " FROM payments WHERE id = ?"
	if s.driver == DriverPostgres {
		query += " FOR UPDATE"
	}
	current, err := scanPayment(sqlTx.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrPaymentNotFound, id)
	}
	if err != nil {
		return err
	}

	p, deltas, err := fn(current)
	if err != nil {
		return err
	}
	if p.ID != id {
		return fmt.Errorf("%w: transition changed payment id %s to %s", ledger.ErrInvalidRecord, id, p.ID)
	}
	if err := ledger.ValidatePayment(p); err != nil {
		return err
	}

	res, err := sqlTx.ExecContext(ctx, s.rebind(`
		UPDATE payments SET
			payer_id = ?, payee_id = ?, apartment_id = ?, amount = ?, status = ?,
			category = ?, month_year = ?, reason = ?, expense_id = ?
		WHERE id = ? AND status = ?
	`),
		nullString(p.PayerID), nullString(p.PayeeID), nullString(string(p.ApartmentID)),
		p.Amount.String(), string(p.Status), nullString(string(p.Category)),
		p.MonthYear, nullString(p.Reason), nullString(string(p.ExpenseID)),
		id, string(current.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: payment %s left status %s", ledger.ErrConcurrentUpdate, id, current.Status)
	}

	if err := s.applyDeltas(ctx, sqlTx, deltas); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// LEDGER TOTALS
// =============================================================================

func (s *Store) ApplyDeltas(ctx context.Context, deltas []ledger.PaymentDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.applyDeltas(ctx, sqlTx, deltas); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// applyDeltas read-modify-writes each cell. Decimal arithmetic happens in
// Go so TEXT columns never go through float conversion.
func (s *Store) applyDeltas(ctx context.Context, tx execer, deltas []ledger.PaymentDelta) error {
	selectQuery := s.rebind(`
		SELECT total_income, total_expenses FROM ledger_totals
		WHERE apartment_id = ? AND month_year = ?
	`)
	upsertQuery := s.rebind(`
		INSERT INTO ledger_totals (apartment_id, month_year, total_income, total_expenses, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(apartment_id, month_year) DO UPDATE SET
			total_income = excluded.total_income,
			total_expenses = excluded.total_expenses,
			updated_at = excluded.updated_at
	`)

	for _, d := range deltas {
		total := ledger.LedgerTotal{ApartmentID: d.ApartmentID, MonthYear: d.MonthYear}
		var income, expenses string
		err := tx.QueryRowContext(ctx, selectQuery, d.ApartmentID, d.MonthYear).Scan(&income, &expenses)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to read ledger total: %w", err)
		default:
			if total, err = parseTotal(total, income, expenses); err != nil {
				return err
			}
		}

		total = total.Apply(d)
		if _, err := tx.ExecContext(ctx, upsertQuery,
			total.ApartmentID, total.MonthYear,
			total.TotalIncome.String(), total.TotalExpenses.String(), s.timestamp(),
		); err != nil {
			return fmt.Errorf("failed to write ledger total: %w", err)
		}
	}
	return nil
}

// LedgerTotals returns the running totals for a month, or every month when
// month is empty.
func (s *Store) LedgerTotals(ctx context.Context, month ledger.MonthYear) ([]ledger.LedgerTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT apartment_id, month_year, total_income, total_expenses FROM ledger_totals"
	var args []any
	if month != "" {
		query += " WHERE month_year = ?"
		args = append(args, month)
	}
	query += " ORDER BY month_year, apartment_id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger totals: %w", err)
	}
	defer rows.Close()

	var totals []ledger.LedgerTotal
	for rows.Next() {
		var t ledger.LedgerTotal
		var income, expenses string
		if err := rows.Scan(&t.ApartmentID, &t.MonthYear, &income, &expenses); err != nil {
			return nil, err
		}
		if t, err = parseTotal(t, income, expenses); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

// runTimeLayout keeps fixed-width fractions so started_at sorts as text.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *Store) RecordRun(ctx context.Context, run ledger.GenerationRun) error {
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO generation_runs (id, trigger_source, target_month, forced, started_at, finished_at,
			events_created, skipped, failed, error, results_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		run.ID, run.Trigger, run.TargetMonth, run.Force,
		run.StartedAt.UTC().Format(runTimeLayout), run.FinishedAt.UTC().Format(runTimeLayout),
		run.EventsCreated, run.Skipped, run.Failed, nullString(run.Error), string(resultsJSON),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: generation run %s", ledger.ErrDuplicateRecord, run.ID)
		}
		return fmt.Errorf("failed to save generation run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]ledger.GenerationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, trigger_source, target_month, forced, started_at, finished_at,
			events_created, skipped, failed, error, results_json
		FROM generation_runs
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.GenerationRun
	for rows.Next() {
		var (
			r                     ledger.GenerationRun
			startedAt, finishedAt string
			runErr                sql.NullString
			resultsJSON           string
		)
		if err := rows.Scan(&r.ID, &r.Trigger, &r.TargetMonth, &r.Force, &startedAt, &finishedAt,
			&r.EventsCreated, &r.Skipped, &r.Failed, &runErr, &resultsJSON); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(runTimeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(runTimeLayout, finishedAt); err != nil {
			return nil, fmt.Errorf("run %s: bad finished_at: %w", r.ID, err)
		}
		r.Error = runErr.String
		if err := json.Unmarshal([]byte(resultsJSON), &r.Results); err != nil {
			return nil, fmt.Errorf("run %s: bad results: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Helper functions

func parseTotal(t ledger.LedgerTotal, income, expenses string) (ledger.LedgerTotal, error) {
	var err error
	if t.TotalIncome, err = decimal.NewFromString(income); err != nil {
		return t, fmt.Errorf("ledger total %s/%s: bad total_income: %w", t.ApartmentID, t.MonthYear, err)
	}
	if t.TotalExpenses, err = decimal.NewFromString(expenses); err != nil {
		return t, fmt.Errorf("ledger total %s/%s: bad total_expenses: %w", t.ApartmentID, t.MonthYear, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nonNilIDs(ids []ledger.ApartmentID) []ledger.ApartmentID {
	if ids == nil {
		return []ledger.ApartmentID{}
	}
	return ids
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
