/*
Package sqlite provides a SQLite-backed implementation of engine.TxStore.

PURPOSE:
  Durable relational persistence for the ROSCA engine. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  cycles, members, memberships:  Rotation setup
  collections, payments:         Per-period contribution ledger
  savings_accounts,
  savings_transactions:          Per-member running-total ledger
  loans, loan_transactions:      Disbursements and repayments

INVARIANTS ENFORCED IN SCHEMA:
  - UNIQUE(cycle_id, period) on collections: one collection per period
  - UNIQUE(collection_id, member_id) on payments: one payment per
    member per period
  - Partial UNIQUE(cycle_id, member_id) on loans: at most one loan per
    member per cycle (ad hoc loans carry an empty cycle_id and are
    exempt)
  - UNIQUE(loan_id, period) on loan_transactions: one repayment per slot

MONEY:
  Decimal amounts are stored as TEXT via decimal.String() and parsed
  back with decimal.NewFromString - no float round-trips.

CONCURRENCY:
  WithTx holds a process-wide mutex for the duration of the SQL
  transaction, serializing conflicting writers; the database commit
  makes the writes visible all-or-nothing. SQLite is opened in WAL mode
  so readers don't block.

USAGE:
  st, err := sqlite.New("./data/rosca.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()
  eng := engine.New(st)

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/rosca-engine/engine"
)

// Store implements engine.TxStore over SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		amount TEXT NOT NULL,
		total_periods INTEGER NOT NULL,
		current_period INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		joined_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memberships (
		cycle_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		join_period INTEGER NOT NULL,
		amount TEXT NOT NULL,
		benefit TEXT NOT NULL DEFAULT '0',
		contributed TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (cycle_id, member_id)
	);

	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		period INTEGER NOT NULL,
		expected TEXT NOT NULL,
		collected TEXT NOT NULL DEFAULT '0',
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		loan_disbursed BOOLEAN NOT NULL DEFAULT FALSE,
		loan_id TEXT NOT NULL DEFAULT '',
		loan_member_id TEXT NOT NULL DEFAULT '',
		loan_amount TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- One collection per (cycle, period)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_cycle_period
		ON collections(cycle_id, period);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL
	);

	-- A member pays at most once per period
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_collection_member
		ON payments(collection_id, member_id);

	CREATE TABLE IF NOT EXISTS savings_accounts (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL UNIQUE,
		total TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS savings_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		running_total TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Recompute hot path: date-ordered scan per account
	CREATE INDEX IF NOT EXISTS idx_savings_tx_account_date
		ON savings_transactions(account_id, date, created_at);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL DEFAULT '',
		member_id TEXT NOT NULL,
		collection_id TEXT NOT NULL DEFAULT '',
		principal TEXT NOT NULL,
		remaining TEXT NOT NULL,
		total_periods INTEGER NOT NULL,
		current_period INTEGER NOT NULL DEFAULT 0,
		periods_credited INTEGER NOT NULL DEFAULT 0,
		principal_paid TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		disbursed_period INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one loan per member per cycle. Ad hoc loans
	-- (empty cycle_id) are exempt.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_cycle_member
		ON loans(cycle_id, member_id) WHERE cycle_id != '';

	CREATE TABLE IF NOT EXISTS loan_transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		period INTEGER NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL
	);

	-- One repayment per slot
	CREATE UNIQUE INDEX IF NOT EXISTS idx_loan_tx_loan_period
		ON loan_transactions(loan_id, period);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside a SQL transaction. The store mutex is held for
// the duration so conflicting engine operations serialize: a give-loan
// re-checking loanDisbursed inside fn cannot interleave with another.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&view{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier abstracts *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// view implements engine.Store over a querier.
type view struct {
	q querier
}

func (s *Store) view() *view { return &view{q: s.db} }

// =============================================================================
// HELPERS
// =============================================================================

func mustDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// CYCLES / MEMBERS / MEMBERSHIPS
// =============================================================================

func (v *view) GetCycle(ctx context.Context, id engine.CycleID) (*engine.Cycle, error) {
	row := v.q.QueryRowContext(ctx, `
		SELECT id, name, amount, total_periods, current_period, active, created_at
		FROM cycles WHERE id = ?`, id)

	var c engine.Cycle
	var amount, createdAt string
	err := row.Scan(&c.ID, &c.Name, &amount, &c.TotalPeriods, &c.CurrentPeriod, &c.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrCycleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle: %w", err)
	}
	c.Amount = mustDecimal(amount)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (v *view) PutCycle(ctx context.Context, c *engine.Cycle) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO cycles (id, name, amount, total_periods, current_period, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			amount = excluded.amount,
			total_periods = excluded.total_periods,
			current_period = excluded.current_period,
			active = excluded.active`,
		c.ID, c.Name, c.Amount.String(), c.TotalPeriods, c.CurrentPeriod, c.Active, fmtTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to store cycle: %w", err)
	}
	return nil
}

func (v *view) GetMember(ctx context.Context, id engine.MemberID) (*engine.Member, error) {
	row := v.q.QueryRowContext(ctx, `SELECT id, name, joined_at FROM members WHERE id = ?`, id)

	var m engine.Member
	var joinedAt string
	err := row.Scan(&m.ID, &m.Name, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query member: %w", err)
	}
	m.JoinedAt = parseTime(joinedAt)
	return &m, nil
}

func (v *view) PutMember(ctx context.Context, m *engine.Member) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO members (id, name, joined_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		m.ID, m.Name, fmtTime(m.JoinedAt))
	if err != nil {
		return fmt.Errorf("failed to store member: %w", err)
	}
	return nil
}

func (v *view) Memberships(ctx context.Context, cycleID engine.CycleID) ([]*engine.Membership, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT cycle_id, member_id, join_period, amount, benefit, contributed
		FROM memberships WHERE cycle_id = ?
		ORDER BY join_period ASC, member_id ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var out []*engine.Membership
	for rows.Next() {
		ms, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

func (v *view) GetMembership(ctx context.Context, cycleID engine.CycleID, memberID engine.MemberID) (*engine.Membership, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT cycle_id, member_id, join_period, amount, benefit, contributed
		FROM memberships WHERE cycle_id = ? AND member_id = ?`, cycleID, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query membership: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, engine.ErrNotInCycle
	}
	return scanMembership(rows)
}

func scanMembership(rows *sql.Rows) (*engine.Membership, error) {
	var ms engine.Membership
	var amount, benefit, contributed string
	if err := rows.Scan(&ms.CycleID, &ms.MemberID, &ms.JoinPeriod, &amount, &benefit, &contributed); err != nil {
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}
	ms.Amount = mustDecimal(amount)
	ms.Benefit = mustDecimal(benefit)
	ms.Contributed = mustDecimal(contributed)
	return &ms, nil
}

func (v *view) PutMembership(ctx context.Context, ms *engine.Membership) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO memberships (cycle_id, member_id, join_period, amount, benefit, contributed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cycle_id, member_id) DO UPDATE SET
			join_period = excluded.join_period,
			amount = excluded.amount,
			benefit = excluded.benefit,
			contributed = excluded.contributed`,
		ms.CycleID, ms.MemberID, ms.JoinPeriod, ms.Amount.String(), ms.Benefit.String(), ms.Contributed.String())
	if err != nil {
		return fmt.Errorf("failed to store membership: %w", err)
	}
	return nil
}

// =============================================================================
// COLLECTIONS / PAYMENTS
// =============================================================================

const collectionCols = `id, cycle_id, period, expected, collected, completed,
	loan_disbursed, loan_id, loan_member_id, loan_amount, created_at`

func scanCollection(rows *sql.Rows) (*engine.Collection, error) {
	var c engine.Collection
	var expected, collected, loanAmount, createdAt string
	err := rows.Scan(&c.ID, &c.CycleID, &c.Period, &expected, &collected, &c.Completed,
		&c.LoanDisbursed, &c.LoanID, &c.LoanMemberID, &loanAmount, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}
	c.Expected = mustDecimal(expected)
	c.Collected = mustDecimal(collected)
	c.LoanAmount = mustDecimal(loanAmount)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (v *view) queryCollections(ctx context.Context, where string, args ...any) ([]*engine.Collection, error) {
	rows, err := v.q.QueryContext(ctx,
		`SELECT `+collectionCols+` FROM collections `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var out []*engine.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (v *view) GetCollection(ctx context.Context, cycleID engine.CycleID, period int) (*engine.Collection, error) {
	cols, err := v.queryCollections(ctx, `WHERE cycle_id = ? AND period = ?`, cycleID, period)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, engine.ErrCollectionNotFound
	}
	return cols[0], nil
}

func (v *view) GetCollectionByID(ctx context.Context, id engine.CollectionID) (*engine.Collection, error) {
	cols, err := v.queryCollections(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, engine.ErrCollectionNotFound
	}
	return cols[0], nil
}

func (v *view) Collections(ctx context.Context, cycleID engine.CycleID) ([]*engine.Collection, error) {
	return v.queryCollections(ctx, `WHERE cycle_id = ? ORDER BY period ASC`, cycleID)
}

func (v *view) PutCollection(ctx context.Context, c *engine.Collection) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO collections
		(id, cycle_id, period, expected, collected, completed,
		 loan_disbursed, loan_id, loan_member_id, loan_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			expected = excluded.expected,
			collected = excluded.collected,
			completed = excluded.completed,
			loan_disbursed = excluded.loan_disbursed,
			loan_id = excluded.loan_id,
			loan_member_id = excluded.loan_member_id,
			loan_amount = excluded.loan_amount`,
		c.ID, c.CycleID, c.Period, c.Expected.String(), c.Collected.String(), c.Completed,
		c.LoanDisbursed, c.LoanID, c.LoanMemberID, c.LoanAmount.String(), fmtTime(c.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateCollection
		}
		return fmt.Errorf("failed to store collection: %w", err)
	}
	return nil
}

func scanPayment(rows *sql.Rows) (*engine.Payment, error) {
	var p engine.Payment
	var amount, date string
	if err := rows.Scan(&p.ID, &p.CollectionID, &p.MemberID, &amount, &date, &p.Status); err != nil {
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	p.Amount = mustDecimal(amount)
	p.Date = parseTime(date)
	return &p, nil
}

func (v *view) GetPayment(ctx context.Context, collectionID engine.CollectionID, memberID engine.MemberID) (*engine.Payment, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, collection_id, member_id, amount, date, status
		FROM payments WHERE collection_id = ? AND member_id = ?`, collectionID, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, engine.ErrPaymentNotFound
	}
	return scanPayment(rows)
}

func (v *view) Payments(ctx context.Context, collectionID engine.CollectionID) ([]*engine.Payment, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, collection_id, member_id, amount, date, status
		FROM payments WHERE collection_id = ?
		ORDER BY member_id ASC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []*engine.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (v *view) PutPayment(ctx context.Context, p *engine.Payment) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO payments (id, collection_id, member_id, amount, date, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			date = excluded.date,
			status = excluded.status`,
		p.ID, p.CollectionID, p.MemberID, p.Amount.String(), fmtTime(p.Date), p.Status)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to store payment: %w", err)
	}
	return nil
}

// =============================================================================
// SAVINGS
// =============================================================================

func (v *view) AccountByMember(ctx context.Context, memberID engine.MemberID) (*engine.SavingsAccount, error) {
	return v.queryAccount(ctx, `WHERE member_id = ?`, memberID)
}

func (v *view) AccountByID(ctx context.Context, id engine.AccountID) (*engine.SavingsAccount, error) {
	return v.queryAccount(ctx, `WHERE id = ?`, id)
}

func (v *view) queryAccount(ctx context.Context, where string, arg any) (*engine.SavingsAccount, error) {
	row := v.q.QueryRowContext(ctx, `SELECT id, member_id, total FROM savings_accounts `+where, arg)

	var a engine.SavingsAccount
	var total string
	err := row.Scan(&a.ID, &a.MemberID, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query savings account: %w", err)
	}
	a.Total = mustDecimal(total)
	return &a, nil
}

func (v *view) PutAccount(ctx context.Context, a *engine.SavingsAccount) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO savings_accounts (id, member_id, total) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET total = excluded.total`,
		a.ID, a.MemberID, a.Total.String())
	if err != nil {
		return fmt.Errorf("failed to store savings account: %w", err)
	}
	return nil
}

func scanSavingsTx(rows *sql.Rows) (*engine.SavingsTransaction, error) {
	var tx engine.SavingsTransaction
	var amount, date, running, createdAt string
	if err := rows.Scan(&tx.ID, &tx.AccountID, &amount, &date, &running, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan savings transaction: %w", err)
	}
	tx.Amount = mustDecimal(amount)
	tx.Date = parseTime(date)
	tx.RunningTotal = mustDecimal(running)
	tx.CreatedAt = parseTime(createdAt)
	return &tx, nil
}

func (v *view) GetSavingsTransaction(ctx context.Context, id engine.TransactionID) (*engine.SavingsTransaction, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, account_id, amount, date, running_total, created_at
		FROM savings_transactions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query savings transaction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, engine.ErrTransactionNotFound
	}
	return scanSavingsTx(rows)
}

func (v *view) SavingsTransactions(ctx context.Context, accountID engine.AccountID) ([]*engine.SavingsTransaction, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, account_id, amount, date, running_total, created_at
		FROM savings_transactions WHERE account_id = ?
		ORDER BY date ASC, created_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query savings transactions: %w", err)
	}
	defer rows.Close()

	var out []*engine.SavingsTransaction
	for rows.Next() {
		tx, err := scanSavingsTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (v *view) PutSavingsTransaction(ctx context.Context, tx *engine.SavingsTransaction) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO savings_transactions (id, account_id, amount, date, running_total, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			date = excluded.date,
			running_total = excluded.running_total`,
		tx.ID, tx.AccountID, tx.Amount.String(), fmtTime(tx.Date), tx.RunningTotal.String(), fmtTime(tx.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to store savings transaction: %w", err)
	}
	return nil
}

func (v *view) DeleteSavingsTransaction(ctx context.Context, id engine.TransactionID) error {
	res, err := v.q.ExecContext(ctx, `DELETE FROM savings_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete savings transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrTransactionNotFound
	}
	return nil
}

// =============================================================================
// LOANS
// =============================================================================

const loanCols = `id, cycle_id, member_id, collection_id, principal, remaining,
	total_periods, current_period, periods_credited, principal_paid, status,
	disbursed_period, created_at`

func scanLoan(rows *sql.Rows) (*engine.Loan, error) {
	var l engine.Loan
	var principal, remaining, paid, createdAt string
	err := rows.Scan(&l.ID, &l.CycleID, &l.MemberID, &l.CollectionID, &principal, &remaining,
		&l.TotalPeriods, &l.CurrentPeriod, &l.PeriodsCredited, &paid, &l.Status,
		&l.DisbursedPeriod, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan loan: %w", err)
	}
	l.Principal = mustDecimal(principal)
	l.Remaining = mustDecimal(remaining)
	l.PrincipalPaid = mustDecimal(paid)
	l.CreatedAt = parseTime(createdAt)
	return &l, nil
}

func (v *view) queryLoans(ctx context.Context, where string, args ...any) ([]*engine.Loan, error) {
	rows, err := v.q.QueryContext(ctx, `SELECT `+loanCols+` FROM loans `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var out []*engine.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (v *view) GetLoan(ctx context.Context, id engine.LoanID) (*engine.Loan, error) {
	loans, err := v.queryLoans(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		return nil, engine.ErrLoanNotFound
	}
	return loans[0], nil
}

func (v *view) LoanByMember(ctx context.Context, cycleID engine.CycleID, memberID engine.MemberID) (*engine.Loan, error) {
	loans, err := v.queryLoans(ctx, `WHERE cycle_id = ? AND member_id = ?`, cycleID, memberID)
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		return nil, engine.ErrLoanNotFound
	}
	return loans[0], nil
}

func (v *view) Loans(ctx context.Context, cycleID engine.CycleID) ([]*engine.Loan, error) {
	return v.queryLoans(ctx, `WHERE cycle_id = ? ORDER BY disbursed_period ASC`, cycleID)
}

func (v *view) PutLoan(ctx context.Context, l *engine.Loan) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO loans
		(id, cycle_id, member_id, collection_id, principal, remaining,
		 total_periods, current_period, periods_credited, principal_paid, status,
		 disbursed_period, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remaining = excluded.remaining,
			current_period = excluded.current_period,
			periods_credited = excluded.periods_credited,
			principal_paid = excluded.principal_paid,
			status = excluded.status`,
		l.ID, l.CycleID, l.MemberID, l.CollectionID, l.Principal.String(), l.Remaining.String(),
		l.TotalPeriods, l.CurrentPeriod, l.PeriodsCredited, l.PrincipalPaid.String(), l.Status,
		l.DisbursedPeriod, fmtTime(l.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateLoan
		}
		return fmt.Errorf("failed to store loan: %w", err)
	}
	return nil
}

func (v *view) DeleteLoan(ctx context.Context, id engine.LoanID) error {
	res, err := v.q.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrLoanNotFound
	}
	return nil
}

func (v *view) LoanTransactions(ctx context.Context, loanID engine.LoanID) ([]*engine.LoanTransaction, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, loan_id, period, amount, date
		FROM loan_transactions WHERE loan_id = ?
		ORDER BY period ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query loan transactions: %w", err)
	}
	defer rows.Close()

	var out []*engine.LoanTransaction
	for rows.Next() {
		var tx engine.LoanTransaction
		var amount, date string
		if err := rows.Scan(&tx.ID, &tx.LoanID, &tx.Period, &amount, &date); err != nil {
			return nil, fmt.Errorf("failed to scan loan transaction: %w", err)
		}
		tx.Amount = mustDecimal(amount)
		tx.Date = parseTime(date)
		out = append(out, &tx)
	}
	return out, rows.Err()
}

func (v *view) PutLoanTransaction(ctx context.Context, tx *engine.LoanTransaction) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO loan_transactions (id, loan_id, period, amount, date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			date = excluded.date`,
		tx.ID, tx.LoanID, tx.Period, tx.Amount.String(), fmtTime(tx.Date))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &engine.PeriodAlreadyPaidError{LoanID: tx.LoanID, Period: tx.Period}
		}
		return fmt.Errorf("failed to store loan transaction: %w", err)
	}
	return nil
}

func (v *view) DeleteLoanTransactions(ctx context.Context, loanID engine.LoanID) error {
	_, err := v.q.ExecContext(ctx, `DELETE FROM loan_transactions WHERE loan_id = ?`, loanID)
	if err != nil {
		return fmt.Errorf("failed to delete loan transactions: %w", err)
	}
	return nil
}

// =============================================================================
// DIRECT (AUTO-COMMIT) STORE METHODS
// =============================================================================
// Reads go straight to the database; writes take the store mutex so a
// stray out-of-transaction write cannot interleave with WithTx.

func (s *Store) GetCycle(ctx context.Context, id engine.CycleID) (*engine.Cycle, error) {
	return s.view().GetCycle(ctx, id)
}

func (s *Store) PutCycle(ctx context.Context, c *engine.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PutCycle(ctx, c)
}

func (s *Store) GetMember(ctx context.Context, id engine.MemberID) (*engine.Member, error) {
	return s.view().GetMember(ctx, id)
}

func (s *Store) PutMember(ctx context.Context, m *engine.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PutMember(ctx, m)
}

func (s *Store) Memberships(ctx context.Context, cycleID engine.CycleID) ([]*engine.Membership, error) {
	return s.view().Memberships(ctx, cycleID)
}

func (s *Store) GetMembership(ctx context.Context, cycleID engine.CycleID, memberID engine.MemberID) (*engine.Membership, error) {
	return s.view().GetMembership(ctx, cycleID, memberID)
}

func (s *Store) PutMembership(ctx context.Context, ms *engine.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PutMembership(ctx, ms)
}

func (s *Store) GetCollection(ctx context.Context, cycleID engine.CycleID, period int) (*engine.Collection, error) {
	return s.view().GetCollection(ctx, cycleID, period)
}

func (s *Store) GetCollectionByID(ctx context.Context, id engine.CollectionID) (*engine.Collection, error) {
	return s.view().GetCollectionByID(ctx, id)
}

func (s *Store) Collections(ctx context.Context, cycleID engine.CycleID) ([]*engine.Collection, error) {
	return s.view().Collections(ctx, cycleID)
}

func (s *Store) PutCollection(ctx context.Context, c *engine.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PutCollection(ctx, c)
}

func (s *Store) GetPayment(ctx context.Context, collectionID engine.CollectionID, memberID engine.MemberID) (*engine.Payment, error) {
	return s.view().GetPayment(ctx, collectionID, memberID)
}

func (s *Store) Payments(ctx context.Context, collectionID engine.CollectionID) ([]*engine.Payment, error) {
	return s.view().Payments(ctx, collectionID)
}

func (s *Store) PutPayment(ctx context.Context, p *engine.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PutPayment(ctx, p)
}

func (s *Store) AccountByMember(ctx context.Context, memberID engine.MemberID) (*engine.SavingsAccount, error) {
	return s.view().AccountByMember(ctx, memberID)
}

func (s *Store) AccountByID(ctx context.Context, id engine.AccountID) (*engine.SavingsAccount, error) {
	return s.view().AccountByID(ctx, id)
}

func (s *Store) PutAccount(ctx context.Context, a *engine.SavingsAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PutAccount(ctx, a)
}

func (s *Store) GetSavingsTransaction(ctx context.Context, id engine.TransactionID) (*engine.SavingsTransaction, error) {
	return s.view().GetSavingsTransaction(ctx, id)
}

func (s *Store) SavingsTransactions(ctx context.Context, accountID engine.AccountID) ([]*engine.SavingsTransaction, error) {
	return s.view().SavingsTransactions(ctx, accountID)
}

func (s *Store) PutSavingsTransaction(ctx context.Context, tx *engine.SavingsTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PutSavingsTransaction(ctx, tx)
}

func (s *Store) DeleteSavingsTransaction(ctx context.Context, id engine.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteSavingsTransaction(ctx, id)
}

func (s *Store) GetLoan(ctx context.Context, id engine.LoanID) (*engine.Loan, error) {
	return s.view().GetLoan(ctx, id)
}

func (s *Store) LoanByMember(ctx context.Context, cycleID engine.CycleID, memberID engine.MemberID) (*engine.Loan, error) {
	return s.view().LoanByMember(ctx, cycleID, memberID)
}

func (s *Store) Loans(ctx context.Context, cycleID engine.CycleID) ([]*engine.Loan, error) {
	return s.view().Loans(ctx, cycleID)
}

func (s *Store) PutLoan(ctx context.Context, l *engine.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PutLoan(ctx, l)
}

func (s *Store) DeleteLoan(ctx context.Context, id engine.LoanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteLoan(ctx, id)
}

func (s *Store) LoanTransactions(ctx context.Context, loanID engine.LoanID) ([]*engine.LoanTransaction, error) {
	return s.view().LoanTransactions(ctx, loanID)
}

func (s *Store) PutLoanTransaction(ctx context.Context, tx *engine.LoanTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PutLoanTransaction(ctx, tx)
}

func (s *Store) DeleteLoanTransactions(ctx context.Context, loanID engine.LoanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteLoanTransactions(ctx, loanID)
}
