/*
ledger.go - Savings ledger with clamped running totals

PURPOSE:
  Maintains each member's savings account: an ordered, signed
  transaction log plus a cached running total. Positive entries are
  contributions, negative entries are disbursed-out deductions.

RECOMPUTE POLICY (the correctness baseline):
  1. Order the account's transactions by date ascending (created-at
     breaks ties).
  2. Walk the sequence with running = max(0, running + amount): a
     deduction reduces the total but can never drive it below zero.
  3. Store the running value on every transaction ("total as of") and
     the final value on the account.

  Edits and deletes recompute ALL of the account's transactions, not
  just the suffix after the edited one - dates may be edited out of
  chronological order. The recompute is all-or-nothing inside WithTx so
  concurrent readers never observe a half-updated ledger.

DEDUPE:
  AppendDeduped guards the payment path against double-application when
  a collection is recreated after deletion: an entry with the same
  account, date and amount is not appended twice.

SEE ALSO:
  - contribution.go: Drives AppendDeduped on every successful payment
  - loan.go: Records disbursement deductions for ad hoc loans
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SAVINGS LEDGER
// =============================================================================

// SavingsLedger owns all mutations of savings accounts and their logs.
type SavingsLedger struct {
	Store TxStore
	Clock func() time.Time
}

// Append records a signed entry and recomputes the account's totals.
func (l *SavingsLedger) Append(ctx context.Context, accountID AccountID, amount decimal.Decimal, date time.Time) (*SavingsTransaction, error) {
	var out *SavingsTransaction
	err := l.Store.WithTx(ctx, func(s Store) error {
		tx, err := l.appendIn(ctx, s, accountID, amount, date)
		out = tx
		return err
	})
	if err != nil {
		return nil, storeFail("savings append", err)
	}
	return out, nil
}

// Edit changes a transaction's amount and/or date, then recomputes the
// whole account. Nil means "leave unchanged".
func (l *SavingsLedger) Edit(ctx context.Context, id TransactionID, newAmount *decimal.Decimal, newDate *time.Time) error {
	err := l.Store.WithTx(ctx, func(s Store) error {
		tx, err := s.GetSavingsTransaction(ctx, id)
		if err != nil {
			return err
		}
		if newAmount != nil {
			tx.Amount = *newAmount
		}
		if newDate != nil {
			tx.Date = *newDate
		}
		if err := s.PutSavingsTransaction(ctx, tx); err != nil {
			return err
		}
		return l.recomputeIn(ctx, s, tx.AccountID)
	})
	return storeFail("savings edit", err)
}

// Delete removes a transaction and recomputes the whole account.
func (l *SavingsLedger) Delete(ctx context.Context, id TransactionID) error {
	err := l.Store.WithTx(ctx, func(s Store) error {
		tx, err := s.GetSavingsTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := s.DeleteSavingsTransaction(ctx, id); err != nil {
			return err
		}
		return l.recomputeIn(ctx, s, tx.AccountID)
	})
	return storeFail("savings delete", err)
}

// Account returns the member's savings account, creating it on first use.
func (l *SavingsLedger) Account(ctx context.Context, memberID MemberID) (*SavingsAccount, error) {
	var out *SavingsAccount
	err := l.Store.WithTx(ctx, func(s Store) error {
		acct, err := ensureAccount(ctx, s, memberID)
		out = acct
		return err
	})
	if err != nil {
		return nil, storeFail("savings account", err)
	}
	return out, nil
}

// =============================================================================
// IN-TRANSACTION PRIMITIVES
// =============================================================================
// These run against a tx-scoped Store view so callers (the contribution
// engine, the loan engine) can fold a ledger write into their own
// atomic operation.

func (l *SavingsLedger) appendIn(ctx context.Context, s Store, accountID AccountID, amount decimal.Decimal, date time.Time) (*SavingsTransaction, error) {
	tx := &SavingsTransaction{
		ID:        TransactionID(uuid.NewString()),
		AccountID: accountID,
		Amount:    amount,
		Date:      date,
		CreatedAt: l.now(),
	}
	if err := s.PutSavingsTransaction(ctx, tx); err != nil {
		return nil, err
	}
	if err := l.recomputeIn(ctx, s, accountID); err != nil {
		return nil, err
	}
	// Re-read for the recomputed running total.
	return s.GetSavingsTransaction(ctx, tx.ID)
}

// appendDedupedIn appends unless an entry with the same date and amount
// already exists on the account.
func (l *SavingsLedger) appendDedupedIn(ctx context.Context, s Store, accountID AccountID, amount decimal.Decimal, date time.Time) error {
	existing, err := s.SavingsTransactions(ctx, accountID)
	if err != nil {
		return err
	}
	for _, tx := range existing {
		if tx.Date.Equal(date) && tx.Amount.Equal(amount) {
			return nil
		}
	}
	_, err = l.appendIn(ctx, s, accountID, amount, date)
	return err
}

// recomputeIn rebuilds every running total of the account in date
// order and refreshes the cached account total.
func (l *SavingsLedger) recomputeIn(ctx context.Context, s Store, accountID AccountID) error {
	txs, err := s.SavingsTransactions(ctx, accountID)
	if err != nil {
		return err
	}

	running := decimal.Zero
	for _, tx := range txs {
		running = running.Add(tx.Amount)
		if running.IsNegative() {
			running = decimal.Zero
		}
		tx.RunningTotal = running
		if err := s.PutSavingsTransaction(ctx, tx); err != nil {
			return err
		}
	}

	acct, err := s.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	acct.Total = running
	return s.PutAccount(ctx, acct)
}

func (l *SavingsLedger) now() time.Time {
	if l.Clock != nil {
		return l.Clock().UTC()
	}
	return time.Now().UTC()
}

// ensureAccount resolves a member's savings account, creating an empty
// one if the member has never saved before. Savings stand apart from
// the rotation flow, so no prior cycle registration is required.
func ensureAccount(ctx context.Context, s Store, memberID MemberID) (*SavingsAccount, error) {
	acct, err := s.AccountByMember(ctx, memberID)
	if err == nil {
		return acct, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	acct = &SavingsAccount{
		ID:       AccountID(uuid.NewString()),
		MemberID: memberID,
		Total:    decimal.Zero,
	}
	if err := s.PutAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}
