// Package ledger implements credit accounting for metered generation
// attempts.
//
// Credit Flow:
// 1. A payment webhook grants credits to the user's account
// 2. Each generation attempt debits exactly one credit up front
// 3. A delivered result settles the attempt as succeeded
// 4. Any failure after the debit refunds the credit exactly once
// 5. Attempts orphaned by a crash are refunded by the reclaim worker
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	serviceerrors "github.com/fotogem/studio-gateway/internal/errors"
	"github.com/fotogem/studio-gateway/internal/ledger/supabase"
	"github.com/fotogem/studio-gateway/internal/logging"
)

// AttemptCost is the number of credits one generation attempt consumes.
const AttemptCost = 1

// DefaultDebitRetries bounds the optimistic-concurrency retry loop. Each
// retry re-reads the balance, so the precondition is re-evaluated rather
// than applying a stale decrement.
const DefaultDebitRetries = 3

// Manager is the credit guard: it owns every balance mutation.
type Manager struct {
	repo         supabase.Repository
	log          *logging.Logger
	debitRetries int
}

// DebitReceipt identifies a successful debit so the caller can settle it.
type DebitReceipt struct {
	AttemptID  string
	AccountID  string
	NewBalance int64
}

// NewManager creates a credit manager.
func NewManager(repo supabase.Repository, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewDefault("ledger")
	}
	return &Manager{
		repo:         repo,
		log:          log,
		debitRetries: DefaultDebitRetries,
	}
}

// WithDebitRetries overrides the bounded retry count for debit contention.
func (m *Manager) WithDebitRetries(n int) *Manager {
	if n > 0 {
		m.debitRetries = n
	}
	return m
}

// Balance returns the account's current credit balance.
func (m *Manager) Balance(ctx context.Context, accountID string) (int64, error) {
	acct, err := m.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, supabase.ErrAccountNotFound) {
			return 0, serviceerrors.NotFound("account not found")
		}
		return 0, serviceerrors.LedgerUnavailable(err)
	}
	return acct.Credits, nil
}

// TryDebit reserves one credit for a generation attempt. It records a pending
// attempt marker first, then decrements the balance with a compare-and-swap
// that fails open to a retry when a concurrent writer moved the balance.
//
// Returns InsufficientCredit when the balance is below the attempt cost at
// swap time; in that case nothing was debited.
func (m *Manager) TryDebit(ctx context.Context, accountID string) (*DebitReceipt, error) {
	attempt := &supabase.Attempt{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Status:    supabase.AttemptPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.repo.CreateAttempt(ctx, attempt); err != nil {
		return nil, serviceerrors.LedgerUnavailable(fmt.Errorf("create attempt: %w", err))
	}

	for i := 0; i < m.debitRetries; i++ {
		acct, err := m.repo.GetAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, supabase.ErrAccountNotFound) {
				m.settleAttempt(ctx, attempt.ID, supabase.AttemptRejected, "account not found")
				return nil, serviceerrors.NotFound("account not found")
			}
			m.settleAttempt(ctx, attempt.ID, supabase.AttemptRejected, "ledger read failed")
			return nil, serviceerrors.LedgerUnavailable(err)
		}

		if acct.Credits < AttemptCost {
			m.settleAttempt(ctx, attempt.ID, supabase.AttemptRejected, "insufficient credit")
			return nil, serviceerrors.InsufficientCredit(acct.Credits)
		}

		swapped, err := m.repo.CompareAndSwapCredits(ctx, accountID, acct.Credits, acct.Credits-AttemptCost)
		if err != nil {
			// The swap may or may not have applied; leave this one for
			// reconciliation rather than guessing.
			m.settleAttempt(ctx, attempt.ID, supabase.AttemptFailedUnrefunded, "ledger write failed")
			return nil, serviceerrors.LedgerUnavailable(err)
		}
		if !swapped {
			// Another attempt changed the balance; re-read and re-check.
			continue
		}

		receipt := &DebitReceipt{
			AttemptID:  attempt.ID,
			AccountID:  accountID,
			NewBalance: acct.Credits - AttemptCost,
		}
		m.recordEntry(ctx, &supabase.LedgerEntry{
			ID:             uuid.New().String(),
			AccountID:      accountID,
			EntryType:      supabase.EntryTypeDebit,
			Amount:         -AttemptCost,
			BalanceAfter:   receipt.NewBalance,
			ReferenceID:    attempt.ID,
			Description:    "generation attempt debit",
			IdempotencyKey: "debit:" + attempt.ID,
		})
		return receipt, nil
	}

	m.settleAttempt(ctx, attempt.ID, supabase.AttemptRejected, "debit contention")
	return nil, serviceerrors.LedgerUnavailable(fmt.Errorf("debit contention after %d retries", m.debitRetries))
}

// Complete settles a debited attempt as succeeded. The credit stays consumed.
func (m *Manager) Complete(ctx context.Context, receipt *DebitReceipt) {
	swapped, err := m.repo.CompareAndSwapAttemptStatus(ctx, receipt.AttemptID, supabase.AttemptPending, supabase.AttemptSucceeded, "")
	if err != nil {
		m.log.WithContext(ctx).WithError(err).WithField("attempt_id", receipt.AttemptID).
			Warn("failed to settle attempt as succeeded")
		return
	}
	if !swapped {
		m.log.WithContext(ctx).WithField("attempt_id", receipt.AttemptID).
			Warn("attempt already settled before completion")
	}
}

// Refund restores the credit for a debited attempt that failed to deliver.
// The attempt-status swap from pending guarantees at most one refund per
// attempt, even if the reclaim worker races an in-flight failure path.
// Refund failures are logged for manual reconciliation, never surfaced; the
// return value reports whether this call applied the refund.
func (m *Manager) Refund(ctx context.Context, receipt *DebitReceipt, reason string) bool {
	log := m.log.WithContext(ctx).WithFields(map[string]interface{}{
		"attempt_id": receipt.AttemptID,
		"account_id": receipt.AccountID,
		"reason":     reason,
	})

	swapped, err := m.repo.CompareAndSwapAttemptStatus(ctx, receipt.AttemptID, supabase.AttemptPending, supabase.AttemptFailedRefunded, reason)
	if err != nil {
		log.WithError(err).Error("refund settle failed; credit needs manual reconciliation")
		return false
	}
	if !swapped {
		log.Warn("attempt already settled; skipping refund")
		return false
	}

	newBalance, err := m.repo.AddCredits(ctx, receipt.AccountID, AttemptCost)
	if err != nil {
		// The attempt was marked refunded but the increment failed. Flag it
		// unrefunded so reconciliation can restore the credit.
		if _, flagErr := m.repo.CompareAndSwapAttemptStatus(ctx, receipt.AttemptID, supabase.AttemptFailedRefunded, supabase.AttemptFailedUnrefunded, "refund increment failed"); flagErr != nil {
			log.WithError(flagErr).Error("failed to flag unrefunded attempt")
		}
		log.WithError(err).Error("refund increment failed; credit needs manual reconciliation")
		return false
	}

	m.recordEntry(ctx, &supabase.LedgerEntry{
		ID:             uuid.New().String(),
		AccountID:      receipt.AccountID,
		EntryType:      supabase.EntryTypeRefund,
		Amount:         AttemptCost,
		BalanceAfter:   newBalance,
		ReferenceID:    receipt.AttemptID,
		Description:    "refund: " + reason,
		IdempotencyKey: "refund:" + receipt.AttemptID,
	})
	log.WithField("new_balance", newBalance).Info("credit refunded")
	return true
}

// Grant credits an account from a completed payment. The orderID becomes the
// entry's idempotency key so a replayed grant records at most one entry.
func (m *Manager) Grant(ctx context.Context, accountID string, amount int64, orderID string) (int64, error) {
	if amount <= 0 {
		return 0, serviceerrors.InvalidRequest("grant amount must be positive")
	}

	newBalance, err := m.repo.AddCredits(ctx, accountID, amount)
	if err != nil {
		return 0, serviceerrors.LedgerUnavailable(err)
	}

	m.recordEntry(ctx, &supabase.LedgerEntry{
		ID:             uuid.New().String(),
		AccountID:      accountID,
		EntryType:      supabase.EntryTypeGrant,
		Amount:         amount,
		BalanceAfter:   newBalance,
		ReferenceID:    orderID,
		Description:    "payment webhook grant",
		IdempotencyKey: "grant:" + orderID,
	})
	return newBalance, nil
}

// ReclaimStaleAttempts refunds attempts that stayed pending past the TTL.
// These are requests killed between debit and terminal response; the status
// swap keeps the reclaim from racing a refund that is still in flight.
func (m *Manager) ReclaimStaleAttempts(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	stale, err := m.repo.ListPendingAttemptsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale attempts: %w", err)
	}

	reclaimed := 0
	for i := range stale {
		attempt := &stale[i]
		receipt := &DebitReceipt{AttemptID: attempt.ID, AccountID: attempt.AccountID}
		if m.Refund(ctx, receipt, "reclaimed orphaned attempt") {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// settleAttempt transitions an attempt out of pending, logging on failure.
func (m *Manager) settleAttempt(ctx context.Context, id string, status supabase.AttemptStatus, reason string) {
	if _, err := m.repo.CompareAndSwapAttemptStatus(ctx, id, supabase.AttemptPending, status, reason); err != nil {
		m.log.WithContext(ctx).WithError(err).WithField("attempt_id", id).Warn("failed to settle attempt")
	}
}

// recordEntry writes a ledger entry, logging on failure. Entries are an audit
// trail; their loss must not fail the balance mutation they describe.
func (m *Manager) recordEntry(ctx context.Context, entry *supabase.LedgerEntry) {
	entry.CreatedAt = time.Now().UTC()
	if err := m.repo.CreateEntry(ctx, entry); err != nil {
		m.log.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"account_id": entry.AccountID,
			"entry_type": entry.EntryType,
		}).Warn("failed to record ledger entry")
	}
}
