// Package supabase provides data access for the credit ledger.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/fotogem/studio-gateway/internal/database"
)

// =============================================================================
// Data Models
// =============================================================================

// Account is a user account row with its credit balance.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttemptStatus is the terminal-state marker of a metered attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSucceeded AttemptStatus = "succeeded"
	// AttemptRejected marks an attempt that never took a credit.
	AttemptRejected       AttemptStatus = "rejected"
	AttemptFailedRefunded AttemptStatus = "failed_refunded"
	// AttemptFailedUnrefunded marks a debit whose refund could not be applied
	// or confirmed; reconciliation reviews these.
	AttemptFailedUnrefunded AttemptStatus = "failed_unrefunded"
)

// Attempt is the persisted marker for one debited generation attempt.
// It is written before the debit so that crashed requests can be reconciled.
type Attempt struct {
	ID            string        `json:"id"`
	AccountID     string        `json:"account_id"`
	Status        AttemptStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeRefund EntryType = "refund"
	EntryTypeGrant  EntryType = "grant"
)

// LedgerEntry is an immutable record of one balance mutation.
type LedgerEntry struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	EntryType      EntryType `json:"entry_type"`
	Amount         int64     `json:"amount"` // positive for credit, negative for debit
	BalanceAfter   int64     `json:"balance_after"`
	ReferenceID    string    `json:"reference_id"` // attempt ID or order ID
	Description    string    `json:"description"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrAccountNotFound is returned when no account row matches.
var ErrAccountNotFound = fmt.Errorf("account not found")

// =============================================================================
// Repository Interface
// =============================================================================

// Repository defines the persistence surface of the credit ledger.
type Repository interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)

	// CompareAndSwapCredits writes newCredits only if the stored balance still
	// equals oldCredits. It reports whether the swap was applied.
	CompareAndSwapCredits(ctx context.Context, id string, oldCredits, newCredits int64) (bool, error)

	// AddCredits atomically increments the balance and returns the new value.
	// It carries no precondition, so it is safe under concurrent writers.
	AddCredits(ctx context.Context, id string, delta int64) (int64, error)

	CreateAttempt(ctx context.Context, attempt *Attempt) error

	// CompareAndSwapAttemptStatus transitions an attempt's status only from the
	// expected previous status, so each attempt settles exactly once.
	CompareAndSwapAttemptStatus(ctx context.Context, id string, from, to AttemptStatus, reason string) (bool, error)

	ListPendingAttemptsBefore(ctx context.Context, cutoff time.Time) ([]Attempt, error)

	CreateEntry(ctx context.Context, entry *LedgerEntry) error

	HealthCheck(ctx context.Context) error
}

// =============================================================================
// Supabase Repository Implementation
// =============================================================================

// SupabaseRepository implements Repository over the Supabase REST API.
type SupabaseRepository struct {
	db *database.Client
}

// NewRepository creates a new Supabase repository.
func NewRepository(db *database.Client) *SupabaseRepository {
	return &SupabaseRepository{db: db}
}

// GetAccount retrieves an account by ID.
func (r *SupabaseRepository) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := fmt.Sprintf("id=eq.%s&limit=1", neturl.QueryEscape(id))
	return r.getAccount(ctx, query)
}

// GetAccountByEmail retrieves an account by email address.
func (r *SupabaseRepository) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := fmt.Sprintf("email=eq.%s&limit=1", neturl.QueryEscape(strings.ToLower(email)))
	return r.getAccount(ctx, query)
}

func (r *SupabaseRepository) getAccount(ctx context.Context, query string) (*Account, error) {
	body, err := r.db.Request(ctx, "GET", "accounts", nil, query)
	if err != nil {
		return nil, err
	}

	var accounts []Account
	if err := json.Unmarshal(body, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrAccountNotFound
	}
	return &accounts[0], nil
}

// CompareAndSwapCredits performs the conditional decrement. PostgREST applies
// the filter and the update in one statement, so the write is atomic; an empty
// representation means another writer changed the balance first.
func (r *SupabaseRepository) CompareAndSwapCredits(ctx context.Context, id string, oldCredits, newCredits int64) (bool, error) {
	query := fmt.Sprintf("id=eq.%s&credits=eq.%d", neturl.QueryEscape(id), oldCredits)
	update := map[string]any{
		"credits":    newCredits,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}

	body, err := r.db.Request(ctx, "PATCH", "accounts", update, query)
	if err != nil {
		return false, err
	}

	var updated []Account
	if err := json.Unmarshal(body, &updated); err != nil {
		return false, fmt.Errorf("decode update result: %w", err)
	}
	return len(updated) > 0, nil
}

// AddCredits calls the add_credits Postgres function, a single-statement
// increment with no read-modify-write window.
func (r *SupabaseRepository) AddCredits(ctx context.Context, id string, delta int64) (int64, error) {
	body, err := r.db.RPC(ctx, "add_credits", map[string]any{
		"p_account_id": id,
		"p_amount":     delta,
	})
	if err != nil {
		return 0, err
	}

	var newBalance int64
	if err := json.Unmarshal(body, &newBalance); err != nil {
		return 0, fmt.Errorf("decode add_credits result: %w", err)
	}
	return newBalance, nil
}

// CreateAttempt persists a pending attempt marker.
func (r *SupabaseRepository) CreateAttempt(ctx context.Context, attempt *Attempt) error {
	_, err := r.db.RequestWithPrefer(ctx, "POST", "attempts", attempt, "", "return=minimal")
	return err
}

// CompareAndSwapAttemptStatus transitions an attempt's status conditionally.
func (r *SupabaseRepository) CompareAndSwapAttemptStatus(ctx context.Context, id string, from, to AttemptStatus, reason string) (bool, error) {
	query := fmt.Sprintf("id=eq.%s&status=eq.%s", neturl.QueryEscape(id), from)
	update := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if reason != "" {
		update["failure_reason"] = reason
	}

	body, err := r.db.Request(ctx, "PATCH", "attempts", update, query)
	if err != nil {
		return false, err
	}

	var updated []Attempt
	if err := json.Unmarshal(body, &updated); err != nil {
		return false, fmt.Errorf("decode update result: %w", err)
	}
	return len(updated) > 0, nil
}

// ListPendingAttemptsBefore returns pending attempts created before cutoff.
func (r *SupabaseRepository) ListPendingAttemptsBefore(ctx context.Context, cutoff time.Time) ([]Attempt, error) {
	query := fmt.Sprintf("status=eq.%s&created_at=lt.%s&limit=100",
		AttemptPending, neturl.QueryEscape(cutoff.UTC().Format(time.RFC3339Nano)))

	body, err := r.db.Request(ctx, "GET", "attempts", nil, query)
	if err != nil {
		return nil, err
	}

	var attempts []Attempt
	if err := json.Unmarshal(body, &attempts); err != nil {
		return nil, fmt.Errorf("decode attempts: %w", err)
	}
	return attempts, nil
}

// CreateEntry persists an immutable ledger entry.
func (r *SupabaseRepository) CreateEntry(ctx context.Context, entry *LedgerEntry) error {
	_, err := r.db.RequestWithPrefer(ctx, "POST", "ledger_entries", entry, "", "return=minimal")
	if database.IsConflict(err) {
		// The idempotency key already exists; the entry was recorded earlier.
		return nil
	}
	return err
}

// HealthCheck probes the REST endpoint.
func (r *SupabaseRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// =============================================================================
// Mock Repository for Testing
// =============================================================================

// MockRepository is an in-memory Repository with the same compare-and-swap
// semantics as the Supabase implementation.
type MockRepository struct {
	mu       sync.Mutex
	accounts map[string]*Account
	attempts map[string]*Attempt
	entries  []*LedgerEntry
}

// NewMockRepository creates a new mock repository.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		accounts: make(map[string]*Account),
		attempts: make(map[string]*Attempt),
	}
}

// SetAccount seeds an account.
func (m *MockRepository) SetAccount(id, email string, credits int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[id] = &Account{
		ID:        id,
		Email:     strings.ToLower(email),
		Credits:   credits,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// GetAccount retrieves an account by ID.
func (m *MockRepository) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *acct
	return &copied, nil
}

// GetAccountByEmail retrieves an account by email.
func (m *MockRepository) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acct := range m.accounts {
		if acct.Email == strings.ToLower(email) {
			copied := *acct
			return &copied, nil
		}
	}
	return nil, ErrAccountNotFound
}

// CompareAndSwapCredits applies the swap only when the balance is unchanged.
func (m *MockRepository) CompareAndSwapCredits(ctx context.Context, id string, oldCredits, newCredits int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return false, ErrAccountNotFound
	}
	if acct.Credits != oldCredits {
		return false, nil
	}
	acct.Credits = newCredits
	acct.UpdatedAt = time.Now()
	return true, nil
}

// AddCredits increments the balance unconditionally.
func (m *MockRepository) AddCredits(ctx context.Context, id string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	acct.Credits += delta
	acct.UpdatedAt = time.Now()
	return acct.Credits, nil
}

// CreateAttempt stores a pending attempt marker.
func (m *MockRepository) CreateAttempt(ctx context.Context, attempt *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *attempt
	m.attempts[attempt.ID] = &copied
	return nil
}

// CompareAndSwapAttemptStatus transitions an attempt conditionally.
func (m *MockRepository) CompareAndSwapAttemptStatus(ctx context.Context, id string, from, to AttemptStatus, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempt, ok := m.attempts[id]
	if !ok || attempt.Status != from {
		return false, nil
	}
	attempt.Status = to
	if reason != "" {
		attempt.FailureReason = reason
	}
	attempt.UpdatedAt = time.Now()
	return true, nil
}

// ListPendingAttemptsBefore lists stale pending attempts.
func (m *MockRepository) ListPendingAttemptsBefore(ctx context.Context, cutoff time.Time) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Attempt
	for _, attempt := range m.attempts {
		if attempt.Status == AttemptPending && attempt.CreatedAt.Before(cutoff) {
			result = append(result, *attempt)
		}
	}
	return result, nil
}

// CreateEntry appends a ledger entry, honoring idempotency keys.
func (m *MockRepository) CreateEntry(ctx context.Context, entry *LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.IdempotencyKey != "" {
		for _, e := range m.entries {
			if e.IdempotencyKey == entry.IdempotencyKey {
				return nil
			}
		}
	}

	copied := *entry
	copied.CreatedAt = time.Now()
	m.entries = append(m.entries, &copied)
	return nil
}

// HealthCheck always succeeds for the mock.
func (m *MockRepository) HealthCheck(ctx context.Context) error {
	return nil
}

// Entries returns a snapshot of recorded entries for assertions.
func (m *MockRepository) Entries() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, *e)
	}
	return result
}

// Attempt returns a stored attempt for assertions.
func (m *MockRepository) Attempt(id string) (Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempt, ok := m.attempts[id]
	if !ok {
		return Attempt{}, false
	}
	return *attempt, true
}

// Attempts returns all stored attempts for assertions.
func (m *MockRepository) Attempts() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Attempt, 0, len(m.attempts))
	for _, attempt := range m.attempts {
		out = append(out, *attempt)
	}
	return out
}

// Ensure implementations satisfy the interface.
var _ Repository = (*SupabaseRepository)(nil)
var _ Repository = (*MockRepository)(nil)
