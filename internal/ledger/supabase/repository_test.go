package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/fotogem/studio-gateway/internal/database"
)

// fakePostgrest handles just enough of the PostgREST surface for the
// repository: filtered PATCH updates, RPC calls, and conflict inserts.
type fakePostgrest struct {
	t *testing.T

	credits      int64
	rpcCalls     int
	insertedKeys map[string]bool
}

func (f *fakePostgrest) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/rest/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("id") == "eq.acct-1" || r.URL.Query().Get("email") == "eq.user@example.com" {
				json.NewEncoder(w).Encode([]map[string]any{{
					"id": "acct-1", "email": "user@example.com", "credits": f.credits,
				}})
				return
			}
			w.Write([]byte("[]"))
		case http.MethodPatch:
			var update struct {
				Credits int64 `json:"credits"`
			}
			json.NewDecoder(r.Body).Decode(&update)
			// The credits=eq.N filter only matches the current balance.
			if r.URL.Query().Get("credits") == "eq."+itoa(f.credits) {
				f.credits = update.Credits
				json.NewEncoder(w).Encode([]map[string]any{{"id": "acct-1", "credits": f.credits}})
				return
			}
			w.Write([]byte("[]"))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/rest/v1/rpc/add_credits", func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			Amount int64 `json:"p_amount"`
		}
		json.NewDecoder(r.Body).Decode(&params)
		f.rpcCalls++
		f.credits += params.Amount
		json.NewEncoder(w).Encode(f.credits)
	})

	mux.HandleFunc("/rest/v1/ledger_entries", func(w http.ResponseWriter, r *http.Request) {
		var entry LedgerEntry
		json.NewDecoder(r.Body).Decode(&entry)
		if f.insertedKeys[entry.IdempotencyKey] {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"code":"23505","message":"duplicate key value"}`))
			return
		}
		if f.insertedKeys == nil {
			f.insertedKeys = map[string]bool{}
		}
		f.insertedKeys[entry.IdempotencyKey] = true
		w.WriteHeader(http.StatusCreated)
	})

	return mux
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func newTestRepository(t *testing.T, fake *fakePostgrest) (*SupabaseRepository, func()) {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	client, err := database.NewClient(database.Config{
		URL:        server.URL,
		ServiceKey: "test-key",
	})
	if err != nil {
		t.Fatalf("client init: %v", err)
	}
	return NewRepository(client), server.Close
}

func TestGetAccount(t *testing.T) {
	fake := &fakePostgrest{t: t, credits: 5}
	repo, done := newTestRepository(t, fake)
	defer done()

	acct, err := repo.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Credits != 5 {
		t.Errorf("expected 5 credits, got %d", acct.Credits)
	}

	if _, err := repo.GetAccount(context.Background(), "missing"); err != ErrAccountNotFound {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGetAccountByEmail(t *testing.T) {
	fake := &fakePostgrest{t: t, credits: 3}
	repo, done := newTestRepository(t, fake)
	defer done()

	acct, err := repo.GetAccountByEmail(context.Background(), "USER@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail failed: %v", err)
	}
	if acct.ID != "acct-1" {
		t.Errorf("unexpected account %q", acct.ID)
	}
}

func TestCompareAndSwapCredits(t *testing.T) {
	fake := &fakePostgrest{t: t, credits: 5}
	repo, done := newTestRepository(t, fake)
	defer done()

	swapped, err := repo.CompareAndSwapCredits(context.Background(), "acct-1", 5, 4)
	if err != nil {
		t.Fatalf("CAS failed: %v", err)
	}
	if !swapped {
		t.Fatal("swap with correct precondition must apply")
	}

	// Stale precondition: the balance moved to 4 above.
	swapped, err = repo.CompareAndSwapCredits(context.Background(), "acct-1", 5, 3)
	if err != nil {
		t.Fatalf("CAS failed: %v", err)
	}
	if swapped {
		t.Fatal("swap with stale precondition must be refused")
	}
	if fake.credits != 4 {
		t.Errorf("expected balance 4, got %d", fake.credits)
	}
}

func TestAddCredits(t *testing.T) {
	fake := &fakePostgrest{t: t, credits: 2}
	repo, done := newTestRepository(t, fake)
	defer done()

	balance, err := repo.AddCredits(context.Background(), "acct-1", 100)
	if err != nil {
		t.Fatalf("AddCredits failed: %v", err)
	}
	if balance != 102 {
		t.Errorf("expected 102, got %d", balance)
	}
	if fake.rpcCalls != 1 {
		t.Errorf("expected 1 RPC call, got %d", fake.rpcCalls)
	}
}

func TestCreateEntry_ConflictIsIdempotent(t *testing.T) {
	fake := &fakePostgrest{t: t}
	repo, done := newTestRepository(t, fake)
	defer done()

	entry := &LedgerEntry{
		ID:             "e1",
		AccountID:      "acct-1",
		EntryType:      EntryTypeGrant,
		Amount:         100,
		IdempotencyKey: "grant:order-1",
	}
	if err := repo.CreateEntry(context.Background(), entry); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	// The unique key now exists; PostgREST answers 409 and the repository
	// treats that as already-recorded.
	if err := repo.CreateEntry(context.Background(), entry); err != nil {
		t.Fatalf("duplicate insert must be swallowed, got %v", err)
	}
}
