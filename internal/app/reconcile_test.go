package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PerplFoundation/perpl-go/internal/crypto"
	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/platform/perpl"
)

type memOrderStore struct {
	mu   sync.Mutex
	rows map[int64]domain.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{rows: make(map[int64]domain.Order)}
}

func (s *memOrderStore) Upsert(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[o.OrderID] = o
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, orderID int64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrderStore) GetByRequestID(_ context.Context, requestID uint64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.rows {
		if o.RequestID == requestID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (s *memOrderStore) ListOpen(context.Context, string) ([]domain.Order, error) { return nil, nil }
func (s *memOrderStore) ListByMarket(context.Context, domain.MarketID, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}
func (s *memOrderStore) ListBefore(context.Context, time.Time, int) ([]domain.Order, error) {
	return nil, nil
}
func (s *memOrderStore) DeleteIDs(context.Context, []int64) (int64, error) { return 0, nil }

func testRestClient(t *testing.T, url string) *perpl.RestClient {
	t.Helper()
	signer, err := crypto.NewSigner(
		"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 5151,
	)
	require.NoError(t, err)
	return perpl.NewRestClient(url, signer)
}

func TestReconcileFindsOrderAcrossPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			_ = json.NewEncoder(w).Encode(perpl.HistoryPage{
				Orders:     []perpl.OrderEntry{{OrderID: 1, RequestID: 5, Status: "filled"}},
				NextCursor: "p2",
			})
		case "p2":
			_ = json.NewEncoder(w).Encode(perpl.HistoryPage{
				Orders: []perpl.OrderEntry{{
					OrderID: 2, RequestID: 9, Market: 16, Status: "open",
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := newMemOrderStore()
	r := NewReconciler(testRestClient(t, srv.URL), store, slog.Default())

	order, found, err := r.Reconcile(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(2), order.OrderID)
	require.Equal(t, domain.OrderStatusOpen, order.Status)

	// The match was mirrored into the store.
	stored, err := store.GetByRequestID(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.OrderID)
}

func TestReconcilePrefersLocalStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("history endpoint must not be hit when the store already has the order")
	}))
	defer srv.Close()

	store := newMemOrderStore()
	require.NoError(t, store.Upsert(context.Background(), domain.Order{
		OrderID: 4, RequestID: 9, Status: domain.OrderStatusFilled,
	}))

	r := NewReconciler(testRestClient(t, srv.URL), store, slog.Default())
	order, found, err := r.Reconcile(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(4), order.OrderID)
}

func TestReconcileNotFoundMeansNeverAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(perpl.HistoryPage{})
	}))
	defer srv.Close()

	r := NewReconciler(testRestClient(t, srv.URL), newMemOrderStore(), slog.Default())
	_, found, err := r.Reconcile(context.Background(), 123)
	require.NoError(t, err)
	require.False(t, found)
}
