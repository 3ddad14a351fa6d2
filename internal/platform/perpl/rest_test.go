package perpl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

type fakeSigner struct {
	signed []string
}

func (s *fakeSigner) Address() string { return "0xabc" }

func (s *fakeSigner) SignAuthPayload(payload string, timestamp, nonce int64) (string, error) {
	s.signed = append(s.signed, payload)
	return "0xsig", nil
}

func TestRestClientFresh(t *testing.T) {
	var confirmBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/payload":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"payload":   "sign me",
				"nonce":     7,
				"timestamp": 1_700_000_000,
			})
		case "/auth/confirm":
			_ = json.NewDecoder(r.Body).Decode(&confirmBody)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token":      "session-token",
				"expires_at": 1_700_003_600_000,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	signer := &fakeSigner{}
	c := NewRestClient(srv.URL, signer)

	cred, err := c.Fresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0xabc", cred.Address)
	require.Equal(t, "session-token", cred.Token)
	require.Equal(t, int64(7), cred.Nonce)
	require.Equal(t, []string{"sign me"}, signer.signed)
	require.Equal(t, "0xsig", confirmBody["signature"])
}

func TestRestClientFreshRejectedSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/payload":
			_ = json.NewEncoder(w).Encode(map[string]any{"payload": "p", "nonce": 1, "timestamp": 1})
		default:
			http.Error(w, "bad signature", http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, &fakeSigner{})
	_, err := c.Fresh(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialExpired)
}

func TestRestClientListOrderHistoryPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/history", r.URL.Path)
		require.Equal(t, "0xabc", r.URL.Query().Get("address"))

		switch r.URL.Query().Get("cursor") {
		case "":
			_ = json.NewEncoder(w).Encode(HistoryPage{
				Orders:     []OrderEntry{{OrderID: 1, RequestID: 10}},
				NextCursor: "page2",
			})
		case "page2":
			_ = json.NewEncoder(w).Encode(HistoryPage{
				Orders: []OrderEntry{{OrderID: 2, RequestID: 11}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, &fakeSigner{})

	first, err := c.ListOrderHistory(context.Background(), "", 100)
	require.NoError(t, err)
	require.Len(t, first.Orders, 1)
	require.Equal(t, "page2", first.NextCursor)

	second, err := c.ListOrderHistory(context.Background(), first.NextCursor, 100)
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Orders[0].OrderID)
	require.Empty(t, second.NextCursor)
}
