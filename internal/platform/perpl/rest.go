package perpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// PayloadSigner signs the auth payload issued by the exchange. The concrete
// implementation lives in internal/crypto.
type PayloadSigner interface {
	// Address returns the wallet address as a hex string.
	Address() string
	// SignAuthPayload signs the issued payload and returns a hex signature.
	SignAuthPayload(payload string, timestamp, nonce int64) (string, error)
}

// RestClient talks to the exchange REST API: the two-step credential
// handshake and cursor-based history pagination. It is a collaborator of the
// engine, not part of the streaming path.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	signer     PayloadSigner
}

// NewRestClient creates a REST client rooted at baseURL.
func NewRestClient(baseURL string, signer PayloadSigner) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
	}
}

// authPayloadResponse is the body of the issuance call.
type authPayloadResponse struct {
	Payload   string `json:"payload"`
	Nonce     int64  `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// authConfirmResponse is the body of the confirmation call.
type authConfirmResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Fresh runs the full credential handshake: request an auth payload, sign it
// with the wallet, and confirm the signature for a session token. A rejected
// signature or exhausted access code surfaces as ErrCredentialExpired so the
// caller never retries it blindly.
func (c *RestClient) Fresh(ctx context.Context) (domain.Credential, error) {
	address := c.signer.Address()

	issued, err := c.issueAuthPayload(ctx, address)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("perpl/rest: issue auth payload: %w", err)
	}

	sig, err := c.signer.SignAuthPayload(issued.Payload, issued.Timestamp, issued.Nonce)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("perpl/rest: sign auth payload: %w", err)
	}

	confirmed, err := c.confirmAuth(ctx, address, sig, issued.Nonce)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("perpl/rest: confirm auth: %w", err)
	}

	return domain.Credential{
		Address:   address,
		Token:     confirmed.Token,
		Nonce:     issued.Nonce,
		IssuedAt:  time.Now(),
		ExpiresAt: time.UnixMilli(confirmed.ExpiresAt),
	}, nil
}

func (c *RestClient) issueAuthPayload(ctx context.Context, address string) (authPayloadResponse, error) {
	body := map[string]any{"address": address}
	data, err := c.post(ctx, "/auth/payload", body)
	if err != nil {
		return authPayloadResponse{}, err
	}

	var resp authPayloadResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return authPayloadResponse{}, fmt.Errorf("decode payload response: %w", err)
	}
	return resp, nil
}

func (c *RestClient) confirmAuth(ctx context.Context, address, signature string, nonce int64) (authConfirmResponse, error) {
	body := map[string]any{
		"address":   address,
		"signature": signature,
		"nonce":     nonce,
	}
	data, err := c.post(ctx, "/auth/confirm", body)
	if err != nil {
		return authConfirmResponse{}, err
	}

	var resp authConfirmResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return authConfirmResponse{}, fmt.Errorf("decode confirm response: %w", err)
	}
	return resp, nil
}

// HistoryPage is one page of historical orders. NextCursor is empty on the
// last page.
type HistoryPage struct {
	Orders     []OrderEntry `json:"orders"`
	NextCursor string       `json:"next_cursor"`
}

// ListOrderHistory fetches one page of order history for the wallet. Pass an
// empty cursor for the first page. Used to reconcile requests that resolved
// Unknown.
func (c *RestClient) ListOrderHistory(ctx context.Context, cursor string, limit int) (HistoryPage, error) {
	q := url.Values{}
	q.Set("address", c.signer.Address())
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	data, err := c.get(ctx, "/orders/history?"+q.Encode())
	if err != nil {
		return HistoryPage{}, fmt.Errorf("perpl/rest: list order history: %w", err)
	}

	var page HistoryPage
	if err := json.Unmarshal(data, &page); err != nil {
		return HistoryPage{}, fmt.Errorf("perpl/rest: decode history page: %w", err)
	}
	return page, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *RestClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *RestClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *RestClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. Auth rejections
// map to ErrCredentialExpired so they are never retried with the same
// credential.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrCredentialExpired, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
