// Package merklebatch is a Go client for the merklebatchd REST API.
package merklebatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the merklebatchd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// ProofStep is one level of an inclusion proof. Direction is "left" or
// "right" and names the side the sibling sits on.
type ProofStep struct {
	Direction string      `json:"direction"`
	Sibling   common.Hash `json:"sibling"`
}

// Proof is ordered from leaf to root.
type Proof []ProofStep

// Commitment is the root of a batch together with one proof per record.
type Commitment struct {
	Root    common.Hash     `json:"root"`
	Leaves  []common.Hash   `json:"leaves"`
	Proofs  []Proof         `json:"proofs"`
	Records []hexutil.Bytes `json:"records"`
}

// Entry is an executed record.
type Entry struct {
	Seq        uint64        `json:"seq"`
	BatchID    string        `json:"batch_id"`
	Index      int           `json:"index"`
	Root       common.Hash   `json:"root"`
	Record     hexutil.Bytes `json:"record"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// Outcome is the result of executing a batch. A rejected batch has
// Executed false and FailedIndex set to the first record whose proof failed.
type Outcome struct {
	BatchID     string      `json:"batch_id"`
	Root        common.Hash `json:"root"`
	Executed    bool        `json:"executed"`
	Count       int         `json:"count"`
	FailedIndex int         `json:"failed_index"`
	Entries     []Entry     `json:"entries,omitempty"`
}

// BatchRecord is an archived batch outcome.
type BatchRecord struct {
	ID          int64  `json:"id"`
	BatchID     string `json:"batch_id"`
	Root        string `json:"root"`
	Executed    bool   `json:"executed"`
	RecordCount int    `json:"record_count"`
	FailedIndex int    `json:"failed_index"`
	CreatedAt   int64  `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("merklebatch api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("merklebatch api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets a bearer token sent with every request, for
// deployments behind an authenticating gateway.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func toHex(records [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

// Prove builds a commitment without changing the server's root.
func (c *Client) Prove(ctx context.Context, records [][]byte) (Commitment, error) {
	var out Commitment
	err := c.send(ctx, http.MethodPost, "/api/v1/proofs", nil, map[string]any{"records": toHex(records)}, &out)
	return out, err
}

// Commit builds a commitment and makes its root the server's current root.
func (c *Client) Commit(ctx context.Context, records [][]byte) (Commitment, error) {
	var out Commitment
	err := c.send(ctx, http.MethodPost, "/api/v1/commitments", nil, map[string]any{"records": toHex(records)}, &out)
	return out, err
}

// Root returns the committed root.
func (c *Client) Root(ctx context.Context) (common.Hash, error) {
	var out struct {
		Root hexutil.Bytes `json:"root"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/root", nil, nil, &out); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(out.Root), nil
}

// SetRoot replaces the committed root.
func (c *Client) SetRoot(ctx context.Context, root common.Hash) error {
	return c.send(ctx, http.MethodPut, "/api/v1/root", nil, map[string]any{"root": hexutil.Bytes(root.Bytes())}, nil)
}

// Execute submits a batch with its proofs.
func (c *Client) Execute(ctx context.Context, records [][]byte, proofs []Proof) (Outcome, error) {
	var out Outcome
	body := map[string]any{"records": toHex(records), "proofs": proofs}
	err := c.send(ctx, http.MethodPost, "/api/v1/batches", nil, body, &out)
	return out, err
}

// Verify checks a single record against a proof and root.
func (c *Client) Verify(ctx context.Context, record []byte, proof Proof, root common.Hash) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	body := map[string]any{"record": hexutil.Bytes(record), "proof": proof, "root": hexutil.Bytes(root.Bytes())}
	if err := c.send(ctx, http.MethodPost, "/api/v1/verify", nil, body, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// History returns the newest archived batch outcomes.
func (c *Client) History(ctx context.Context, limit int) ([]BatchRecord, error) {
	var out []BatchRecord
	err := c.send(ctx, http.MethodGet, "/api/v1/batches", limitQuery(limit), nil, &out)
	return out, err
}

// Executions returns the most recent executed records in execution order.
func (c *Client) Executions(ctx context.Context, limit int) ([]Entry, error) {
	var out []Entry
	err := c.send(ctx, http.MethodGet, "/api/v1/executions", limitQuery(limit), nil, &out)
	return out, err
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
