// Package nodeclient talks to the ledger node API.
package nodeclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"confio/config"
	"confio/core/types"
	"confio/crypto"
	"confio/rpc"
)

// APIError is a non-2xx reply from the node.
type APIError struct {
	Status  int
	Message string
	Data    *rpc.ErrorData
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the node.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Config captures the client parameters.
type Config struct {
	URL               string
	HeaderName        string
	HeaderValue       string
	RequestsPerSecond float64
	Timeout           time.Duration
	Retries           int
}

// FromNode derives the client configuration, including the provider header
// rule, from process configuration.
func FromNode(n config.Node) Config {
	name, value := n.AuthHeader()
	return Config{URL: n.URL, HeaderName: name, HeaderValue: value, RequestsPerSecond: n.RequestsPerSecond}
}

// Client is safe for concurrent use.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("node: url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 2
	}
	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Accept", "application/json").
		SetError(&rpc.ErrorResponse{}).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// only reads are retried; a resent group is reported as a duplicate
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.HeaderName != "" {
		rc.SetHeader(cfg.HeaderName, cfg.HeaderValue)
	}
	c := &Client{http: rc}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

func (c *Client) request(ctx context.Context, result any) (*resty.Request, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	r := c.http.R().SetContext(ctx)
	if result != nil {
		r.SetResult(result)
	}
	return r, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
	if body, ok := resp.Error().(*rpc.ErrorResponse); ok && body.Message != "" {
		apiErr.Message = body.Message
		apiErr.Data = body.Data
	}
	return apiErr
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	r, err := c.request(ctx, result)
	if err != nil {
		return err
	}
	return check(r.Get(path))
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	r, err := c.request(ctx, result)
	if err != nil {
		return err
	}
	return check(r.SetBody(body).Post(path))
}

func (c *Client) Status(ctx context.Context) (types.NodeStatus, error) {
	var out types.NodeStatus
	return out, c.get(ctx, "/v2/status", &out)
}

// WaitForBlockAfter blocks on the node until a round after round commits.
func (c *Client) WaitForBlockAfter(ctx context.Context, round uint64) (types.NodeStatus, error) {
	var out types.NodeStatus
	return out, c.get(ctx, "/v2/status/wait-for-block-after/"+strconv.FormatUint(round, 10), &out)
}

func (c *Client) SuggestedParams(ctx context.Context) (types.SuggestedParams, error) {
	var out types.SuggestedParams
	return out, c.get(ctx, "/v2/transactions/params", &out)
}

// SendGroup submits a signed group and returns the id of its first
// transaction. A group the node already holds is treated as accepted.
func (c *Client) SendGroup(ctx context.Context, group []types.SignedTxn) (types.TxID, error) {
	if len(group) == 0 {
		return types.TxID{}, errors.New("node: empty group")
	}
	raw, err := types.EncodeGroup(group)
	if err != nil {
		return types.TxID{}, err
	}
	var out rpc.SendResponse
	err = c.post(ctx, "/v2/transactions", rpc.SendRequest{Txns: raw}, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		return group[0].Txn.ID()
	}
	if err != nil {
		return types.TxID{}, err
	}
	return types.ParseTxID(out.TxID)
}

// Simulate evaluates a group without committing it.
func (c *Client) Simulate(ctx context.Context, group []types.SignedTxn, allowEmptySigs bool) (*types.SimulateResult, error) {
	raw, err := types.EncodeGroup(group)
	if err != nil {
		return nil, err
	}
	var out types.SimulateResult
	req := rpc.SimulateRequest{Txns: raw, AllowEmptySignatures: allowEmptySigs}
	if err := c.post(ctx, "/v2/transactions/simulate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PendingInfo(ctx context.Context, id types.TxID) (types.PendingTxn, error) {
	var out types.PendingTxn
	return out, c.get(ctx, "/v2/transactions/pending/"+id.String(), &out)
}

func (c *Client) AccountInfo(ctx context.Context, addr crypto.Address) (types.AccountInfo, error) {
	var out types.AccountInfo
	return out, c.get(ctx, "/v2/accounts/"+addr.String(), &out)
}

func (c *Client) AssetInfo(ctx context.Context, id uint64) (types.AssetInfo, error) {
	var out types.AssetInfo
	return out, c.get(ctx, "/v2/assets/"+strconv.FormatUint(id, 10), &out)
}

func (c *Client) AppInfo(ctx context.Context, id uint64) (types.AppInfo, error) {
	var out types.AppInfo
	return out, c.get(ctx, "/v2/applications/"+strconv.FormatUint(id, 10), &out)
}

// Box reads one sub-record of app.
func (c *Client) Box(ctx context.Context, app uint64, name []byte) (types.BoxInfo, error) {
	var out types.BoxInfo
	r, err := c.request(ctx, &out)
	if err != nil {
		return out, err
	}
	r.SetQueryParam("name", rpc.EncodeBoxName(name))
	return out, check(r.Get("/v2/applications/" + strconv.FormatUint(app, 10) + "/box"))
}

func (c *Client) BoxNames(ctx context.Context, app uint64) ([][]byte, error) {
	var out rpc.BoxNamesResponse
	if err := c.get(ctx, "/v2/applications/"+strconv.FormatUint(app, 10)+"/boxes", &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}
