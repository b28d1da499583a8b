// Package client is a typed HTTP client for the SeedTrace API. Mutating calls
// are signed with a credential for the configured identity.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dharsanguruparan/SeedTrace/internal/api"
	"github.com/dharsanguruparan/SeedTrace/internal/ledger"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/signing"
)

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Client talks to one SeedTrace server.
type Client struct {
	baseURL  string
	http     *http.Client
	signer   *signing.Signer
	identity string
	ttl      time.Duration
}

// New returns a client for baseURL. signer and identity may be empty for
// read-only use.
func New(baseURL string, signer *signing.Signer, identity string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		signer:   signer,
		identity: identity,
		ttl:      ttl,
	}
}

// Status returns the collection metadata and pause flag.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// Initialize bootstraps the tracker with admin.
func (c *Client) Initialize(ctx context.Context, admin model.Identity, name, symbol string) error {
	return c.do(ctx, http.MethodPost, "/initialize", api.InitializeRequest{Admin: admin, Name: name, Symbol: symbol}, nil)
}

// Mint creates an asset.
func (c *Client) Mint(ctx context.Context, to model.Identity, handle model.Handle, d ledger.Descriptive) (model.Asset, error) {
	var out model.Asset
	err := c.do(ctx, http.MethodPost, "/assets", api.MintRequest{To: to, Handle: handle, Descriptive: d}, &out)
	return out, err
}

// Asset fetches the asset record.
func (c *Client) Asset(ctx context.Context, handle model.Handle) (model.Asset, error) {
	var out model.Asset
	err := c.do(ctx, http.MethodGet, assetPath(handle, ""), nil, &out)
	return out, err
}

// History fetches the transition log.
func (c *Client) History(ctx context.Context, handle model.Handle) ([]model.StateTransition, error) {
	var out []model.StateTransition
	err := c.do(ctx, http.MethodGet, assetPath(handle, "history"), nil, &out)
	return out, err
}

// Owner fetches the current owner.
func (c *Client) Owner(ctx context.Context, handle model.Handle) (model.Identity, error) {
	var out api.OwnerResponse
	err := c.do(ctx, http.MethodGet, assetPath(handle, "owner"), nil, &out)
	return out.Owner, err
}

// Advance moves the asset to target.
func (c *Client) Advance(ctx context.Context, handle model.Handle, target model.Stage, env ledger.Environment, note *string) (model.Asset, error) {
	var out model.Asset
	body := api.StateRequest{ToState: api.StageOf(target), Environment: env, Notes: note}
	err := c.do(ctx, http.MethodPost, assetPath(handle, "state"), body, &out)
	return out, err
}

// UpdateMetadata sends only the touched fields of p.
func (c *Client) UpdateMetadata(ctx context.Context, handle model.Handle, p ledger.Patch) (model.Asset, error) {
	var out model.Asset
	err := c.do(ctx, http.MethodPatch, assetPath(handle, "metadata"), p.Document(), &out)
	return out, err
}

// Transfer moves the asset from `from` to `to`.
func (c *Client) Transfer(ctx context.Context, handle model.Handle, from, to model.Identity) (model.Asset, error) {
	var out model.Asset
	err := c.do(ctx, http.MethodPost, assetPath(handle, "transfer"), api.TransferRequest{From: from, To: to}, &out)
	return out, err
}

// Approve authorizes spender to transfer the asset.
func (c *Client) Approve(ctx context.Context, handle model.Handle, spender model.Identity) (model.Asset, error) {
	var out model.Asset
	err := c.do(ctx, http.MethodPost, assetPath(handle, "approve"), api.ApproveRequest{Spender: spender}, &out)
	return out, err
}

// Balance counts the assets owned by account.
func (c *Client) Balance(ctx context.Context, account model.Identity) (uint64, error) {
	var out api.BalanceResponse
	err := c.do(ctx, http.MethodGet, accountPath(account, "balance"), nil, &out)
	return out.Balance, err
}

// HasRole checks a role flag.
func (c *Client) HasRole(ctx context.Context, account model.Identity, role model.Role) (bool, error) {
	var out api.RoleResponse
	err := c.do(ctx, http.MethodGet, accountPath(account, "roles/"+string(role)), nil, &out)
	return out.HasRole, err
}

// SetRole grants or revokes a role.
func (c *Client) SetRole(ctx context.Context, account model.Identity, role model.Role, granted bool) error {
	method := http.MethodDelete
	if granted {
		method = http.MethodPut
	}
	return c.do(ctx, method, accountPath(account, "roles/"+string(role)), nil, nil)
}

// IsWhitelisted checks the whitelist.
func (c *Client) IsWhitelisted(ctx context.Context, account model.Identity) (bool, error) {
	var out api.WhitelistResponse
	err := c.do(ctx, http.MethodGet, accountPath(account, "whitelist"), nil, &out)
	return out.Whitelisted, err
}

// SetWhitelisted adds or removes account.
func (c *Client) SetWhitelisted(ctx context.Context, account model.Identity, listed bool) error {
	method := http.MethodDelete
	if listed {
		method = http.MethodPut
	}
	return c.do(ctx, method, accountPath(account, "whitelist"), nil, nil)
}

// SetPaused pauses or unpauses the tracker.
func (c *Client) SetPaused(ctx context.Context, paused bool) error {
	path := "/unpause"
	if paused {
		path = "/pause"
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func assetPath(handle model.Handle, sub string) string {
	p := "/assets/" + strconv.FormatUint(uint64(handle), 10)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func accountPath(account model.Identity, sub string) string {
	return "/accounts/" + url.PathEscape(string(account)) + "/" + sub
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil && c.identity != "" {
		c.signer.Issue(c.identity, c.ttl, time.Now()).Apply(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
