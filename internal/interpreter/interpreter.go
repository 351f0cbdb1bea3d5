// Package interpreter hands unmatched action requests to an external
// natural-language service that decides what, if anything, to execute.
package interpreter

import (
	"context"
	"fmt"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/ggonzalez94/sonic-agent/internal/execution"
	"github.com/ggonzalez94/sonic-agent/internal/httpx"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/registry"
)

type request struct {
	Instruction string `json:"instruction"`
	Wallet      string `json:"wallet"`
	ChainID     int64  `json:"chain_id"`
}

type response struct {
	Handled  bool     `json:"handled"`
	Message  string   `json:"message"`
	TxHashes []string `json:"tx_hashes"`
}

// Client posts instructions to an HTTP interpreter endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *httpx.Client
}

func New(endpoint, apiKey string, timeout time.Duration, userAgent string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !registry.IsAllowedInterpreterURL(endpoint) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("interpreter endpoint %q must be https (http is allowed for loopback only)", endpoint))
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(apiKey),
		http:     httpx.New(timeout, 0, userAgent),
	}, nil
}

func (c *Client) Interpret(ctx context.Context, w execution.Wallet, instruction string) (providers.Result, error) {
	req := request{Instruction: instruction}
	if w != nil {
		req.Wallet = w.Address().Hex()
		req.ChainID = w.ChainID()
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	var resp response
	if _, err := c.http.PostJSON(ctx, c.endpoint, req, headers, &resp); err != nil {
		return providers.Result{}, err
	}
	if !resp.Handled {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = "instruction not understood"
		}
		return providers.Result{TxHashes: resp.TxHashes}, clierr.New(clierr.CodeUnsupported, msg)
	}
	return providers.Result{Message: resp.Message, TxHashes: resp.TxHashes}, nil
}
