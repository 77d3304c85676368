// Package engine implements the client side of the external pairing-based
// cryptographic service. The service performs the actual Setup and KeyGen
// mathematics; this package only marshals requests, detects failure
// signals, and passes the opaque group-element encodings through.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tiacvote/poll-ceremony-backend/interfaces"
)

// Client talks JSON over HTTP to the crypto engine service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an engine client for the given base URL.
// An optional timeout overrides the 120s default; keygen for large
// authority sets is the slowest call this backend makes.
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 120 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

type setupRequest struct {
	SecurityLevel int `json:"security_level"`
}

type keygenRequest struct {
	PairingParam   string `json:"pairing_param"`
	PrimeOrder     string `json:"prime_order"`
	G1             string `json:"g1"`
	G2             string `json:"g2"`
	H1             string `json:"h1"`
	Threshold      int    `json:"threshold"`
	AuthorityCount int    `json:"authority_count"`
}

// Setup invokes the engine's Setup operation at the given security level.
func (c *Client) Setup(ctx context.Context, securityLevel int) (interfaces.SetupParams, error) {
	var params interfaces.SetupParams
	err := c.post(ctx, "/setup", setupRequest{SecurityLevel: securityLevel}, &params)
	if err != nil {
		return interfaces.SetupParams{}, fmt.Errorf("engine setup failed: %w", err)
	}

	if params.PairingParam == "" || params.PrimeOrder == "" {
		return interfaces.SetupParams{}, fmt.Errorf("engine setup returned empty parameters")
	}
	return params, nil
}

// KeyGen invokes the engine's KeyGen operation for the given setup
// parameters, threshold and authority count.
func (c *Client) KeyGen(ctx context.Context, params interfaces.SetupParams, threshold, authorityCount int) (interfaces.KeyGenResult, error) {
	req := keygenRequest{
		PairingParam:   params.PairingParam,
		PrimeOrder:     params.PrimeOrder,
		G1:             params.G1,
		G2:             params.G2,
		H1:             params.H1,
		Threshold:      threshold,
		AuthorityCount: authorityCount,
	}

	var result interfaces.KeyGenResult
	if err := c.post(ctx, "/keygen", req, &result); err != nil {
		return interfaces.KeyGenResult{}, fmt.Errorf("engine keygen failed: %w", err)
	}

	if result.MVK.Alpha2 == "" || len(result.Shares) == 0 {
		return interfaces.KeyGenResult{}, fmt.Errorf("engine keygen returned empty result")
	}
	return result, nil
}

// post sends one JSON request and decodes the response into out. Non-2xx
// responses carry the engine's human-readable error string in the body.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode engine response: %w", err)
	}
	return nil
}
