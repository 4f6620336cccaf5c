// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bureau-foundation/librachat/lib/netutil"
	"github.com/bureau-foundation/librachat/lib/signing"
)

// Client fetches federation documents from remote servers.
type Client struct {
	HTTPClient *http.Client
}

// NewClient creates a Client using httpClient, or
// http.DefaultClient when nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTPClient: httpClient}
}

func (c *Client) get(ctx context.Context, baseURL, path string, v any) error {
	url := strings.TrimRight(baseURL, "/") + path
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}
	response, err := c.HTTPClient.Do(request)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: HTTP %d: %s", url, response.StatusCode, netutil.ErrorBody(response.Body))
	}
	if err := netutil.DecodeResponse(response.Body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

// ServerKeys fetches the key document served at baseURL and verifies
// its self-signatures.
func (c *Client) ServerKeys(ctx context.Context, baseURL string) (*signing.ServerKeys, error) {
	var keys signing.ServerKeys
	if err := c.get(ctx, baseURL, "/_matrix/key/v2/server", &keys); err != nil {
		return nil, err
	}
	if keys.ServerName.IsZero() {
		return nil, fmt.Errorf("key document from %s has no server_name", baseURL)
	}
	if err := keys.VerifySelfSigned(); err != nil {
		return nil, fmt.Errorf("key document from %s: %w", baseURL, err)
	}
	return &keys, nil
}

// Version fetches the signed version document at baseURL and checks
// its signature against keys.
func (c *Client) Version(ctx context.Context, baseURL string, keys *signing.ServerKeys) (*VersionResponse, error) {
	var response VersionResponse
	if err := c.get(ctx, baseURL, "/_matrix/federation/v1/version", &response); err != nil {
		return nil, err
	}
	if err := verifyAny(&response, keys); err != nil {
		return nil, fmt.Errorf("version document from %s: %w", baseURL, err)
	}
	return &response, nil
}

// verifyAny accepts document if any of the published keys signed it.
func verifyAny(document any, keys *signing.ServerKeys) error {
	var lastErr error
	for keyID := range keys.VerifyKeys {
		public, err := keys.Key(keyID)
		if err != nil {
			return err
		}
		lastErr = signing.VerifyJSON(document, keys.ServerName, keyID, public)
		if lastErr == nil {
			return nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("server %s publishes no keys", keys.ServerName)
	}
	return lastErr
}
