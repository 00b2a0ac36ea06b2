// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.
//
// Package offchain is the client of the DePIN REST service that issues email
// signatures for DID attributes and registers item types and tags before an
// item is stored on chain.

package offchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	signPath  = "/v1/sign"
	storePath = "/v1/data/store"

	// maxErrorBody bounds how much of a failed response is kept in the error.
	maxErrorBody = 512
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrEmptySignature   = errors.New("service returned no signature")
	ErrMissingBaseURL   = errors.New("service base url is empty")
)

// SignRequest asks the service to sign an email / DID pair.
type SignRequest struct {
	Email      string `json:"email"`
	DIDAddress string `json:"did_address"`
	Tag        string `json:"tag"`
}

type signResponse struct {
	Data struct {
		Signature string `json:"signature"`
	} `json:"data"`
}

// StoreRequest registers an item type and its tags.
type StoreRequest struct {
	ItemType string   `json:"item_type"`
	Email    string   `json:"email"`
	Tag      string   `json:"tag"`
	Tags     []string `json:"tags"`
}

// Client talks to the service with the account and project API keys.
type Client struct {
	baseURL       string
	apiKey        string
	projectAPIKey string
	http          *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL, apiKey, projectAPIKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		projectAPIKey: projectAPIKey,
		http:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sign returns the service signature over the email / DID / tag triple.
func (c *Client) Sign(ctx context.Context, req SignRequest) (string, error) {
	var resp signResponse
	if err := c.post(ctx, signPath, req, &resp); err != nil {
		log.Error("Error creating email signature", "did", req.DIDAddress, "err", err)
		return "", err
	}
	if resp.Data.Signature == "" {
		return "", ErrEmptySignature
	}
	return resp.Data.Signature, nil
}

// StoreData registers the item type and tags. The response body is ignored.
func (c *Client) StoreData(ctx context.Context, req StoreRequest) error {
	if err := c.post(ctx, storePath, req, nil); err != nil {
		log.Error("Error registering item type and tags", "itemType", req.ItemType, "err", err)
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APIKEY", c.apiKey)
	req.Header.Set("P-APIKEY", c.projectAPIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %d: %s", ErrUnexpectedStatus, path, resp.StatusCode, bytes.TrimSpace(excerpt))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
