// Package arenaclient reads finished matches and their attestations from
// the arena service. The market side never trusts the transport alone: it
// re-verifies the attestation signature before settling.
package arenaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"moltcombat/pkg/domain"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{}}
}

func (c *Client) GetMatch(ctx context.Context, matchID string) (*domain.MatchRecord, error) {
	var out struct {
		Match *domain.MatchRecord `json:"match"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/arena/matches/%s", c.BaseURL, matchID), &out); err != nil {
		return nil, err
	}
	if out.Match == nil {
		return nil, fmt.Errorf("arena returned no match")
	}
	return out.Match, nil
}

func (c *Client) GetAttestation(ctx context.Context, matchID string) (*domain.MatchAttestationRecord, error) {
	var out struct {
		Attestation *domain.MatchAttestationRecord `json:"attestation"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/arena/matches/%s/attestation", c.BaseURL, matchID), &out); err != nil {
		return nil, err
	}
	return out.Attestation, nil
}

func (c *Client) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("arena returned 404")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("arena returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
