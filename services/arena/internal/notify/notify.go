// Package notify delivers signed match-finished webhooks to a configured
// consumer. The HMAC scheme mirrors what downstream services verify:
// hex(SHA256-HMAC(secret, raw body)) in X-Signature, with event metadata in
// X-Event-Id and X-Event-Type.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"moltcombat/pkg/domain"

	"github.com/google/uuid"
)

const (
	signatureHeader = "X-Signature"
	eventIDHeader   = "X-Event-Id"
	eventTypeHeader = "X-Event-Type"

	EventMatchFinished = "match.finished"
)

type Notifier struct {
	URL    string
	Secret string
	HTTP   *http.Client
}

// New returns nil when no webhook URL is configured; a nil Notifier skips
// delivery without error.
func New(url, secret string) *Notifier {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	return &Notifier{URL: url, Secret: secret, HTTP: &http.Client{}}
}

type matchFinishedEvent struct {
	EventID       string                         `json:"event_id"`
	Type          string                         `json:"type"`
	MatchID       string                         `json:"match_id"`
	Winner        string                         `json:"winner,omitempty"`
	TurnsPlayed   int                            `json:"turns_played"`
	ScorecardHash string                         `json:"scorecard_hash"`
	Attestation   *domain.MatchAttestationRecord `json:"attestation,omitempty"`
}

func (n *Notifier) MatchFinished(ctx context.Context, m *domain.MatchRecord, att *domain.MatchAttestationRecord) error {
	if n == nil {
		return nil
	}
	evt := matchFinishedEvent{
		EventID:       "evt_" + uuid.NewString(),
		Type:          EventMatchFinished,
		MatchID:       m.ID,
		Winner:        m.Winner,
		TurnsPlayed:   m.TurnsPlayed,
		ScorecardHash: m.ScorecardHash,
		Attestation:   att,
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventIDHeader, evt.EventID)
	req.Header.Set(eventTypeHeader, evt.Type)
	req.Header.Set(signatureHeader, Sign(n.Secret, body))

	resp, err := n.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook consumer returned %d", resp.StatusCode)
	}
	return nil
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound copy of the webhook against the shared
// secret.
func VerifySignature(secret string, body []byte, sigHex string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
