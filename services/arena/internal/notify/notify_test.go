package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"moltcombat/pkg/domain"
)

func TestMatchFinishedSignsBody(t *testing.T) {
	secret := "topsecret"
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		if r.Header.Get("X-Event-Type") != EventMatchFinished {
			t.Errorf("event type header: %q", r.Header.Get("X-Event-Type"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, secret)
	m := &domain.MatchRecord{ID: "match-1", Winner: "agent-a", TurnsPlayed: 5, ScorecardHash: "abc"}
	if err := n.MatchFinished(context.Background(), m, nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !VerifySignature(secret, gotBody, gotSig) {
		t.Fatalf("signature must verify against the delivered body")
	}
	if VerifySignature("wrong", gotBody, gotSig) {
		t.Fatalf("wrong secret must not verify")
	}
}

func TestNilNotifierSkips(t *testing.T) {
	var n *Notifier
	if err := n.MatchFinished(context.Background(), &domain.MatchRecord{}, nil); err != nil {
		t.Fatalf("nil notifier must be a no-op: %v", err)
	}
	if New("", "secret") != nil {
		t.Fatalf("empty URL must disable the notifier")
	}
}

func TestMatchFinishedRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := New(srv.URL, "s")
	if err := n.MatchFinished(context.Background(), &domain.MatchRecord{ID: "m"}, nil); err == nil {
		t.Fatalf("expected error on non-2xx consumer response")
	}
}
