package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/readyscore/readyscore/pkg/evidence"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("webhook-secret-123")
	payload := []byte(`{"collector":"ci"}`)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    []byte
		wantErr   bool
	}{
		{
			name:      "valid signature",
			payload:   payload,
			signature: Sign(payload, secret),
			secret:    secret,
			wantErr:   false,
		},
		{
			name:      "wrong secret",
			payload:   payload,
			signature: Sign(payload, []byte("wrong-secret")),
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "tampered payload",
			payload:   []byte(`{"collector":"other"}`),
			signature: Sign(payload, secret),
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "missing sha256= prefix",
			payload:   payload,
			signature: "not-a-valid-sig",
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "invalid hex after prefix",
			payload:   payload,
			signature: "sha256=zzzz",
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "empty signature",
			payload:   payload,
			signature: "",
			secret:    secret,
			wantErr:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature(tc.payload, tc.signature, tc.secret)
			if (err != nil) != tc.wantErr {
				t.Errorf("VerifySignature() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

const evidenceDelivery = `{
  "collector": "nightly",
  "repositories": [
    {"repository_id": "org/api", "stack": "python_backend", "evidence": []},
    {"repository_id": "org/web", "stack": "react_frontend", "evidence": []}
  ]
}`

func TestParseEvent_Evidence(t *testing.T) {
	event, err := ParseEvent("evidence", []byte(evidenceDelivery))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	ev, ok := event.(*EvidenceEvent)
	if !ok {
		t.Fatalf("expected *EvidenceEvent, got %T", event)
	}
	if ev.Collector != "nightly" {
		t.Errorf("collector = %q, want nightly", ev.Collector)
	}
	if len(ev.Repositories) != 2 || ev.Repositories[1].ID != "org/web" {
		t.Errorf("repositories = %+v", ev.Repositories)
	}
}

func TestParseEvent_EvidenceSingleObject(t *testing.T) {
	payload := `{"repositories": {"repository_id": "org/api", "evidence": []}}`
	event, err := ParseEvent("evidence", []byte(payload))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev := event.(*EvidenceEvent); len(ev.Repositories) != 1 {
		t.Errorf("repositories = %d, want 1", len(ev.Repositories))
	}
}

func TestParseEvent_Errors(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   string
	}{
		{"unsupported type", "unknown_event", `{}`},
		{"ping invalid json", "ping", `{invalid json`},
		{"evidence invalid json", "evidence", `{invalid json`},
		{"evidence without repositories", "evidence", `{"collector":"ci"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseEvent(tc.eventType, []byte(tc.payload)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

type fakeScorer struct {
	source string
	repos  []evidence.Repository
	err    error
}

func (f *fakeScorer) Submit(_ context.Context, source string, repos []evidence.Repository) (string, int, error) {
	f.source, f.repos = source, repos
	if f.err != nil {
		return "", 0, f.err
	}
	return "run-1", len(repos), nil
}

func deliver(h http.Handler, event, body string, secret []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/collector", strings.NewReader(body))
	if event != "" {
		req.Header.Set(EventHeader, event)
	}
	req.Header.Set(DeliveryHeader, "d-1")
	req.Header.Set(SignatureHeader, Sign([]byte(body), secret))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler(t *testing.T) {
	secret := []byte("s3cret")

	t.Run("evidence is scored", func(t *testing.T) {
		scorer := &fakeScorer{}
		rec := deliver(NewHandler(secret, scorer, nil), "evidence", evidenceDelivery, secret)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if scorer.source != "webhook:nightly" || len(scorer.repos) != 2 {
			t.Errorf("scorer got source=%q repos=%d", scorer.source, len(scorer.repos))
		}
		var resp deliveryResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.RunID != "run-1" || resp.Scored != 2 || resp.Total != 2 {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("ping", func(t *testing.T) {
		scorer := &fakeScorer{}
		rec := deliver(NewHandler(secret, scorer, nil), "ping", `{"collector":"ci"}`, secret)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pong") {
			t.Errorf("ping: %d %s", rec.Code, rec.Body.String())
		}
		if scorer.repos != nil {
			t.Error("ping must not score anything")
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		rec := deliver(NewHandler(secret, &fakeScorer{}, nil), "evidence", evidenceDelivery, []byte("other"))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing event header", func(t *testing.T) {
		rec := deliver(NewHandler(secret, &fakeScorer{}, nil), "", evidenceDelivery, secret)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("scorer failure", func(t *testing.T) {
		scorer := &fakeScorer{err: errors.New("db down")}
		rec := deliver(NewHandler(secret, scorer, nil), "evidence", evidenceDelivery, secret)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/webhooks/collector", nil)
		rec := httptest.NewRecorder()
		NewHandler(secret, &fakeScorer{}, nil).ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}
