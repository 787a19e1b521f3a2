package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/readyscore/readyscore/pkg/evidence"
)

// Header names set by collectors on every delivery.
const (
	SignatureHeader = "X-Readyscore-Signature"
	EventHeader     = "X-Readyscore-Event"
	DeliveryHeader  = "X-Readyscore-Delivery"
)

// VerifySignature verifies the HMAC-SHA256 signature of a delivery.
func VerifySignature(payload []byte, signature string, secret []byte) error {
	if !strings.HasPrefix(signature, "sha256=") {
		return fmt.Errorf("invalid signature format")
	}
	sig, err := hex.DecodeString(signature[7:])
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	if !hmac.Equal(sig, expected) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Sign returns the signature header value for payload.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// PingEvent is sent when a collector is first configured.
type PingEvent struct {
	Collector string `json:"collector"`
}

// EvidenceEvent carries one batch of repository hand-off objects.
type EvidenceEvent struct {
	Collector    string                `json:"collector"`
	Repositories []evidence.Repository `json:"-"`
}

// ParseEvent parses a delivery payload based on the event type.
func ParseEvent(eventType string, payload []byte) (any, error) {
	switch eventType {
	case "ping":
		var e PingEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("parse ping event: %w", err)
		}
		return &e, nil
	case "evidence":
		var raw struct {
			Collector    string          `json:"collector"`
			Repositories json.RawMessage `json:"repositories"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("parse evidence event: %w", err)
		}
		repos, err := evidence.ParseRepositories(raw.Repositories)
		if err != nil {
			return nil, fmt.Errorf("parse evidence event: %w", err)
		}
		if len(repos) == 0 {
			return nil, fmt.Errorf("parse evidence event: no repositories")
		}
		return &EvidenceEvent{Collector: raw.Collector, Repositories: repos}, nil
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
}
