package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultTolerance is the maximum accepted age of a signature timestamp
const DefaultTolerance = webhook.DefaultTolerance

// Verifier authenticates inbound events against the shared signing secret
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a verifier. An empty secret is a configuration error.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook signing secret is not configured", ErrConfig)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}, nil
}

// Verify checks the signature header against the raw body and decodes the
// envelope. payload must be the exact bytes received.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (Event, error) {
	if v == nil || v.secret == "" {
		return Event{}, fmt.Errorf("%w: webhook signing secret is not configured", ErrConfig)
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return Event{}, fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	se, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if se.ID == "" || se.Type == "" {
		return Event{}, fmt.Errorf("%w: envelope is missing id or type", ErrMalformedEvent)
	}

	ev := Event{
		ID:       se.ID,
		Type:     EventType(se.Type),
		Livemode: se.Livemode,
		Created:  se.Created,
	}
	if se.Data != nil {
		ev.Object = se.Data.Raw
	}
	return ev, nil
}

// Verify authenticates a single payload with an explicit secret
func Verify(payload []byte, signatureHeader, secret string) (Event, error) {
	v, err := NewVerifier(secret, DefaultTolerance)
	if err != nil {
		return Event{}, err
	}
	return v.Verify(payload, signatureHeader)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
