package ticket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

// Claims is the content bound into a ticket payload.
type Claims struct {
	TicketID string `json:"ticketId"`
	Email    string `json:"email"`
}

// Signer produces and checks ticket payloads of the form
// base64url(json) "." base64url(HMAC-SHA256(key, json)).
type Signer struct {
	key []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, oops.Code(errutil.CodeConfiguration).Errorf("ticket signing secret is not configured")
	}
	return &Signer{key: []byte(secret)}, nil
}

func (s *Signer) mac(body []byte) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write(body)
	return m.Sum(nil)
}

// Encode is deterministic: the same ticket id and email always yield the
// same payload.
func (s *Signer) Encode(ticketID, email string) (string, error) {
	body, err := json.Marshal(Claims{TicketID: ticketID, Email: email})
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "encode ticket claims").Wrap(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(body) + "." + enc.EncodeToString(s.mac(body)), nil
}

// Decode returns INTEGRITY for anything not produced by Encode with the
// same key.
func (s *Signer) Decode(payload string) (*Claims, error) {
	bodyPart, sigPart, ok := strings.Cut(payload, ".")
	if !ok {
		return nil, integrity("payload has no signature")
	}
	enc := base64.RawURLEncoding
	body, err := enc.DecodeString(bodyPart)
	if err != nil {
		return nil, integrity("payload body is not base64url")
	}
	sig, err := enc.DecodeString(sigPart)
	if err != nil {
		return nil, integrity("payload signature is not base64url")
	}
	if !hmac.Equal(sig, s.mac(body)) {
		return nil, integrity("signature mismatch")
	}

	var c Claims
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, integrity("payload body is not json")
	}
	if c.TicketID == "" {
		return nil, integrity("payload has no ticket id")
	}
	return &c, nil
}

func integrity(reason string) error {
	return oops.Code(errutil.CodeIntegrity).Public("ticket failed verification").Errorf("%s", reason)
}
