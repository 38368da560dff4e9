package claim

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretSize = 16

var (
	// ErrInvalidSignature is returned when the signature does not match the
	// claim, the version is unknown, or the claim is bound to another row.
	ErrInvalidSignature = errors.New("claim: invalid signature")
	// ErrExpired is returned for a correctly signed claim past its expiry.
	ErrExpired = errors.New("claim: expired")
	// ErrMalformed is returned when an encoded blob cannot be decoded.
	ErrMalformed = errors.New("claim: malformed blob")
	// ErrWeakSecret is returned by NewCodec for short secrets.
	ErrWeakSecret = errors.New("claim: signing secret too short")
)

// Codec signs and verifies claims with one injected secret.
type Codec struct {
	secret []byte
}

// NewCodec copies secret; it must be at least 16 bytes.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < minSecretSize {
		return nil, ErrWeakSecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key}, nil
}

// Sign computes the signature for c.
func (c *Codec) Sign(cl Claim) (Signed, error) {
	msg, err := signingString(cl)
	if err != nil {
		return Signed{}, err
	}
	sig, err := jwt.SigningMethodHS256.Sign(msg, c.secret)
	if err != nil {
		return Signed{}, err
	}
	return Signed{
		Claim:     cl,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks the signature first and only then the expiry. The
// comparison is constant-time.
func (c *Codec) Verify(s Signed, now time.Time) (Claim, error) {
	msg, err := signingString(s.Claim)
	if err != nil {
		return Claim{}, ErrInvalidSignature
	}
	sig, err := base64.RawURLEncoding.DecodeString(s.Signature)
	if err != nil || len(sig) == 0 {
		return Claim{}, ErrInvalidSignature
	}
	if err := jwt.SigningMethodHS256.Verify(msg, sig, c.secret); err != nil {
		return Claim{}, ErrInvalidSignature
	}

	if now.After(s.Claim.ExpiresAt) {
		return Claim{}, ErrExpired
	}
	return s.Claim, nil
}

// VerifyFor verifies s and additionally requires it to be bound to the
// given row fields.
func (c *Codec) VerifyFor(s Signed, ownerID, code, kind string, now time.Time) (Claim, error) {
	cl, err := c.Verify(s, now)
	if err != nil {
		return Claim{}, err
	}
	if cl.OwnerID != ownerID || cl.Code != code || cl.Kind != kind {
		return Claim{}, ErrInvalidSignature
	}
	return cl, nil
}

// signingString dispatches on the claim version.
func signingString(cl Claim) (string, error) {
	switch cl.Version {
	case Version1:
		return signingStringV1(cl)
	default:
		return "", ErrInvalidSignature
	}
}

func signingStringV1(cl Claim) (string, error) {
	if cl.Variant == nil {
		return "", errors.New("claim: missing variant")
	}

	fields := []string{
		string(cl.Variant.Domain()),
		cl.OwnerID,
		cl.Code,
		cl.Kind,
		strconv.FormatInt(cl.IssuedAt.UnixMilli(), 10),
		strconv.FormatInt(cl.ExpiresAt.UnixMilli(), 10),
	}
	fields = append(fields, cl.Variant.canonical()...)

	var b strings.Builder
	b.WriteString("v1")
	for _, f := range fields {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String(), nil
}

type wirePayload struct {
	Version   int             `json:"v"`
	Domain    Domain          `json:"d"`
	OwnerID   string          `json:"oid"`
	Code      string          `json:"code"`
	Kind      string          `json:"kind"`
	IssuedAt  int64           `json:"iat"`
	ExpiresAt int64           `json:"exp"`
	Fields    json.RawMessage `json:"f"`
}

type wireSigned struct {
	Payload   wirePayload `json:"payload"`
	Signature string      `json:"sig"`
}

// Encode renders s as the two-part text blob persisted with each token.
func Encode(s Signed) (string, error) {
	if s.Claim.Variant == nil {
		return "", errors.New("claim: missing variant")
	}
	fields, err := json.Marshal(s.Claim.Variant)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(wireSigned{
		Payload: wirePayload{
			Version:   s.Claim.Version,
			Domain:    s.Claim.Variant.Domain(),
			OwnerID:   s.Claim.OwnerID,
			Code:      s.Claim.Code,
			Kind:      s.Claim.Kind,
			IssuedAt:  s.Claim.IssuedAt.UnixMilli(),
			ExpiresAt: s.Claim.ExpiresAt.UnixMilli(),
			Fields:    fields,
		},
		Signature: s.Signature,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Decode parses a blob produced by Encode. It does not verify anything.
func Decode(blob string) (Signed, error) {
	var w wireSigned
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return Signed{}, ErrMalformed
	}

	v, err := decodeVariant(w.Payload.Domain, w.Payload.Fields)
	if err != nil {
		return Signed{}, err
	}

	return Signed{
		Claim: Claim{
			Version:   w.Payload.Version,
			OwnerID:   w.Payload.OwnerID,
			Code:      w.Payload.Code,
			Kind:      w.Payload.Kind,
			IssuedAt:  time.UnixMilli(w.Payload.IssuedAt).UTC(),
			ExpiresAt: time.UnixMilli(w.Payload.ExpiresAt).UTC(),
			Variant:   v,
		},
		Signature: w.Signature,
	}, nil
}

func decodeVariant(d Domain, raw json.RawMessage) (Variant, error) {
	if len(raw) == 0 {
		return nil, ErrMalformed
	}
	switch d {
	case DomainPrize:
		var v PrizeClaim
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, ErrMalformed
		}
		return v, nil
	case DomainPartyInvite:
		var v PartyInviteClaim
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, ErrMalformed
		}
		return v, nil
	case DomainEventInvite:
		var v EventInviteClaim
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, ErrMalformed
		}
		return v, nil
	default:
		return nil, ErrMalformed
	}
}
