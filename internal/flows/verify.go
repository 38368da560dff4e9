package flows

import (
	"errors"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/store"
)

// VerifyFailureKind classifies why a stored token failed verification.
type VerifyFailureKind int

const (
	VerifyOK VerifyFailureKind = iota
	VerifyExpired
	VerifyInvalidSignature
)

// VerifyStored checks a persisted token: wall-clock expiry first, then the
// signed claim and its binding to the row's own fields.
func VerifyStored(codec *claim.Codec, tok *store.Token, now time.Time) (claim.Claim, VerifyFailureKind, error) {
	if now.After(tok.ExpiresAt) {
		return claim.Claim{}, VerifyExpired, claim.ErrExpired
	}

	signed, err := claim.Decode(tok.Claim)
	if err != nil {
		return claim.Claim{}, VerifyInvalidSignature, err
	}
	cl, err := codec.VerifyFor(signed, tok.OwnerID, tok.Code, tok.Kind, now)
	if err != nil {
		if errors.Is(err, claim.ErrExpired) {
			return claim.Claim{}, VerifyExpired, err
		}
		return claim.Claim{}, VerifyInvalidSignature, err
	}
	if cl.ExpiresAt.UnixMilli() != tok.ExpiresAt.UnixMilli() {
		return claim.Claim{}, VerifyInvalidSignature, claim.ErrInvalidSignature
	}
	return cl, VerifyOK, nil
}
