package flows

import (
	"context"
	"errors"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/store"
)

// RedeemFailureKind classifies redemption failures for root-level mapping.
type RedeemFailureKind int

const (
	RedeemFailureNone RedeemFailureKind = iota
	RedeemFailureInvalid
	RedeemFailureNotFound
	RedeemFailureExpired
	RedeemFailureInvalidSignature
	RedeemFailureDisabled
	RedeemFailurePrecondition
	RedeemFailureAlreadyRedeemed
	RedeemFailureExhausted
	RedeemFailureStore
)

// RedeemRequest is one Redeem call.
type RedeemRequest struct {
	Code     string
	By       string
	Device   string
	Location string
}

// RedeemResult carries the post-transition token or failure metadata.
type RedeemResult struct {
	Failure RedeemFailureKind
	Err     error
	Token   *store.Token
	Event   *store.RedemptionEvent
	// Flipped is set when this call moved the token to a terminal status.
	Flipped bool
}

// RedeemDeps captures redemption flow dependencies.
type RedeemDeps struct {
	Store  store.Store
	Codec  *claim.Codec
	Guards []Guard
	Now    func() time.Time
	NewID  func() string
}

// RunRedeem looks up, verifies and consumes one use of a token inside a
// single store transaction. Any failure rolls the whole unit back.
func RunRedeem(ctx context.Context, req RedeemRequest, deps RedeemDeps) RedeemResult {
	if req.Code == "" {
		return RedeemResult{Failure: RedeemFailureInvalid, Err: errors.New("code required")}
	}

	var res RedeemResult
	err := deps.Store.InTx(ctx, func(tx store.Tx) error {
		res = RedeemResult{}
		now := deps.Now()

		tok, err := tx.FindByCode(ctx, req.Code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return abort(int(RedeemFailureNotFound), err)
			}
			return abort(int(RedeemFailureStore), err)
		}

		cl, kind, err := VerifyStored(deps.Codec, tok, now)
		switch kind {
		case VerifyExpired:
			return abort(int(RedeemFailureExpired), err)
		case VerifyInvalidSignature:
			return abort(int(RedeemFailureInvalidSignature), err)
		}

		if tok.Disabled {
			return abort(int(RedeemFailureDisabled), nil)
		}

		for _, guard := range deps.Guards {
			if err := guard(ctx, tok, cl, now); err != nil {
				return abort(int(RedeemFailurePrecondition), err)
			}
		}

		// A redeemed token is terminal whatever its MaxUses reads now:
		// legacy redemption normalizes MaxUses to 1.
		if tok.Status == store.StatusRedeemed {
			return abort(int(RedeemFailureAlreadyRedeemed), nil)
		}

		if tok.MaxUses > 0 {
			flipped, err := consumeMultiUse(ctx, tx, tok.ID)
			if err != nil {
				return err
			}
			res.Flipped = flipped
		} else {
			if err := consumeSingleUse(ctx, tx, tok.ID); err != nil {
				return err
			}
			res.Flipped = true
		}

		event := &store.RedemptionEvent{
			ID:         deps.NewID(),
			TokenID:    tok.ID,
			RedeemedAt: now,
			By:         req.By,
			Device:     req.Device,
			Location:   req.Location,
		}
		if err := tx.InsertRedemption(ctx, event); err != nil {
			return abort(int(RedeemFailureStore), err)
		}

		final, err := tx.FindByID(ctx, tok.ID)
		if err != nil {
			return abort(int(RedeemFailureStore), err)
		}
		res.Token = final
		res.Event = event
		return nil
	})

	if err != nil {
		var a *flowAbort
		if errors.As(err, &a) {
			return RedeemResult{Failure: RedeemFailureKind(a.kind), Err: a.err}
		}
		return RedeemResult{Failure: RedeemFailureStore, Err: err}
	}
	return res
}

// consumeMultiUse increments UsedCount under the cap and flips the status
// to exhausted when this use reached it. Only one racer performs the flip;
// every racer that got past the increment still owns one use.
func consumeMultiUse(ctx context.Context, tx store.Tx, id string) (bool, error) {
	n, err := tx.ConditionalUpdate(ctx, id,
		store.Cond{StatusIs: store.StatusActive, UsedCountBelowMax: true, NotDisabled: true},
		store.Patch{IncrementUsed: 1},
	)
	if err != nil {
		return false, abort(int(RedeemFailureStore), err)
	}
	if n == 0 {
		return false, abort(int(RedeemFailureExhausted), nil)
	}

	cur, err := tx.FindByID(ctx, id)
	if err != nil {
		return false, abort(int(RedeemFailureStore), err)
	}
	if cur.UsedCount < cur.MaxUses {
		return false, nil
	}

	n, err = tx.ConditionalUpdate(ctx, id,
		store.Cond{StatusIs: store.StatusActive},
		store.Patch{Status: store.StatusExhausted},
	)
	if err != nil {
		return false, abort(int(RedeemFailureStore), err)
	}
	return n == 1, nil
}

// consumeSingleUse redeems a legacy token and normalizes it into the
// multi-use accounting (MaxUses=1, UsedCount=1).
func consumeSingleUse(ctx context.Context, tx store.Tx, id string) error {
	n, err := tx.ConditionalUpdate(ctx, id,
		store.Cond{StatusNot: store.StatusRedeemed, NotDisabled: true},
		store.Patch{Status: store.StatusRedeemed, UsedCount: store.Int(1), MaxUses: store.Int(1)},
	)
	if err != nil {
		return abort(int(RedeemFailureStore), err)
	}
	if n == 0 {
		return abort(int(RedeemFailureAlreadyRedeemed), nil)
	}
	return nil
}
