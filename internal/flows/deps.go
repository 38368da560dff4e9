package flows

import (
	"context"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/store"
)

// Guard is a domain precondition evaluated after the claim verified and
// before any usage transition.
type Guard func(ctx context.Context, token *store.Token, cl claim.Claim, now time.Time) error

// flowAbort carries a classified failure out of a store transaction so the
// transaction rolls back.
type flowAbort struct {
	kind int
	err  error
}

func (a *flowAbort) Error() string {
	if a.err != nil {
		return a.err.Error()
	}
	return "flow aborted"
}

func (a *flowAbort) Unwrap() error { return a.err }

func abort(kind int, err error) error {
	return &flowAbort{kind: kind, err: err}
}
