// Package guard provides stock redemption preconditions for tokensapp
// engines.
package guard

import (
	"context"
	"fmt"
	"time"

	tokensapp "github.com/CuckCybsacTEST/tokensapp"
	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/expiry"
)

// CodeNotYetActive is the PreconditionError code used by NotBefore.
const CodeNotYetActive = "owner_not_yet_active"

// NotBefore rejects tokens whose owner has not started yet: a party
// reservation before its local calendar date, or an event invitation more
// than Lead before the event starts. Prize claims always pass.
type NotBefore struct {
	Location *time.Location
	Lead     time.Duration
}

func (g NotBefore) Check(_ context.Context, _ *tokensapp.Token, cl claim.Claim, now time.Time) error {
	start, ok, err := g.startOf(cl)
	if err != nil {
		return tokensapp.NewPreconditionError(CodeNotYetActive, err.Error(), tokensapp.ErrOwnerNotYetActive)
	}
	if !ok || !now.Before(start) {
		return nil
	}
	return tokensapp.NewPreconditionError(
		CodeNotYetActive,
		fmt.Sprintf("usable from %s", start.Format(time.RFC3339)),
		tokensapp.ErrOwnerNotYetActive,
	)
}

func (g NotBefore) startOf(cl claim.Claim) (time.Time, bool, error) {
	switch v := cl.Variant.(type) {
	case claim.PartyInviteClaim:
		if v.Date == "" {
			return time.Time{}, false, nil
		}
		day, err := expiry.ParseLocal(v.Date, "", g.Location)
		if err != nil {
			return time.Time{}, false, err
		}
		return day, true, nil
	case claim.EventInviteClaim:
		if v.StartsAt.IsZero() {
			return time.Time{}, false, nil
		}
		return v.StartsAt.Add(-g.Lead), true, nil
	default:
		return time.Time{}, false, nil
	}
}
