package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	tokensapp "github.com/CuckCybsacTEST/tokensapp"
	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/google/cel-go/cel"
)

// CodeRuleRejected is the PreconditionError code used by Expr guards.
const CodeRuleRejected = "rule_rejected"

var errRuleRejected = errors.New("redemption rule rejected token")

// Expr is a guard backed by a CEL expression that must evaluate to true.
//
// The expression sees three variables:
//
//	token: owner_id, kind, status, max_uses, used_count, expires_at, created_at
//	claim: version, domain, issued_at, expires_at, fields (variant fields)
//	now:   the redemption instant
//
// Token codes are never exposed to the expression.
type Expr struct {
	source  string
	program cel.Program
}

// NewExpr compiles expr once.
func NewExpr(expr string) (*Expr, error) {
	env, err := cel.NewEnv(
		cel.Variable("token", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, err
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("guard: compile %q: %w", expr, iss.Err())
	}
	switch ast.OutputType().String() {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("guard: %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("guard: program %q: %w", expr, err)
	}
	return &Expr{source: expr, program: prg}, nil
}

// MustExpr is NewExpr for static rules; it panics on a bad expression.
func MustExpr(expr string) *Expr {
	g, err := NewExpr(expr)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Expr) String() string { return g.source }

func (g *Expr) Check(ctx context.Context, tok *tokensapp.Token, cl claim.Claim, now time.Time) error {
	out, _, err := g.program.ContextEval(ctx, map[string]any{
		"token": tokenVars(tok),
		"claim": claimVars(cl),
		"now":   now.UTC(),
	})
	if err != nil {
		return tokensapp.NewPreconditionError(CodeRuleRejected, err.Error(), err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return tokensapp.NewPreconditionError(CodeRuleRejected, "rule result is not a bool", errRuleRejected)
	}
	if !ok {
		return tokensapp.NewPreconditionError(CodeRuleRejected, g.source, errRuleRejected)
	}
	return nil
}

func tokenVars(tok *tokensapp.Token) map[string]any {
	return map[string]any{
		"owner_id":   tok.OwnerID,
		"kind":       tok.Kind,
		"status":     string(tok.Status),
		"max_uses":   int64(tok.MaxUses),
		"used_count": int64(tok.UsedCount),
		"expires_at": tok.ExpiresAt.UTC(),
		"created_at": tok.CreatedAt.UTC(),
	}
}

func claimVars(cl claim.Claim) map[string]any {
	vars := map[string]any{
		"version":    int64(cl.Version),
		"issued_at":  cl.IssuedAt.UTC(),
		"expires_at": cl.ExpiresAt.UTC(),
		"domain":     "",
		"fields":     map[string]any{},
	}

	switch v := cl.Variant.(type) {
	case claim.PrizeClaim:
		vars["domain"] = string(v.Domain())
		vars["fields"] = map[string]any{
			"prize_id": v.PrizeID,
			"batch_id": v.BatchID,
			"label":    v.Label,
		}
	case claim.PartyInviteClaim:
		vars["domain"] = string(v.Domain())
		vars["fields"] = map[string]any{
			"reservation_id": v.ReservationID,
			"date":           v.Date,
			"celebrant":      v.Celebrant,
			"guest_quota":    int64(v.GuestQuota),
		}
	case claim.EventInviteClaim:
		vars["domain"] = string(v.Domain())
		vars["fields"] = map[string]any{
			"event_id":      v.EventID,
			"invitation_id": v.InvitationID,
			"starts_at":     v.StartsAt.UTC(),
		}
	}
	return vars
}
