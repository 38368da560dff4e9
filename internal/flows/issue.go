package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	"github.com/CuckCybsacTEST/tokensapp/expiry"
	"github.com/CuckCybsacTEST/tokensapp/internal"
	"github.com/CuckCybsacTEST/tokensapp/store"
)

// IssueFailureKind classifies issuance failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureInvalid
	IssueFailureOwnerNotFound
	IssueFailureCodeGeneration
	IssueFailureSign
	IssueFailureStore
)

// IssueItem asks for one token of Kind. MaxUses 0 is legacy single-use.
type IssueItem struct {
	Kind    string
	MaxUses int
}

// IssueRequest is one Generate call.
type IssueRequest struct {
	OwnerID   string
	Items     []IssueItem
	Force     bool
	Reference time.Time
	Variant   func(kind string) claim.Variant
}

// IssueResult carries the owner's token set or failure metadata.
type IssueResult struct {
	Failure    IssueFailureKind
	Err        error
	Tokens     []*store.Token
	Leader     bool
	Created    int
	Collisions int
}

// IssueDeps captures issuance flow dependencies.
type IssueDeps struct {
	Store      store.Store
	Codec      *claim.Codec
	Policy     expiry.Policy
	CodePolicy internal.CodePolicy
	Now        func() time.Time
	NewID      func() string
}

// RunIssue generates tokens for an owner. Without Force, the owner's
// generation marker elects one leader among concurrent callers; everyone
// else reads back the leader's committed set.
func RunIssue(ctx context.Context, req IssueRequest, deps IssueDeps) IssueResult {
	if err := validateIssue(req, deps.Policy); err != nil {
		return IssueResult{Failure: IssueFailureInvalid, Err: err}
	}

	var res IssueResult
	err := deps.Store.InTx(ctx, func(tx store.Tx) error {
		res = IssueResult{}
		now := deps.Now()

		missing := req.Items
		var existing []*store.Token

		if req.Force {
			current, err := tx.FindByOwner(ctx, req.OwnerID)
			if err != nil {
				return abort(int(IssueFailureStore), err)
			}
			existing = current
			missing = missingKinds(req.Items, current)
			if _, err := tx.ClaimGeneration(ctx, req.OwnerID, now); err != nil {
				return abort(int(classifyOwnerErr(err)), err)
			}
		} else {
			leader, err := tx.ClaimGeneration(ctx, req.OwnerID, now)
			if err != nil {
				return abort(int(classifyOwnerErr(err)), err)
			}
			if !leader {
				current, err := tx.FindByOwner(ctx, req.OwnerID)
				if err != nil {
					return abort(int(IssueFailureStore), err)
				}
				res.Tokens = current
				return nil
			}
		}
		res.Leader = true

		ref := req.Reference
		if ref.IsZero() {
			ref = now
		}
		expiresAt := time.UnixMilli(deps.Policy.Expiry(ref).UnixMilli()).UTC()
		if !expiresAt.After(now) {
			return abort(int(IssueFailureInvalid), fmt.Errorf("computed expiry %s is not after issuance", expiresAt.Format(time.RFC3339)))
		}

		created := make([]*store.Token, 0, len(missing))
		for _, item := range missing {
			tok, collisions, err := createToken(ctx, tx, deps, req, item, now, expiresAt)
			res.Collisions += collisions
			if err != nil {
				return err
			}
			created = append(created, tok)
		}

		res.Created = len(created)
		res.Tokens = append(existing, created...)
		return nil
	})

	if err != nil {
		var a *flowAbort
		if errors.As(err, &a) {
			return IssueResult{Failure: IssueFailureKind(a.kind), Err: a.err, Collisions: res.Collisions}
		}
		return IssueResult{Failure: IssueFailureStore, Err: err}
	}
	return res
}

func createToken(
	ctx context.Context,
	tx store.Tx,
	deps IssueDeps,
	req IssueRequest,
	item IssueItem,
	now, expiresAt time.Time,
) (*store.Token, int, error) {
	variant := req.Variant(item.Kind)
	if variant == nil {
		return nil, 0, abort(int(IssueFailureInvalid), fmt.Errorf("no claim variant for kind %q", item.Kind))
	}

	var (
		tok        *store.Token
		collisions int
	)
	_, err := deps.CodePolicy.Run(func(code string) error {
		candidate := &store.Token{
			ID:        deps.NewID(),
			Code:      code,
			OwnerID:   req.OwnerID,
			Kind:      item.Kind,
			Status:    store.StatusActive,
			MaxUses:   item.MaxUses,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}

		signed, err := deps.Codec.Sign(claim.Build(req.OwnerID, code, item.Kind, now, expiresAt, variant))
		if err != nil {
			return abort(int(IssueFailureSign), err)
		}
		blob, err := claim.Encode(signed)
		if err != nil {
			return abort(int(IssueFailureSign), err)
		}
		candidate.Claim = blob

		if err := tx.InsertToken(ctx, candidate); err != nil {
			if errors.Is(err, store.ErrDuplicateCode) {
				collisions++
				return err
			}
			return abort(int(IssueFailureStore), err)
		}
		tok = candidate
		return nil
	}, func(err error) bool {
		return errors.Is(err, store.ErrDuplicateCode)
	})

	if err != nil {
		if errors.Is(err, internal.ErrCodeSpaceExhausted) {
			return nil, collisions, abort(int(IssueFailureCodeGeneration), err)
		}
		var a *flowAbort
		if errors.As(err, &a) {
			return nil, collisions, err
		}
		return nil, collisions, abort(int(IssueFailureCodeGeneration), err)
	}
	return tok, collisions, nil
}

func validateIssue(req IssueRequest, policy expiry.Policy) error {
	if req.OwnerID == "" {
		return errors.New("owner id required")
	}
	if req.Reference.IsZero() && expiry.RequiresReference(policy) {
		return fmt.Errorf("policy %s needs a reference time", policy)
	}
	if len(req.Items) == 0 {
		return errors.New("at least one item required")
	}
	if req.Variant == nil {
		return errors.New("claim variant builder required")
	}
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if item.Kind == "" {
			return errors.New("item kind required")
		}
		if item.MaxUses < 0 {
			return fmt.Errorf("negative max uses for kind %q", item.Kind)
		}
		if _, ok := seen[item.Kind]; ok {
			return fmt.Errorf("duplicate kind %q", item.Kind)
		}
		seen[item.Kind] = struct{}{}
	}
	return nil
}

func missingKinds(items []IssueItem, existing []*store.Token) []IssueItem {
	have := make(map[string]struct{}, len(existing))
	for _, tok := range existing {
		have[tok.Kind] = struct{}{}
	}
	out := make([]IssueItem, 0, len(items))
	for _, item := range items {
		if _, ok := have[item.Kind]; !ok {
			out = append(out, item)
		}
	}
	return out
}

func classifyOwnerErr(err error) IssueFailureKind {
	if errors.Is(err, store.ErrOwnerNotFound) {
		return IssueFailureOwnerNotFound
	}
	return IssueFailureStore
}
