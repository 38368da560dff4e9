package tokensapp

import (
	"context"
	"fmt"
	"strconv"

	"github.com/CuckCybsacTEST/tokensapp/claim"
	internalflows "github.com/CuckCybsacTEST/tokensapp/internal/flows"
)

// Generate issues one token per item for ownerID.
//
// Concurrent calls for the same owner elect a single leader through the
// owner's generation marker: only the leader writes tokens, every other
// caller gets the leader's committed set back. Calling Generate again after
// success is therefore idempotent. With opts.Force the marker is bypassed
// and only kinds the owner does not already hold are created.
func (e *Engine) Generate(ctx context.Context, ownerID string, items []IssueItem, opts IssueOptions) ([]*Token, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	ref := opts.Reference
	variant := opts.Variant
	if variant == nil {
		at := ref
		if at.IsZero() {
			at = e.now()
		}
		variant = func(kind string) claim.Variant {
			return e.variant(ownerID, kind, at)
		}
	}

	flowItems := make([]internalflows.IssueItem, len(items))
	for i, item := range items {
		flowItems[i] = internalflows.IssueItem{Kind: item.Kind, MaxUses: item.MaxUses}
	}

	res := internalflows.RunIssue(ctx, internalflows.IssueRequest{
		OwnerID:   ownerID,
		Items:     flowItems,
		Force:     opts.Force,
		Reference: ref,
		Variant:   variant,
	}, e.issueFlowDeps())

	e.metricAdd(MetricCodeCollision, res.Collisions)
	if res.Collisions > 0 {
		e.logger.Warn().
			Str("owner_id", ownerID).
			Int("collisions", res.Collisions).
			Msg("token code collisions during issuance")
	}

	if res.Failure != internalflows.IssueFailureNone {
		err := e.issueError(res)
		e.metricInc(MetricIssueFailure)
		if res.Failure == internalflows.IssueFailureCodeGeneration {
			e.metricInc(MetricCodeGenerationFailed)
			e.logger.Error().Str("owner_id", ownerID).Err(res.Err).Msg("token code space exhausted")
			e.emitAudit(ctx, auditEventCodeSpaceStarved, false, ownerID, "", err, nil)
		} else if res.Failure == internalflows.IssueFailureStore {
			e.logger.Error().Str("owner_id", ownerID).Err(res.Err).Msg("token issuance failed")
		}
		e.emitAudit(ctx, auditEventIssueFailure, false, ownerID, "", err, nil)
		return nil, err
	}

	switch {
	case opts.Force:
		e.metricInc(MetricIssueForced)
	case res.Leader:
		e.metricInc(MetricIssueSuccess)
	default:
		e.metricInc(MetricIssueReplayed)
	}
	e.metricAdd(MetricTokensCreated, res.Created)

	action := auditEventIssue
	if !res.Leader {
		action = auditEventIssueReplayed
	}
	e.emitAudit(ctx, action, true, ownerID, "", nil, func() map[string]string {
		return map[string]string{
			"created": strconv.Itoa(res.Created),
			"total":   strconv.Itoa(len(res.Tokens)),
			"force":   strconv.FormatBool(opts.Force),
		}
	})

	return res.Tokens, nil
}

func (e *Engine) issueFlowDeps() internalflows.IssueDeps {
	return internalflows.IssueDeps{
		Store:      e.store,
		Codec:      e.codec,
		Policy:     e.policy,
		CodePolicy: e.codePolicy,
		Now:        e.now,
		NewID:      e.newID,
	}
}

func (e *Engine) issueError(res internalflows.IssueResult) error {
	switch res.Failure {
	case internalflows.IssueFailureInvalid, internalflows.IssueFailureSign:
		return fmt.Errorf("%w: %v", ErrInvalidRequest, res.Err)
	case internalflows.IssueFailureOwnerNotFound:
		return ErrOwnerNotFound
	case internalflows.IssueFailureCodeGeneration:
		return fmt.Errorf("%w: %v", ErrCodeGenerationFailed, res.Err)
	default:
		return storeErr(res.Err)
	}
}
