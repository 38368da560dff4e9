package tokensapp

import (
	"context"
)

const (
	auditEventIssue            = "token_issue"
	auditEventIssueReplayed    = "token_issue_replayed"
	auditEventIssueFailure     = "token_issue_failure"
	auditEventRedeemSuccess    = "token_redeem_success"
	auditEventRedeemFailure    = "token_redeem_failure"
	auditEventTokenTerminal    = "token_terminal"
	auditEventTokenDisabled    = "token_disabled"
	auditEventRedemptionsRead  = "token_redemptions_read"
	auditEventCodeSpaceStarved = "token_code_space_exhausted"
	auditEventThrottleReset    = "token_throttle_reset"
)

// AuditErrorCode is the stable error label written into audit events. It
// never contains token codes or claim contents.
type AuditErrorCode string

func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	success bool,
	ownerID string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		Action:    action,
		Domain:    e.config.Domain.Name,
		ActorID:   ActorIDFromContext(ctx),
		OwnerID:   ownerID,
		TokenID:   tokenID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}
	return AuditErrorCode(Classify(err).String())
}
