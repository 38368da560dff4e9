package internaldefs

import (
	tokensapp "github.com/CuckCybsacTEST/tokensapp"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   tokensapp.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   tokensapp.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: tokensapp.MetricIssueSuccess, Name: "tokens_issue_success_total", Help: "Generate calls that created tokens as leader."},
	{ID: tokensapp.MetricIssueReplayed, Name: "tokens_issue_replayed_total", Help: "Generate calls answered with an existing token set."},
	{ID: tokensapp.MetricIssueForced, Name: "tokens_issue_forced_total", Help: "Forced Generate calls."},
	{ID: tokensapp.MetricIssueFailure, Name: "tokens_issue_failure_total", Help: "Failed Generate calls."},
	{ID: tokensapp.MetricTokensCreated, Name: "tokens_created_total", Help: "Tokens written."},
	{ID: tokensapp.MetricCodeCollision, Name: "tokens_code_collision_total", Help: "Code draws rejected as duplicates."},
	{ID: tokensapp.MetricCodeGenerationFailed, Name: "tokens_code_generation_failed_total", Help: "Issuance aborted after the code retry budget ran out."},
	{ID: tokensapp.MetricRedeemSuccess, Name: "tokens_redeem_success_total", Help: "Committed redemptions."},
	{ID: tokensapp.MetricRedeemNotFound, Name: "tokens_redeem_not_found_total", Help: "Redemptions of unknown codes."},
	{ID: tokensapp.MetricRedeemExpired, Name: "tokens_redeem_expired_total", Help: "Redemptions of expired tokens."},
	{ID: tokensapp.MetricRedeemInvalidSignature, Name: "tokens_redeem_invalid_signature_total", Help: "Redemptions rejected by claim verification."},
	{ID: tokensapp.MetricRedeemDisabled, Name: "tokens_redeem_disabled_total", Help: "Redemptions of disabled tokens."},
	{ID: tokensapp.MetricRedeemPrecondition, Name: "tokens_redeem_precondition_total", Help: "Redemptions rejected by a guard."},
	{ID: tokensapp.MetricRedeemAlreadyRedeemed, Name: "tokens_redeem_already_redeemed_total", Help: "Repeat redemptions of single-use tokens."},
	{ID: tokensapp.MetricRedeemExhausted, Name: "tokens_redeem_exhausted_total", Help: "Redemptions past a multi-use cap."},
	{ID: tokensapp.MetricRedeemFailure, Name: "tokens_redeem_failure_total", Help: "Redemptions failed by the store or bad input."},
	{ID: tokensapp.MetricRedeemThrottled, Name: "tokens_redeem_throttled_total", Help: "Redemptions refused after too many failed code attempts."},
	{ID: tokensapp.MetricTokenTerminal, Name: "tokens_terminal_total", Help: "Redemptions that moved a token to redeemed or exhausted."},
	{ID: tokensapp.MetricTokenDisabled, Name: "tokens_disabled_total", Help: "Operator disables."},
	{ID: tokensapp.MetricStatusLookup, Name: "tokens_status_lookup_total", Help: "Status lookups."},
}

var HistogramDefs = []HistogramDef{
	{ID: tokensapp.MetricRedeemLatency, Name: "tokens_redeem_latency_seconds", Help: "Redeem latency histogram."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
