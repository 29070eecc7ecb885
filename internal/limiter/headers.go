package limiter

import (
	"math"
	"strconv"
	"time"
)

// Header name constants, fixed by the external API's rate-limit header contract.
const (
	HeaderLimitRequests     = "X-RateLimit-Limit-Requests"
	HeaderLimitTokensInput  = "X-RateLimit-Limit-Tokens-Input"
	HeaderLimitTokensOutput = "X-RateLimit-Limit-Tokens-Output"

	HeaderRemainingRequests     = "X-RateLimit-Remaining-Requests"
	HeaderRemainingTokensInput  = "X-RateLimit-Remaining-Tokens-Input"
	HeaderRemainingTokensOutput = "X-RateLimit-Remaining-Tokens-Output"

	HeaderResetRequests = "X-RateLimit-Reset-Requests"
	HeaderResetTokens   = "X-RateLimit-Reset-Tokens"

	HeaderRetryAfter = "Retry-After"
)

// Headers builds the full rate-limit header set for a decision, evaluated at now
// (which should be the same "now" the decision's snapshot was built from, or a
// moment shortly after).
func Headers(snapshot BudgetSnapshot, now time.Time) map[string]string {
	reset := snapshot.WindowEnd.Format(time.RFC3339)

	return map[string]string{
		HeaderLimitRequests:     strconv.FormatInt(snapshot.RPM.Limit, 10),
		HeaderLimitTokensInput:  strconv.FormatInt(snapshot.ITPM.Limit, 10),
		HeaderLimitTokensOutput: strconv.FormatInt(snapshot.OTPM.Limit, 10),

		HeaderRemainingRequests:     strconv.FormatInt(snapshot.RPM.Remaining, 10),
		HeaderRemainingTokensInput:  strconv.FormatInt(snapshot.ITPM.Remaining, 10),
		HeaderRemainingTokensOutput: strconv.FormatInt(snapshot.OTPM.Remaining, 10),

		HeaderResetRequests: reset,
		HeaderResetTokens:   reset,

		HeaderRetryAfter: strconv.Itoa(retryAfterHeaderValue(snapshot.WindowEnd, now)),
	}
}

// retryAfterHeaderValue is ceil(window_end - now), floored at 0.
func retryAfterHeaderValue(windowEnd, now time.Time) int {
	secs := windowEnd.Sub(now).Seconds()
	if secs <= 0 {
		return 0
	}
	return int(math.Ceil(secs))
}
