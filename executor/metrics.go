package executor

import (
	"github.com/SipengXie/safecore/core"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safe_executions_total",
	}, []string{"outcome"})
	submitRetriesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safe_submit_retries_total",
	})
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, core.ErrSubmissionFailed):
		return "submission_failed"
	case errors.Is(err, core.ErrFutureNonce):
		return "future_nonce"
	case errors.Is(err, core.ErrStaleNonce):
		return "stale_nonce"
	case errors.Is(err, core.ErrHashMismatch):
		return "hash_mismatch"
	case errors.Is(err, core.ErrInsufficientSignatures):
		return "insufficient_signatures"
	case errors.Is(err, core.ErrExecutionReverted):
		return "reverted"
	default:
		return "error"
	}
}
