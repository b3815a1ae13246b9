package subscription

import (
	"errors"
	"strings"

	"github.com/strefethen/sonosstream/internal/soap"
)

// failureClass is the outcome of a single failed SUBSCRIBE/RENEW attempt,
// used to decide whether the subscription retries or dies.
type failureClass int

const (
	// classTransientNetwork covers connection refused, DNS failures, and
	// timeouts. Retried with exponential backoff.
	classTransientNetwork failureClass = iota
	// classBadResponseFirst is a device-level rejection on the first
	// attempt; treated as transient once, fatal on any repeat.
	classBadResponseFirst
	// classFatal covers everything else: registry corruption, service
	// conflicts, and any repeated BadResponse.
	classFatal
)

func classify(err error, attempt int) failureClass {
	var timeoutErr *soap.SonosTimeoutError
	if errors.As(err, &timeoutErr) {
		return classTransientNetwork
	}
	var unreachableErr *soap.SonosUnreachableError
	if errors.As(err, &unreachableErr) {
		return classTransientNetwork
	}

	msg := err.Error()
	if strings.Contains(msg, "http 400") || strings.Contains(msg, "http 412") {
		if attempt == 0 {
			return classBadResponseFirst
		}
		return classFatal
	}

	return classFatal
}
