package provider

import "strings"

// retryableHTTPStatuses are the transient statuses worth another attempt:
// request timeout, conflict, too-early, rate limit, and server-side errors.
var retryableHTTPStatuses = map[int]bool{
	408: true,
	409: true,
	425: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// transientNeedles are error-message fragments that indicate provider
// flakiness rather than a permanent failure.
var transientNeedles = []string{
	"timeout",
	"temporar",
	"connection",
	"network",
	"429",
	"rate",
}

// ShouldRetry classifies a fetch result as transient or not. A hard block
// (bot/CAPTCHA detection) is never retried, regardless of status or message.
func ShouldRetry(res FetchResult) bool {
	if res.Blocked {
		return false
	}
	if retryableHTTPStatuses[res.HTTPStatus] {
		return true
	}
	switch strings.ToUpper(res.RunStatus) {
	case "RUNNING", "TIMED-OUT":
		return true
	}
	msg := strings.ToLower(res.Error)
	for _, needle := range transientNeedles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
