package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		res  FetchResult
		want bool
	}{
		{"rate limited", FetchResult{HTTPStatus: 429}, true},
		{"request timeout", FetchResult{HTTPStatus: 408}, true},
		{"conflict", FetchResult{HTTPStatus: 409}, true},
		{"too early", FetchResult{HTTPStatus: 425}, true},
		{"bad gateway", FetchResult{HTTPStatus: 502}, true},
		{"internal error", FetchResult{HTTPStatus: 500}, true},
		{"not found", FetchResult{HTTPStatus: 404}, false},
		{"forbidden", FetchResult{HTTPStatus: 403}, false},
		{"success shape", FetchResult{HTTPStatus: 200}, false},
		{"run still going", FetchResult{RunStatus: "RUNNING"}, true},
		{"run timed out", FetchResult{RunStatus: "TIMED-OUT"}, true},
		{"run timed out lowercase", FetchResult{RunStatus: "timed-out"}, true},
		{"run aborted", FetchResult{RunStatus: "ABORTED"}, false},
		{"timeout message", FetchResult{Error: "context deadline exceeded: timeout"}, true},
		{"temporary message", FetchResult{Error: "Temporary failure in name resolution"}, true},
		{"connection message", FetchResult{Error: "connection reset by peer"}, true},
		{"network message", FetchResult{Error: "network is unreachable"}, true},
		{"rate message", FetchResult{Error: "provider rate limit hit"}, true},
		{"429 in message", FetchResult{Error: "unexpected status 429"}, true},
		{"permanent message", FetchResult{Error: "item does not exist"}, false},
		{"blocked beats retryable status", FetchResult{Blocked: true, HTTPStatus: 429}, false},
		{"blocked beats transient message", FetchResult{Blocked: true, Error: "timeout"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.res))
		})
	}
}
