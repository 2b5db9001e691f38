package llm

import "testing"

func TestErrorFromStatusCode(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{413, false},
		{422, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{599, true}, // unknown defaults to retryable
	}

	for _, tc := range cases {
		err := ErrorFromStatusCode(tc.status, "boom", nil)
		if got := IsRetryable(err); got != tc.retryable {
			t.Errorf("status %d: expected retryable=%v, got %v", tc.status, tc.retryable, got)
		}
	}
}

func TestErrorTypes(t *testing.T) {
	if _, ok := ErrorFromStatusCode(429, "slow down", nil).(*RateLimitError); !ok {
		t.Error("429 should map to RateLimitError")
	}
	if _, ok := ErrorFromStatusCode(401, "who are you", nil).(*AuthenticationError); !ok {
		t.Error("401 should map to AuthenticationError")
	}
	if _, ok := ErrorFromStatusCode(500, "oops", nil).(*ServerError); !ok {
		t.Error("500 should map to ServerError")
	}
	if _, ok := ErrorFromStatusCode(400, "bad", nil).(*InvalidRequestError); !ok {
		t.Error("400 should map to InvalidRequestError")
	}
}

func TestRateLimitErrorCarriesRetryAfter(t *testing.T) {
	after := 12.5
	err := ErrorFromStatusCode(429, "slow down", &after)
	rl, ok := err.(*RateLimitError)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if rl.RetryAfter == nil || *rl.RetryAfter != 12.5 {
		t.Errorf("expected retry-after 12.5, got %v", rl.RetryAfter)
	}
}

func TestIsRateLimit(t *testing.T) {
	if !IsRateLimit(ErrorFromStatusCode(429, "x", nil)) {
		t.Error("429 should be a rate limit")
	}
	if IsRateLimit(ErrorFromStatusCode(500, "x", nil)) {
		t.Error("500 should not be a rate limit")
	}
	if IsRateLimit(nil) {
		t.Error("nil should not be a rate limit")
	}
}

func TestIsRetryableNil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error should not be retryable")
	}
}
