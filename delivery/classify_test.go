package delivery

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want Category
	}{
		{"success", Result{StatusCode: 200}, CategoryNone},
		{"created", Result{StatusCode: 201}, CategoryNone},
		{"no content", Result{StatusCode: 204}, CategoryNone},
		{"timeout", Result{TimedOut: true}, CategoryTimeout},
		{"network failure", Result{NetworkFailed: true}, CategoryNetwork},
		{"no response", Result{StatusCode: 0}, CategoryNetwork},
		{"timeout wins over network flag", Result{TimedOut: true, NetworkFailed: true}, CategoryTimeout},
		{"unauthorized", Result{StatusCode: 401}, CategoryAuth},
		{"forbidden", Result{StatusCode: 403}, CategoryAuth},
		{"too many requests", Result{StatusCode: 429}, CategoryRateLimit},
		{"bad request", Result{StatusCode: 400}, CategoryValidation},
		{"unprocessable", Result{StatusCode: 422}, CategoryValidation},
		{"not found", Result{StatusCode: 404}, CategoryClientError},
		{"gone", Result{StatusCode: 410}, CategoryClientError},
		{"internal error", Result{StatusCode: 500}, CategoryServerError},
		{"bad gateway", Result{StatusCode: 502}, CategoryServerError},
		{"service unavailable", Result{StatusCode: 503}, CategoryServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.res); got != tt.want {
				t.Errorf("Classify(%+v) = %q, want %q", tt.res, got, tt.want)
			}
		})
	}
}
