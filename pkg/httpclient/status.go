package httpclient

import "net/http"

// IsSuccessStatus reports a 2xx status.
func IsSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}

// IsRetryableStatus reports statuses worth retrying after a wait.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func IsRateLimitStatus(code int) bool {
	return code == http.StatusTooManyRequests
}
