package model

// StatusClass groups pages by outcome for reporting.
type StatusClass int

const (
	// ClassSuccess is a 2xx response.
	ClassSuccess StatusClass = iota

	// ClassRedirect is a 3xx response that was not followed further.
	ClassRedirect

	// ClassClientError is a 4xx response.
	ClassClientError

	// ClassServerError is a 5xx response.
	ClassServerError

	// ClassFailed means no usable response: network error, timeout,
	// or an unexpected status.
	ClassFailed
)

// StatusClasses lists every class in report order.
func StatusClasses() []StatusClass {
	return []StatusClass{ClassSuccess, ClassRedirect, ClassClientError, ClassServerError, ClassFailed}
}

// String returns a short label such as "2xx".
func (c StatusClass) String() string {
	switch c {
	case ClassSuccess:
		return "2xx"
	case ClassRedirect:
		return "3xx"
	case ClassClientError:
		return "4xx"
	case ClassServerError:
		return "5xx"
	case ClassFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Description explains the class in report text.
func (c StatusClass) Description() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRedirect:
		return "redirect"
	case ClassClientError:
		return "client error"
	case ClassServerError:
		return "server error"
	case ClassFailed:
		return "network failure"
	default:
		return "unknown"
	}
}

// ClassOf classifies a response by status code. A 404 stays a client
// error even though the fetch counts as failed; only a missing status is
// ClassFailed.
func ClassOf(status int) StatusClass {
	switch {
	case status >= 200 && status < 300:
		return ClassSuccess
	case status >= 300 && status < 400:
		return ClassRedirect
	case status >= 400 && status < 500:
		return ClassClientError
	case status >= 500 && status < 600:
		return ClassServerError
	default:
		return ClassFailed
	}
}
