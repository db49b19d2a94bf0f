package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error body. Reason carries the machine readable
// rejection cause for loan and catalog rule violations.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
