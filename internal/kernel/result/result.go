// Package result defines the uniform envelope every kernel component
// method and every HTTP handler returns.
package result

import "github.com/R3E-Network/kernel/pkg/kernelerrors"

// ErrorBody is the "error" half of an envelope.
type ErrorBody struct {
	Code    kernelerrors.Code     `json:"code"`
	Message string                `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Envelope is the uniform success/error wrapper used throughout the
// kernel's service methods and HTTP responses.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// Ok wraps a successful payload.
func Ok(data interface{}) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail wraps an error into the envelope's error body.
func Fail(err error) Envelope {
	if ke := kernelerrors.As(err); ke != nil {
		return Envelope{Success: false, Error: &ErrorBody{
			Code:    ke.Code,
			Message: ke.Message,
			Details: ke.Details,
		}}
	}
	return Envelope{Success: false, Error: &ErrorBody{
		Code:    kernelerrors.CodeHandlerError,
		Message: err.Error(),
	}}
}
