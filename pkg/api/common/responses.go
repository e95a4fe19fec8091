package common

// ErrorResponse is the error shape every endpoint returns
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"` // stable machine-readable error code
	Ref   string `json:"ref,omitempty"`  // opaque request reference for support
}

// SuccessResponse wraps acknowledgements that carry no dedicated payload type
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
