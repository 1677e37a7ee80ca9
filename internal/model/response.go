package model

// Envelope codes. The transport status carries the finer distinction; the
// envelope only says whether the operation succeeded.
const (
	CodeSuccess = 200
	CodeFailed  = 500
)

// Envelope is the standard response body for every endpoint.
type Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// Success wraps data in a successful envelope.
func Success(msg string, data any) Envelope {
	return Envelope{Code: CodeSuccess, Msg: msg, Data: data}
}

// Failure builds a failed envelope with no data.
func Failure(msg string) Envelope {
	return Envelope{Code: CodeFailed, Msg: msg}
}

// ListResponse is the data payload of filtered reads.
type ListResponse struct {
	Records []map[string]any `json:"records"`
	Count   int              `json:"count"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}
