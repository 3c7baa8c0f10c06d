package gateway

import "encoding/json"

type Pagination struct {
	Cursor string `json:"cursor,omitempty"`
}

// Response is a decoded Helix page. Success=false is the failure sentinel: Data
// is empty and nothing else is meaningful.
type Response[T any] struct {
	Data       []T
	Pagination Pagination
	Total      int
	Success    bool
}

func failed[T any]() Response[T] {
	return Response[T]{Success: false}
}

// envelope is the cached form of a response, before the data array is decoded.
type envelope struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Pagination Pagination      `json:"pagination"`
	Total      int             `json:"total,omitempty"`
	Success    bool            `json:"success"`
}
