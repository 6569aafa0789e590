package apperrors

import (
	"time"
)

// Envelope is the wire shape of every API response
type Envelope struct {
	Data   any         `json:"data"`
	Meta   Meta        `json:"meta"`
	Errors []ErrorItem `json:"errors"`
}

type Meta struct {
	RequestID *string `json:"request_id"`
	Timestamp string  `json:"timestamp"`
}

type ErrorItem struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func newMeta(requestID string, now time.Time) Meta {
	meta := Meta{Timestamp: now.UTC().Format(time.RFC3339Nano)}
	if requestID != "" {
		meta.RequestID = &requestID
	}
	return meta
}

// Render converts error to envelope with exactly one error entry
func Render(err error, requestID string, now time.Time) Envelope {
	de := FromError(err)
	if de == nil {
		de = Internal(nil)
	}

	details := de.Details
	if details == nil {
		details = map[string]any{}
	}

	return Envelope{
		Data: nil,
		Meta: newMeta(requestID, now),
		Errors: []ErrorItem{
			{Code: de.Code, Message: de.Message, Details: details},
		},
	}
}

// Success wraps data into envelope without errors
func Success(data any, requestID string, now time.Time) Envelope {
	return Envelope{
		Data:   data,
		Meta:   newMeta(requestID, now),
		Errors: []ErrorItem{},
	}
}
