package importer

import "fmt"

// Rejection reasons carried by Error. These surface to API callers,
// so the strings are part of the contract.
const (
	ReasonUnsupportedURL     = "UNSUPPORTED_URL"
	ReasonMissingIdentifiers = "MISSING_IDENTIFIERS"
	ReasonMissingLapData     = "MISSING_LAP_DATA"
)

// Error describes an import request rejected before any write
// happened: an unusable url or a payload missing required pieces.
// Transport failures are not wrapped in it, they surface as the
// client's own errors.
type Error struct {
	Code   int
	Reason string
	Detail map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("importer: %s (%d)", e.Reason, e.Code)
}

func errUnsupportedURL(raw string, reason string) *Error {
	return &Error{
		Code:   400,
		Reason: ReasonUnsupportedURL,
		Detail: map[string]any{"url": raw, "reason": reason},
	}
}

func errMissingIdentifiers(field string) *Error {
	return &Error{
		Code:   422,
		Reason: ReasonMissingIdentifiers,
		Detail: map[string]any{"field": field},
	}
}

func errMissingLapData(url string) *Error {
	return &Error{
		Code:   422,
		Reason: ReasonMissingLapData,
		Detail: map[string]any{"url": url},
	}
}
