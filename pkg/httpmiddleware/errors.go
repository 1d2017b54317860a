package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
)

// WriteError writes the API error envelope
//
//	{"code": <status>, "message": "...", "reason": "..."}
//
// reason is omitted when empty.
func WriteError(w http.ResponseWriter, status int, message, reason string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	if reason != "" {
		e.FieldStart("reason")
		e.Str(reason)
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
