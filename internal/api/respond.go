package api

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// writeJSON sends the encoder's buffer with the given status.
func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeErrorJSON sends a {"code","message"} error body.
func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

// internalError logs the cause and answers with a generic 500. Storage
// failures never leak details to the client.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	writeErrorJSON(w, http.StatusInternalServerError, "internal error")
}

// encodeAmount writes a monetary amount as a JSON number.
func encodeAmount(e *jx.Encoder, d decimal.Decimal) {
	e.Float64(d.InexactFloat64())
}

// encodeStrings writes a string slice as a JSON array.
func encodeStrings(e *jx.Encoder, ss []string) {
	e.ArrStart()
	for _, s := range ss {
		e.Str(s)
	}
	e.ArrEnd()
}
