package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// maxRequestBody caps JSON request payloads. Video bytes travel through
// multipart uploads or object storage references, never through these bodies.
const maxRequestBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError renders a JSON error envelope. Middleware outside this package
// uses it so throttled and rejected requests share the handler error shape.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func decodeBody(r *http.Request, dest any, strict bool) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	decoder.UseNumber()
	if strict {
		decoder.DisallowUnknownFields()
	}
	return decoder.Decode(dest)
}

func decodeJSON(r *http.Request, dest any) error {
	return decodeBody(r, dest, true)
}

// decodeJSONAllowUnknown tolerates extra fields, for payloads that pass
// through client-defined metadata.
func decodeJSONAllowUnknown(r *http.Request, dest any) error {
	return decodeBody(r, dest, false)
}
