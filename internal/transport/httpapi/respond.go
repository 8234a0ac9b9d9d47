package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"obituaries/internal/errs"
	"obituaries/internal/transport/wire"
)

const maxBodyBytes = 1 << 20

const codeRateLimited = "RateLimited"

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	if code == "" {
		writeJSON(w, http.StatusInternalServerError, wire.ErrorResponse{Error: "Internal", Message: err.Error()})
		return
	}
	writeJSON(w, statusFor(code), wire.ErrorResponse{Error: string(code), Message: err.Error()})
}

func statusFor(code errs.Code) int {
	switch code {
	case errs.CodeValidation:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeDuplicateKey, errs.CodeDuplicateVote, errs.CodeAlreadyFinalized:
		return http.StatusConflict
	case errs.CodeUnavailable:
		return http.StatusServiceUnavailable
	case errs.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads one JSON object. Unknown fields are ignored so clients
// may send whole records back.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.E(errs.CodeValidation, "request body is empty")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errs.E(errs.CodeValidation, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return errs.E(errs.CodeValidation, "malformed JSON body: %v", err)
	}
	return nil
}
