package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/upb/agent-governor/internal/kernel"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	EventID string `json:"event_id,omitempty"`
}

type envelope struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, result interface{}) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Result: result})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatusFor(err), envelope{OK: false, Error: errorBodyFor(err)})
}

// httpStatusFor maps governance error kinds onto HTTP status codes
func httpStatusFor(err error) int {
	var ge *kernel.GovernanceError
	if !errors.As(err, &ge) {
		return http.StatusBadRequest
	}
	switch ge.Kind {
	case kernel.KindRejection:
		return http.StatusForbidden
	case kernel.KindEvaluation:
		return http.StatusUnprocessableEntity
	case kernel.KindPersistence, kernel.KindIntegrity:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func errorBodyFor(err error) *errorBody {
	var ge *kernel.GovernanceError
	if errors.As(err, &ge) {
		return &errorBody{Kind: string(ge.Kind), Message: ge.Message, EventID: ge.EventID}
	}
	return &errorBody{Kind: "REQUEST", Message: err.Error()}
}
