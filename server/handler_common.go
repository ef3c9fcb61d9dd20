package server

import (
	"community_fed/logic"
	"community_fed/shared"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	apiKeyHeader      = "X-API-KEY"
	metricsAuthHeader = "Authorization"
	internalErrorStr  = "500 Internal Server Error"
	badRequestStr     = "400 Invalid Request"
	notFoundStr       = "404 Not Found"
	badApiKeyStr      = "401 Missing or Invalid API Key"
	badAuthorization  = "401 Missing or Invalid Authorization"
)

const apubContentType = "application/activity+json"

// Defines a single HTTP handler (endpoint)
type handlerDef struct {
	method  string
	pattern string
	handler func(http.ResponseWriter, *http.Request)
}

// IHandlerGroup groups together multiple HTTP handler definitions.
type IHandlerGroup interface {
	Prefix() string
	GroupDefs() []handlerDef
	AuthMW() func(next http.Handler) http.Handler
}

func emptyMW(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	})
}

// acceptsJson tells whether the client asked for ActivityPub/JSON rather than a web page.
func acceptsJson(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/activity+json") ||
		strings.Contains(accept, "application/ld+json") ||
		strings.Contains(accept, "application/json")
}

// Returns the JSON serialized object as the response body; handles errors.
func writeJsonResponse(logger shared.ILogger, w http.ResponseWriter, isApub bool, resp interface{}) {
	writeJsonResponseStatus(logger, w, isApub, http.StatusOK, resp)
}

func writeJsonResponseStatus(logger shared.ILogger, w http.ResponseWriter, isApub bool, code int, resp interface{}) {
	var err error
	var respJson []byte
	if respJson, err = json.Marshal(resp); err != nil {
		logger.Warnf("Failed to serialize response: %v", err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if isApub {
		w.Header().Set("Content-Type", apubContentType)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(code)
	if _, err = fmt.Fprintln(w, string(respJson)); err != nil {
		logger.Warnf("Failed to write response: %v", err)
	}
}

type errorResp struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeErrorResponse(w http.ResponseWriter, msg string, code int) {
	resp := errorResp{msg, code}
	respJson, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	fmt.Fprintln(w, string(respJson))
}

// writeLogicError maps the logic layer's sentinel errors to HTTP statuses.
// Unexpected errors are logged and answered with a generic 500.
func writeLogicError(logger shared.ILogger, w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, logic.ErrNotFound):
		writeErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, logic.ErrInvalidInput), errors.Is(err, logic.ErrInvalidJSON):
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, logic.ErrAlreadyExists):
		writeErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, logic.ErrResolutionFailure):
		writeErrorResponse(w, err.Error(), http.StatusBadGateway)
	default:
		logger.Errorf("%s: %v", what, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
	}
}
