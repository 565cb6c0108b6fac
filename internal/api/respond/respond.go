// Package respond writes the JSON envelopes returned by the HTTP API.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin/render"
	"github.com/wb-go/wbf/zlog"
)

// Response is the body of every API response: result on success, error otherwise.
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// JSON writes body with the given status code.
func JSON(w http.ResponseWriter, status int, body interface{}) {
	r := render.JSON{Data: body}
	r.WriteContentType(w)
	w.WriteHeader(status)

	if err := r.Render(w); err != nil {
		zlog.Logger.Error().Err(err).Int("status", status).Msg("failed to write response")
	}
}

// OK writes result with 200.
func OK(w http.ResponseWriter, result interface{}) {
	JSON(w, http.StatusOK, Response{Result: result})
}

// Created writes result with 201.
func Created(w http.ResponseWriter, result interface{}) {
	JSON(w, http.StatusCreated, Response{Result: result})
}

// Fail writes err with the given status code.
func Fail(w http.ResponseWriter, status int, err error) {
	JSON(w, status, Response{Error: err.Error()})
}

// FailWith writes err together with a partial result, for failures the caller can still act on.
func FailWith(w http.ResponseWriter, status int, err error, result interface{}) {
	JSON(w, status, Response{Result: result, Error: err.Error()})
}
