package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteProblemCarriesExtensions(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteProblem(rec, ProblemDetail{
		Title:   "Conflict",
		Status:  http.StatusConflict,
		Code:    "IllegalTransition",
		Details: map[string]string{"currentStatus": "Approved"},
	})

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, ProblemContentType, rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "IllegalTransition", body["code"])
	assert.Equal(t, map[string]any{"currentStatus": "Approved"}, body["details"])
	assert.NotContains(t, body, "detail")
}

func TestProblemAndJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, http.StatusNotFound, "Not Found", "timesheet not found")
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, ProblemDetail{Title: "Not Found", Status: http.StatusNotFound, Detail: "timesheet not found"}, problem)

	rec = httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]int{"count": 2})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Comments string `json:"comments"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"comments":"ok"}`))
	require.NoError(t, DecodeJSON(req, &target))
	assert.Equal(t, "ok", target.Comments)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"comment":"typo"}`))
	require.Error(t, DecodeJSON(req, &target))
}
