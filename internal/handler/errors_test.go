package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/travel-reservation/internal/apperror"
)

func TestRespondError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"validation", apperror.Validation("bad unit"), http.StatusBadRequest,
			`{"error":"bad unit","kind":"validation"}`},
		{"units unavailable", apperror.UnitsUnavailable([]string{"1A"}), http.StatusConflict,
			`{"error":"some units are unavailable","kind":"units_unavailable","units":["1A"]}`},
		{"policy", apperror.PolicyViolation("too late"), http.StatusUnprocessableEntity,
			`{"error":"too late","kind":"policy_violation"}`},
		{"not found", apperror.NotFound("booking"), http.StatusNotFound,
			`{"error":"booking not found","kind":"not_found"}`},
		{"store failure", apperror.ReservationFailed("claim units", errors.New("dial tcp: refused")), http.StatusServiceUnavailable,
			`{"error":"claim units","kind":"reservation_failed"}`},
		{"unknown", errors.New("boom"), http.StatusInternalServerError,
			`{"error":"internal error"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			assert.NoError(t, respondError(c, zaptest.NewLogger(t), tc.err))
			assert.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, tc.body, rec.Body.String())
		})
	}
}
