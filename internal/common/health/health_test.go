package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMultiChecker(t *testing.T) {
	healthy := CheckerFunc(func() error { return nil })
	storeDown := CheckerFunc(func() error { return errors.New("store down") })
	writerClosed := CheckerFunc(func() error { return errors.New("writer closed") })

	assert.NoError(t, NewMultiChecker().Check())
	assert.NoError(t, NewMultiChecker(healthy, healthy).Check())

	mc := NewMultiChecker(healthy, storeDown)
	mc.Add(writerClosed)
	err := mc.Check()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "store down")
		assert.Contains(t, err.Error(), "writer closed")
	}
}

func TestHealthCheckHttpHandler(t *testing.T) {
	tests := map[string]struct {
		checker        Checker
		expectedStatus int
		expectedBody   string
	}{
		"healthy": {
			checker:        CheckerFunc(func() error { return nil }),
			expectedStatus: http.StatusNoContent,
		},
		"unhealthy": {
			checker:        CheckerFunc(func() error { return errors.New("store down") }),
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "store down",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			SetupHttpMux(mux, tc.checker)

			recorder := httptest.NewRecorder()
			mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tc.expectedStatus, recorder.Code)
			assert.Equal(t, tc.expectedBody, recorder.Body.String())
		})
	}
}
