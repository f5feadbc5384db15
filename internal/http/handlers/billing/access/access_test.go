package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServeHTTP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/access-check", nil)
	w := httptest.NewRecorder()

	ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"access":"granted"`)
}
