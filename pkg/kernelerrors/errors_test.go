package kernelerrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSetsHTTPStatus(t *testing.T) {
	err := New(CodeAlreadyRunning, "event is already running")
	assert.Equal(t, http.StatusConflict, err.HTTPStatus)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeStorageError, "write failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsMatchesCode(t *testing.T) {
	err := New(CodeRequiredServiceMissing, "core.database.service missing")
	assert.True(t, Is(err, CodeRequiredServiceMissing))
	assert.False(t, Is(err, CodeAlreadyRunning))
}

func TestHTTPStatusDefaultsTo500ForPlainErrors(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestWithDetails(t *testing.T) {
	err := New(CodeParameterInvalid, "bad param").WithDetails("field", "timeout_seconds")
	assert.Equal(t, "timeout_seconds", err.Details["field"])
}
