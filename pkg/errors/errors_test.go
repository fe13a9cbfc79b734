package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	wrapped := ErrAlreadyUsed.Wrap(fmt.Errorf("row state"))
	assert.ErrorIs(t, wrapped, ErrAlreadyUsed)
	assert.NotErrorIs(t, wrapped, ErrReservationNotFound)

	chained := fmt.Errorf("failed to release: %w", ErrAlreadyUsed)
	assert.ErrorIs(t, chained, ErrAlreadyUsed)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrInvalidAmount, http.StatusBadRequest},
		{ErrInvalidAddressFormat, http.StatusBadRequest},
		{ErrReservationNotFound, http.StatusNotFound},
		{New(KindNotFound, "missing"), http.StatusNotFound},
		{ErrNoAddressAvailable, http.StatusConflict},
		{ErrAlreadyUsed, http.StatusConflict},
		{ErrAddressReserved, http.StatusConflict},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrConcurrentModification, http.StatusInternalServerError},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := New(KindInternal, "boom").Wrap(fmt.Errorf("disk"))
	assert.Contains(t, err.Error(), "Internal")
	assert.Contains(t, err.Error(), "disk")
}
