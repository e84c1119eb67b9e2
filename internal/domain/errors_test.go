package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"taller/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"Nil", nil, models.ErrorKindNone},
		{"NoHandler", fmt.Errorf("pedidos: %w", ErrNoHandler), models.ErrorKindConfiguration},
		{"UnsupportedOp", fmt.Errorf("delete: %w", ErrUnsupportedOp), models.ErrorKindConfiguration},
		{"Permanent", Permanent(errors.New("nombre requerido")), models.ErrorKindPermanent},
		{"Remote400", &RemoteError{Status: 400}, models.ErrorKindPermanent},
		{"Remote422Wrapped", fmt.Errorf("create: %w", &RemoteError{Status: 422}), models.ErrorKindPermanent},
		{"Remote409", &RemoteError{Status: 409}, models.ErrorKindPermanent},
		{"Remote500", &RemoteError{Status: 503}, models.ErrorKindTransient},
		{"Remote429", &RemoteError{Status: 429}, models.ErrorKindTransient},
		{"Remote408", &RemoteError{Status: 408}, models.ErrorKindTransient},
		{"Deadline", context.DeadlineExceeded, models.ErrorKindTransient},
		{"Offline", ErrOffline, models.ErrorKindTransient},
		{"NetOpError", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, models.ErrorKindTransient},
		{"Unknown", errors.New("boom"), models.ErrorKindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	cause := errors.New("invalid rut")
	err := Permanent(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "invalid rut", err.Error())
}

func TestRemoteError_Error(t *testing.T) {
	err := &RemoteError{Status: 404, Method: "PUT", URL: "http://api/clientes/1"}
	assert.Equal(t, "PUT http://api/clientes/1: http 404", err.Error())

	err.Message = "not found"
	assert.Contains(t, err.Error(), "not found")
}
