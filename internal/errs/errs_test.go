package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNilErrIsNil(t *testing.T) {
	assert.Nil(t, New(Validation, nil))
}

func TestOfAndIs(t *testing.T) {
	err := New(Health, fmt.Errorf("container never became healthy"))

	assert.Equal(t, Health, Of(err))
	assert.True(t, Is(err, Health))
	assert.False(t, Is(err, Runtime))
}

func TestOfUnclassifiedError(t *testing.T) {
	assert.Equal(t, Kind(""), Of(errors.New("plain error")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("engine unreachable")
	wrapped := New(Runtime, cause)

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, cause.Error(), wrapped.Error())
}
