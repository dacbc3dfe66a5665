package utils

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverAsError(t *testing.T) {
	panicking := func() (err error) {
		defer RecoverAsError(&err)
		panic("bad record")
	}
	var pe *PanicError
	require.ErrorAs(t, panicking(), &pe)
	assert.Equal(t, "bad record", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, "recovered panic: bad record", pe.Error())

	sentinel := errors.New("plain")
	returning := func() (err error) {
		defer RecoverAsError(&err)
		return sentinel
	}
	assert.Same(t, sentinel, returning())
}

func TestPanicErrorUnwrap(t *testing.T) {
	fn := func() (err error) {
		defer RecoverAsError(&err)
		panic(io.ErrUnexpectedEOF)
	}
	assert.ErrorIs(t, fn(), io.ErrUnexpectedEOF)
}

func TestRecoverWithCallback(t *testing.T) {
	var got error
	func() {
		defer RecoverWithCallback(func(err error) { got = err })
		panic(42)
	}()
	var pe *PanicError
	require.ErrorAs(t, got, &pe)
	assert.Equal(t, 42, pe.Value)

	assert.NotPanics(t, func() {
		defer RecoverWithCallback(nil)
		panic("ignored")
	})
}
