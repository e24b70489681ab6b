package coreerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodedError_Error(t *testing.T) {
	t.Run("Should format code and message without a cause", func(t *testing.T) {
		err := RateLimitedError("too many requests")
		assert.Equal(t, "rate_limited: too many requests", err.Error())
	})

	t.Run("Should include the cause when wrapping one", func(t *testing.T) {
		cause := errors.New("dial tcp: refused")
		err := VectorStoreError("connect to vector store", cause)
		assert.Equal(t, "vector_store_error: connect to vector store: dial tcp: refused", err.Error())
	})
}

func TestCodedError_Unwrap(t *testing.T) {
	t.Run("Should let errors.Is see through to the wrapped cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := TimeoutError("embedding call timed out", cause)
		assert.True(t, errors.Is(err, cause))
	})
}

func TestCodedError_Code(t *testing.T) {
	t.Run("Should expose the taxonomy code string", func(t *testing.T) {
		err := CircuitOpenError("breaker open")
		assert.Equal(t, "circuit_open", err.Code())
	})
}

func TestAsCoded(t *testing.T) {
	t.Run("Should extract a CodedError when present", func(t *testing.T) {
		err := ConfigError("missing VECTOR_STORE_URL", nil)
		ce, ok := AsCoded(err)
		require := assert.New(t)
		require.True(ok)
		require.Equal(CodeConfigError, ce.code)
	})

	t.Run("Should report false for a plain error", func(t *testing.T) {
		_, ok := AsCoded(errors.New("plain"))
		assert.False(t, ok)
	})
}
