package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesSentinelAndKind(t *testing.T) {
	errStock := New(Conflict, "insufficient stock")
	wrapped := fmt.Errorf("reserve prod-1: %w", errStock)

	assert.ErrorIs(t, wrapped, errStock)
	assert.ErrorIs(t, wrapped, Conflict)
	assert.False(t, errors.Is(wrapped, NotFound))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"sentinel", New(NotFound, "order not found"), NotFound},
		{"wrapped", Wrap(New(ValidationFailed, "bad qty"), "cart %s", "u1"), ValidationFailed},
		{"bare kind", fmt.Errorf("upstream: %w", GatewayUnavailable), GatewayUnavailable},
		{"unclassified", errors.New("boom"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
