package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		credential string
		accept     bool
	}{
		{name: "no password accepts anything", password: "", credential: "whatever", accept: true},
		{name: "no password accepts empty", password: "", credential: "", accept: true},
		{name: "matching password", password: "secret", credential: "secret", accept: true},
		{name: "wrong password", password: "secret", credential: "guess", accept: false},
		{name: "missing password", password: "secret", credential: "", accept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewGate(tt.password).Evaluate(tt.credential)
			if tt.accept {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrRejected))
			assert.Equal(t, IncorrectPasswordReason, err.(*Error).Message)
		})
	}
}

func TestGateRequiresPassword(t *testing.T) {
	assert.False(t, NewGate("").RequiresPassword())
	assert.True(t, NewGate("x").RequiresPassword())
}
