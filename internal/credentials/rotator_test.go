// internal/credentials/rotator_test.go
package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatorRoundRobin(t *testing.T) {
	r := NewRotator()
	for _, id := range []string{"A", "B", "C"} {
		r.Add(Credential{Service: "vision", AccountID: id})
	}

	var order []string
	for i := 0; i < 4; i++ {
		cred, err := r.Next("vision")
		require.NoError(t, err)
		order = append(order, cred.AccountID)
	}

	// Configuration order, wrapping back to the first account.
	assert.Equal(t, []string{"A", "B", "C", "A"}, order)
}

func TestRotatorSingleAccount(t *testing.T) {
	r := NewRotator()
	r.Add(Credential{Service: "vision", AccountID: "only"})

	for i := 0; i < 3; i++ {
		cred, err := r.Next("vision")
		require.NoError(t, err)
		assert.Equal(t, "only", cred.AccountID)
	}
}

func TestRotatorUnknownService(t *testing.T) {
	r := NewRotator()
	_, err := r.Next("vision")
	assert.Error(t, err)
	assert.Equal(t, 0, r.Size("vision"))
}

func TestRotatorSize(t *testing.T) {
	r := NewRotator()
	r.Add(Credential{Service: "vision", AccountID: "A"})
	r.Add(Credential{Service: "vision", AccountID: "B"})
	r.Add(Credential{Service: "other", AccountID: "X"})

	assert.Equal(t, 2, r.Size("vision"))
	assert.Equal(t, 1, r.Size("other"))
}
