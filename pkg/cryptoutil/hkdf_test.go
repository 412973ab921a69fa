package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHKDFExpandDeterministic(t *testing.T) {
	secret := []byte("shared-secret-material")
	a := HKDFExpand(secret, "Control-Salt", "Control-Write-Encryption-Key", 32)
	b := HKDFExpand(secret, "Control-Salt", "Control-Write-Encryption-Key", 32)
	require.Equal(t, a, b)
	require.Len(t, a, 32)

	c := HKDFExpand(secret, "Control-Salt", "Control-Read-Encryption-Key", 32)
	require.NotEqual(t, a, c)
}
