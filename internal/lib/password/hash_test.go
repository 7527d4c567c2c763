package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{name: "regular password", password: "password123"},
		{name: "password with special chars", password: "p@ssw0rd!@#$%^&*()"},
		{name: "unicode password", password: "пароль-для-экзамена"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := Hash(tt.password)
			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotEqual(t, tt.password, hash)

			assert.NoError(t, Compare(hash, tt.password))
		})
	}
}

func TestCompare_Mismatch(t *testing.T) {
	hash, err := Hash("correct-password")
	require.NoError(t, err)

	err = Compare(hash, "wrong-password")
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestCompare_InvalidHash(t *testing.T) {
	err := Compare("not-a-bcrypt-hash", "whatever")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMismatch)
}

func TestHash_Unique(t *testing.T) {
	first, err := Hash("same-password")
	require.NoError(t, err)
	second, err := Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestValidateHash(t *testing.T) {
	hash, err := Hash("password123")
	require.NoError(t, err)

	require.NoError(t, ValidateHash(hash))
	require.ErrorIs(t, ValidateHash("password123"), ErrInvalidHash)
	require.ErrorIs(t, ValidateHash(""), ErrInvalidHash)
}
