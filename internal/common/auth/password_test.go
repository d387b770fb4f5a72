package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPasswordStrength(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		email     string
		wantValid bool
		wantScore int
	}{
		{"too short", "Ab1!", "jo@example.com", false, 2},
		{"two classes", "abcdefgh12", "jo@example.com", false, 1},
		{"three classes", "Abcdefgh12", "jo@example.com", true, 2},
		{"long with all classes", "Tr4des-Marketplace!", "jo@example.com", true, 4},
		{"common password", "Password1", "jo@example.com", false, 0},
		{"contains email local part", "Carpenter#2024", "carpenter@example.com", false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckPasswordStrength(tt.password, tt.email, 8)
			assert.Equal(t, tt.wantValid, got.Valid, got.Feedback)
			assert.Equal(t, tt.wantScore, got.Score)
			if !tt.wantValid {
				assert.NotEmpty(t, got.Feedback)
			}
		})
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Tr4des-Marketplace!")
	require.NoError(t, err)
	assert.NotEqual(t, "Tr4des-Marketplace!", hash)
	assert.True(t, CheckPassword(hash, "Tr4des-Marketplace!"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
