package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"trades-marketplace/internal/models"

	"golang.org/x/crypto/bcrypt"
)

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "passw0rd": {}, "p@ssw0rd": {},
	"123456": {}, "12345678": {}, "123456789": {}, "1234567890": {}, "qwerty": {},
	"qwerty123": {}, "qwertyuiop": {}, "abc123": {}, "111111": {}, "iloveyou": {},
	"letmein": {}, "welcome": {}, "welcome1": {}, "admin": {}, "admin123": {},
	"monkey": {}, "dragon": {}, "football": {}, "baseball": {}, "sunshine": {},
	"princess": {}, "trustno1": {}, "changeme": {}, "master": {}, "superman": {},
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckPasswordStrength scores a password from 0 to 4. A password is valid when it is long
// enough, mixes at least three character classes, is not a well-known password and does not
// contain the local part of the user's email.
func CheckPasswordStrength(password, email string, minLength int) models.PasswordStrength {
	var feedback []string
	length := utf8.RuneCountInString(password)

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, has := range []bool{lower, upper, digit, symbol} {
		if has {
			classes++
		}
	}

	score := 0
	if length >= minLength {
		score++
	} else {
		feedback = append(feedback, fmt.Sprintf("use at least %d characters", minLength))
	}
	if length >= 12 {
		score++
	}
	if classes >= 3 {
		score++
	} else {
		feedback = append(feedback, "mix upper and lower case letters, numbers and symbols")
	}
	if classes == 4 {
		score++
	}

	common := false
	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		common = true
		score = 0
		feedback = append(feedback, "this is a commonly used password")
	}

	containsEmail := false
	if local, _, ok := strings.Cut(strings.ToLower(email), "@"); ok && len(local) >= 3 {
		if strings.Contains(strings.ToLower(password), local) {
			containsEmail = true
			if score > 0 {
				score--
			}
			feedback = append(feedback, "do not include your email address")
		}
	}

	if score > 4 {
		score = 4
	}

	return models.PasswordStrength{
		Score:    score,
		Valid:    length >= minLength && classes >= 3 && !common && !containsEmail,
		Feedback: feedback,
	}
}
