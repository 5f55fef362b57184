package auth

import (
	"chat-relay/errors"
	"fmt"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateRequest checks the `validate` tags of a command or query.
func ValidateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// ValidatePassword enforces complexity on passwords chosen through the API.
func ValidatePassword(password string) error {
	if err := validate.Var(password, "required,min=12,max=72"); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPassword, err)
	}
	if !isPasswordComplex(password) {
		return errors.ErrInvalidPassword
	}
	return nil
}

func isPasswordComplex(s string) bool {
	var (
		hasUpper   = false
		hasLower   = false
		hasNumber  = false
		hasSpecial = false
	)
	for _, char := range s {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasNumber && hasSpecial
}
