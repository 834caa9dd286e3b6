package users

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrInvalidUser indicates a user record with missing or malformed fields.
var ErrInvalidUser = errors.New("invalid user")

// User represents the signed-in person. The JSON layout is the persisted record.
type User struct {
	ID       string `json:"id" validate:"required"`
	Nombre   string `json:"nombre" validate:"required"`
	Apellido string `json:"apellido" validate:"required"`
	Email    string `json:"email" validate:"required,contains=@"`
}

var validate = validator.New()

// Validate reports whether every field of u is populated.
func Validate(u *User) error {
	if u == nil {
		return fmt.Errorf("%w: user missing", ErrInvalidUser)
	}
	if err := validate.Struct(u); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, strings.ToLower(fe.Field()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidUser, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	return nil
}

// Clone returns a copy of u, or nil when u is nil.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// DisplayName renders "Nombre Apellido" with Spanish title casing.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.Join([]string{u.Nombre, u.Apellido}, " "))
	// Casers keep state; one per call.
	return cases.Title(language.Spanish).String(strings.ToLower(name))
}
