package auth

import (
	"errors"
	"regexp"
)

const (
	minPasswordLength = 6
	minUsernameLength = 3
	maxAvatarSize     = 5 * 1024 * 1024
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var (
	ErrInvalidEmail            = errors.New("please enter a valid email address")
	ErrPasswordTooShort        = errors.New("password must be at least 6 characters long")
	ErrUsernameTooShort        = errors.New("username must be at least 3 characters long")
	ErrPasswordMismatch        = errors.New("passwords do not match")
	ErrCurrentPasswordRequired = errors.New("please enter your current password")
	ErrAvatarTooLarge          = errors.New("image size should be less than 5MB")
	ErrNoChanges               = errors.New("no changes to update")
)

type LoginForm struct {
	Email    string
	Password string
}

func (f LoginForm) Validate() error {
	if !emailPattern.MatchString(f.Email) {
		return ErrInvalidEmail
	}
	if len(f.Password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

type RegisterForm struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

func (f RegisterForm) Validate() error {
	if f.Password != f.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if len(f.Password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if len(f.Username) < minUsernameLength {
		return ErrUsernameTooShort
	}
	if !emailPattern.MatchString(f.Email) {
		return ErrInvalidEmail
	}
	return nil
}
