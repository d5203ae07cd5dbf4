package auth

import (
	"context"
	"fmt"
	"io"

	"github.com/npezzotti/chatterbox/internal/api"
	"github.com/npezzotti/chatterbox/internal/types"
)

type ProfileForm struct {
	DisplayName        string
	Avatar             io.Reader
	AvatarName         string
	AvatarSize         int64
	CurrentPassword    string
	NewPassword        string
	ConfirmNewPassword string
}

func (f ProfileForm) Validate() error {
	if f.Avatar != nil && f.AvatarSize > maxAvatarSize {
		return ErrAvatarTooLarge
	}
	if f.NewPassword != "" && f.CurrentPassword == "" {
		return ErrCurrentPasswordRequired
	}
	if f.NewPassword != "" && len(f.NewPassword) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if f.NewPassword != f.ConfirmNewPassword {
		return ErrPasswordMismatch
	}
	if f.DisplayName == "" && f.Avatar == nil && f.NewPassword == "" {
		return ErrNoChanges
	}
	return nil
}

func (p *Provider) UpdateProfile(ctx context.Context, form ProfileForm) (types.User, error) {
	sess, ok := p.Current()
	if !ok {
		return types.User{}, ErrNotAuthenticated
	}
	if err := form.Validate(); err != nil {
		return types.User{}, err
	}

	update := api.ProfileUpdate{
		DisplayName: form.DisplayName,
		Avatar:      form.Avatar,
		AvatarName:  form.AvatarName,
	}
	if form.NewPassword != "" {
		update.CurrentPassword = form.CurrentPassword
		update.NewPassword = form.NewPassword
	}

	user, err := p.client.UpdateProfile(ctx, update)
	if err != nil {
		return types.User{}, fmt.Errorf("update profile: %w", err)
	}

	// the session may have ended while the request was in flight
	if cur, ok := p.Current(); ok && cur.Token == sess.Token {
		p.establish(&types.Session{User: *user, Token: sess.Token})
	}

	return *user, nil
}
