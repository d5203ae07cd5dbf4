package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/npezzotti/chatterbox/internal/api"
	"github.com/npezzotti/chatterbox/internal/auth"
	"github.com/npezzotti/chatterbox/internal/types"
	"github.com/spf13/cobra"
)

func (c *cli) newLoginCmd() *cobra.Command {
	var form auth.LoginForm

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			var err error
			if form.Email == "" {
				if form.Email, err = a.prompt("Email: "); err != nil {
					return err
				}
			}
			if form.Password == "" {
				if form.Password, err = a.prompt("Password: "); err != nil {
					return err
				}
			}

			sess, err := a.auth.Login(cmd.Context(), form)
			if err != nil {
				return fmt.Errorf("login: %s", describe(err, "Login failed"))
			}

			fmt.Fprintf(a.out, "Logged in as %s\n", sess.User.Name())
			return nil
		},
	}

	cmd.Flags().StringVar(&form.Email, "email", "", "account email")
	cmd.Flags().StringVar(&form.Password, "password", "", "account password (prompted when empty)")
	return cmd
}

func (c *cli) newRegisterCmd() *cobra.Command {
	var form auth.RegisterForm

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			var err error
			if form.Username == "" {
				if form.Username, err = a.prompt("Username: "); err != nil {
					return err
				}
			}
			if form.Email == "" {
				if form.Email, err = a.prompt("Email: "); err != nil {
					return err
				}
			}
			if form.Password == "" {
				if form.Password, err = a.prompt("Password: "); err != nil {
					return err
				}
				if form.ConfirmPassword, err = a.prompt("Confirm password: "); err != nil {
					return err
				}
			} else if !cmd.Flags().Changed("confirm-password") {
				form.ConfirmPassword = form.Password
			}

			sess, err := a.auth.Register(cmd.Context(), form)
			if err != nil {
				return fmt.Errorf("register: %s", describe(err, "Registration failed"))
			}

			fmt.Fprintf(a.out, "Welcome, %s! You are now logged in.\n", sess.User.Name())
			return nil
		},
	}

	cmd.Flags().StringVar(&form.Username, "username", "", "account username")
	cmd.Flags().StringVar(&form.Email, "email", "", "account email")
	cmd.Flags().StringVar(&form.Password, "password", "", "account password (prompted when empty)")
	cmd.Flags().StringVar(&form.ConfirmPassword, "confirm-password", "", "repeat of the password")
	return cmd
}

func (c *cli) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}

			err := a.auth.Logout(cmd.Context())
			fmt.Fprintln(a.out, "Logged out")
			if err != nil {
				a.log.Println(err)
			}
			return nil
		},
	}
}

func (c *cli) newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.app.session(cmd.Context())
			if err != nil {
				return err
			}
			printUser(c.app, sess.User)
			return nil
		},
	}
}

func (c *cli) newProfileCmd() *cobra.Command {
	var (
		form       auth.ProfileForm
		avatarPath string
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update display name, avatar or password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}

			if avatarPath != "" {
				f, err := os.Open(avatarPath)
				if err != nil {
					return fmt.Errorf("open avatar: %w", err)
				}
				defer f.Close()

				info, err := f.Stat()
				if err != nil {
					return fmt.Errorf("stat avatar: %w", err)
				}
				form.Avatar = f
				form.AvatarName = filepath.Base(avatarPath)
				form.AvatarSize = info.Size()
			}
			if form.NewPassword != "" && !cmd.Flags().Changed("confirm-password") {
				form.ConfirmNewPassword = form.NewPassword
			}

			user, err := a.auth.UpdateProfile(cmd.Context(), form)
			if err != nil {
				return fmt.Errorf("update profile: %s", describe(err, "Failed to update profile"))
			}

			fmt.Fprintln(a.out, "Profile updated")
			printUser(a, user)
			return nil
		},
	}

	cmd.Flags().StringVar(&form.DisplayName, "display-name", "", "new display name")
	cmd.Flags().StringVar(&avatarPath, "avatar", "", "image file to upload as avatar")
	cmd.Flags().StringVar(&form.CurrentPassword, "current-password", "", "current password, required to change it")
	cmd.Flags().StringVar(&form.NewPassword, "new-password", "", "new password")
	cmd.Flags().StringVar(&form.ConfirmNewPassword, "confirm-password", "", "repeat of the new password")
	return cmd
}

// describe is the one-line text shown for a failed request: the backend's
// message for API errors, the error itself otherwise.
func describe(err error, fallback string) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return api.Message(err, fallback)
	}
	return err.Error()
}

func printUser(a *app, u types.User) {
	fmt.Fprintf(a.out, "Name:     %s\n", u.Name())
	fmt.Fprintf(a.out, "Username: %s\n", u.Username)
	if u.EmailAddress != "" {
		fmt.Fprintf(a.out, "Email:    %s\n", u.EmailAddress)
	}
	if u.Avatar != "" {
		fmt.Fprintf(a.out, "Avatar:   %s\n", u.Avatar)
	}
	fmt.Fprintf(a.out, "ID:       %s\n", u.Id)
}
