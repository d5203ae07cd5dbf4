package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/npezzotti/chatterbox/internal/room"
	"github.com/npezzotti/chatterbox/internal/textchat"
	"github.com/npezzotti/chatterbox/internal/types"
	"github.com/spf13/cobra"
)

func (c *cli) newRoomsCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List live rooms and your own rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}

			dir := room.NewDirectory(a.log, a.client, sess.User.Id, a.cfg.Directory)
			if !watch {
				rooms, err := dir.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("list rooms: %s", describe(err, "Failed to fetch rooms"))
				}
				return printRooms(a.out, sess.User.Id, rooms)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := dir.Watch(ctx, func(rooms []types.Room) {
				fmt.Fprintln(a.out)
				printRooms(a.out, sess.User.Id, rooms)
			}); err != nil {
				return fmt.Errorf("watch rooms: %s", describe(err, "Failed to fetch rooms"))
			}
			defer dir.Stop()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep the list updated until interrupted")
	return cmd
}

func printRooms(w io.Writer, userId string, rooms []types.Room) error {
	if len(rooms) == 0 {
		_, err := fmt.Fprintln(w, "No rooms available. Create one with `chatterbox create-room`.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVISIBILITY\tSTATUS\tPARTICIPANTS\tCREATOR")
	for _, r := range rooms {
		creator := r.Creator.Name()
		if r.IsCreator(userId) {
			creator = "you"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Id, r.Name, r.Visibility(), r.Status, len(r.Participants), creator)
	}
	return tw.Flush()
}

func (c *cli) newCreateRoomCmd() *cobra.Command {
	var params room.CreateParams
	var private bool

	cmd := &cobra.Command{
		Use:   "create-room <name>",
		Short: "Create a room; it starts inactive until you go live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}

			params.Name = args[0]
			params.IsPublic = !private
			if private && params.AccessCode == "" {
				if params.AccessCode, err = a.prompt("Access code: "); err != nil {
					return err
				}
			}

			dir := room.NewDirectory(a.log, a.client, sess.User.Id, a.cfg.Directory)
			created, err := dir.Create(cmd.Context(), params)
			if err != nil {
				return fmt.Errorf("create room: %s", describe(err, "Failed to create room"))
			}

			fmt.Fprintf(a.out, "Created room %q\n", created.Name)
			fmt.Fprintf(a.out, "ID:          %s\n", created.Id)
			fmt.Fprintf(a.out, "Visibility:  %s\n", created.Visibility())
			if created.AccessCode != "" {
				fmt.Fprintf(a.out, "Access code: %s\n", created.AccessCode)
			}
			fmt.Fprintf(a.out, "Go live with `chatterbox live %s`.\n", created.Id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&params.Description, "description", "d", "", "room description")
	cmd.Flags().BoolVar(&private, "private", false, "require an access code to enter")
	cmd.Flags().StringVar(&params.AccessCode, "access-code", "", "access code for a private room (prompted when empty)")
	return cmd
}

func (c *cli) newLiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live <room-id>",
		Short: "Toggle one of your rooms between live and inactive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}

			status, err := toggleLive(cmd.Context(), a, sess.User.Id, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Room %s is now %s\n", args[0], status)
			return nil
		},
	}
}

func toggleLive(ctx context.Context, a *app, userId, roomId string) (types.RoomStatus, error) {
	dir := room.NewDirectory(a.log, a.client, userId, a.cfg.Directory)
	r, err := dir.Get(ctx, roomId)
	if err != nil {
		return "", fmt.Errorf("get room: %s", describe(err, "Failed to fetch room"))
	}
	if !r.IsCreator(userId) {
		return "", room.ErrNotCreator
	}

	next := types.StatusLive
	if r.IsLive() {
		next = types.StatusInactive
	}

	updated, err := a.client.UpdateRoomStatus(ctx, roomId, next)
	if err != nil {
		return "", fmt.Errorf("update room status: %s", describe(err, "Failed to update room status"))
	}
	return updated.Status, nil
}

func (c *cli) newPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <room-id> <message>",
		Short: "Post a message to a room without entering it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}

			content := strings.TrimSpace(strings.Join(args[1:], " "))
			if content == "" {
				return textchat.ErrEmptyMessage
			}

			if err := a.client.PostMessage(cmd.Context(), args[0], content); err != nil {
				return fmt.Errorf("post message: %s", describe(err, "Failed to send message"))
			}

			fmt.Fprintln(a.out, "Message posted")
			return nil
		},
	}
}
