package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/npezzotti/chatterbox/internal/audio"
	"github.com/npezzotti/chatterbox/internal/realtime"
	"github.com/npezzotti/chatterbox/internal/room"
	"github.com/npezzotti/chatterbox/internal/textchat"
	"github.com/npezzotti/chatterbox/internal/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	notesBuffer = 256
	// 4096 bytes of 16 kHz mono 16-bit PCM
	defaultFrameInterval = 128 * time.Millisecond
)

var (
	errLeft = errors.New("left room")
	errQuit = errors.New("quit")
)

const shellHelp = `Type a line to send it to the room. Commands:
  /code <code>   enter the access code of a private room
  /mute          stop sending microphone audio
  /unmute        resume sending microphone audio
  /who           list participants
  /activity      show recent joins and leaves
  /history       show the messages received so far
  /live          toggle the room live or inactive (creator only)
  /leave         leave the room
  /quit          close the shell without leaving the room
  /help          show this help`

type roomOptions struct {
	accessCode    string
	micPath       string
	audioOut      string
	frameSize     int
	frameInterval time.Duration
}

func (c *cli) newRoomCmd() *cobra.Command {
	var opts roomOptions

	cmd := &cobra.Command{
		Use:   "room <room-id>",
		Short: "Enter a room and chat interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRoom(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.accessCode, "code", "", "access code for a private room")
	cmd.Flags().StringVar(&opts.micPath, "mic", "", "file or pipe of raw audio frames to send as microphone input")
	cmd.Flags().StringVar(&opts.audioOut, "audio-out", "", "file to write received audio frames to")
	cmd.Flags().IntVar(&opts.frameSize, "frame-size", audio.DefaultFrameSize, "bytes per audio frame")
	cmd.Flags().DurationVar(&opts.frameInterval, "frame-interval", defaultFrameInterval, "pause between microphone frames")
	return cmd
}

// roomShell is the interactive session inside one room. Listener callbacks
// queue notes that a single printer goroutine writes out.
type roomShell struct {
	a       *app
	ctx     context.Context
	roomId  string
	userId  string
	manager *realtime.Manager
	ctrl    *room.Controller
	chat    *textchat.Chat

	mic      audio.Microphone
	renderer audio.Renderer

	outMu sync.Mutex
	notes chan string

	mu     sync.Mutex
	voice  *audio.Session
	status types.RoomStatus
}

func (c *cli) runRoom(ctx context.Context, roomId string, opts roomOptions) error {
	a := c.app
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &roomShell{
		a:       a,
		ctx:     ctx,
		roomId:  roomId,
		userId:  sess.User.Id,
		manager: a.realtime(),
		notes:   make(chan string, notesBuffer),
	}

	closeDevices, err := s.openDevices(opts)
	if err != nil {
		return err
	}
	defer closeDevices()

	a.auth.OnLogout(func() {
		s.notify("Your session has ended. Please log in again.")
		cancel()
	})

	if _, err := s.manager.Connect(a.auth.Token()); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.chat = textchat.NewChat(roomId, s.userId, s.manager, time.Local)
	s.ctrl = room.NewController(a.log, roomId, s.userId, a.client, a.client, s.manager, room.Options{
		Config:   a.cfg.Room,
		Stats:    a.stats,
		Listener: s.listener(),
	})
	defer s.ctrl.Deactivate()
	defer s.stopVoice()

	phase, err := s.ctrl.Activate(ctx)
	if err != nil {
		return fmt.Errorf("enter room: %s", describe(err, "Failed to load room"))
	}

	snap := s.ctrl.Snapshot()
	s.printf("== %s ==\n", snap.Room.Name)
	if snap.Room.Description != "" {
		s.printf("%s\n", snap.Room.Description)
	}

	if phase == room.Gated {
		if opts.accessCode != "" {
			s.submitCode(ctx, opts.accessCode)
		} else {
			s.printf("This room is private. Enter the access code with /code <code>.\n")
		}
	} else {
		s.entered()
	}

	lines := make(chan string)
	go readLines(a.in, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.printNotes(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := s.handleLine(gctx, line); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	s.flushNotes()
	if errors.Is(err, errLeft) || errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLines feeds lines from r into out until r is exhausted.
func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func (s *roomShell) openDevices(opts roomOptions) (func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	if opts.micPath != "" {
		f, err := os.Open(opts.micPath)
		if err != nil {
			return nil, fmt.Errorf("open microphone input: %w", err)
		}
		closers = append(closers, f)
		s.mic = audio.NewReaderMicrophone(f, opts.frameSize, opts.frameInterval)
	}

	if opts.audioOut != "" {
		f, err := os.Create(opts.audioOut)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open audio output: %w", err)
		}
		closers = append(closers, f)
		s.renderer = audio.NewWriterRenderer(f)
	}

	return closeAll, nil
}

func (s *roomShell) listener() room.Listener {
	return room.Listener{
		OnRoom: func(r types.Room) {
			s.mu.Lock()
			prev := s.status
			s.status = r.Status
			s.mu.Unlock()
			if prev != "" && prev != r.Status {
				s.notify(fmt.Sprintf("Room is now %s", r.Status))
			}
		},
		OnMessage: func(m types.Message) {
			s.notify(s.chat.Format(m))
		},
		OnActivity: func(a types.ActivityEvent) {
			verb := "joined"
			if a.Type == types.ActivityLeave {
				verb = "left"
			}
			s.notify(fmt.Sprintf("* %s %s the room", a.DisplayName, verb))
		},
		OnConnectionError: func(msg string) {
			s.notify("! Connection error: " + msg)
		},
		OnError: func(err error) {
			s.notify("! " + describe(err, "Something went wrong"))
		},
	}
}

// notify queues a line for the printer. Lines are dropped if the printer
// has fallen behind.
func (s *roomShell) notify(line string) {
	select {
	case s.notes <- line:
	default:
		s.a.log.Println("notification dropped:", line)
	}
}

func (s *roomShell) printNotes(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-s.notes:
			s.printf("%s\n", line)
		}
	}
}

func (s *roomShell) flushNotes() {
	for {
		select {
		case line := <-s.notes:
			s.printf("%s\n", line)
		default:
			return
		}
	}
}

func (s *roomShell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.a.out, format, args...)
}

// entered runs once the room is joined: audio starts and the user is told
// how to proceed.
func (s *roomShell) entered() {
	voice := audio.NewSession(s.a.log, s.roomId, s.userId, s.mic, s.renderer, s.manager, audio.Listener{
		OnMicrophoneError: func(err error) {
			s.notify(fmt.Sprintf("! %v, continuing without local audio", err))
		},
	})
	if err := voice.Activate(s.ctx); err != nil {
		s.notify("! Audio unavailable: " + err.Error())
	}

	s.mu.Lock()
	s.voice = voice
	s.mu.Unlock()

	s.printf("Joined the room. Type /help for commands.\n")

	if draft := s.chat.Draft(); draft != "" {
		if err := s.chat.SubmitDraft(); err != nil {
			s.printf("! %v\n", err)
			return
		}
		s.printf("Sent your draft: %s\n", draft)
	}
}

func (s *roomShell) stopVoice() {
	s.mu.Lock()
	voice := s.voice
	s.voice = nil
	s.mu.Unlock()

	if voice != nil {
		voice.Deactivate()
	}
}

func (s *roomShell) currentVoice() *audio.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

func (s *roomShell) submitCode(ctx context.Context, code string) {
	if err := s.ctrl.SubmitAccessCode(ctx, code); err != nil {
		if errors.Is(err, room.ErrNotGated) {
			s.printf("You are already in the room.\n")
			return
		}
		s.printf("! %s\n", describe(err, "Failed to join room"))
		return
	}
	s.entered()
}

func (s *roomShell) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		if s.ctrl.Snapshot().Phase != room.Joined {
			s.chat.SetDraft(line)
			s.printf("Enter the access code first with /code <code>. Your message is kept as a draft.\n")
			return nil
		}
		if err := s.chat.Submit(line); err != nil {
			s.printf("! %v\n", err)
		}
		return nil
	}

	args, err := shellwords.Parse(line[1:])
	if err != nil {
		s.printf("! Could not parse command: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}

	switch args[0] {
	case "code":
		if len(args) != 2 {
			s.printf("Usage: /code <code>\n")
			return nil
		}
		s.submitCode(ctx, args[1])
	case "mute", "unmute":
		voice := s.currentVoice()
		if voice == nil {
			s.printf("Audio starts once you are in the room.\n")
			return nil
		}
		voice.SetMuted(args[0] == "mute")
		if voice.Muted() {
			s.printf("Microphone muted.\n")
		} else {
			s.printf("Microphone live.\n")
		}
	case "who":
		s.printParticipants()
	case "activity":
		s.printActivity()
	case "history":
		s.outMu.Lock()
		err := s.chat.Render(s.a.out, s.ctrl.Snapshot().Messages)
		s.outMu.Unlock()
		if err != nil {
			return fmt.Errorf("render history: %w", err)
		}
	case "live":
		if _, err := s.ctrl.ToggleLive(ctx); err != nil {
			switch {
			case errors.Is(err, room.ErrNotCreator):
				s.printf("Only the room creator can change its status.\n")
			case errors.Is(err, room.ErrInactive):
				s.printf("Enter the room first.\n")
			default:
				s.printf("! %s\n", describe(err, "Failed to update room status"))
			}
		}
	case "leave":
		if err := s.ctrl.Leave(ctx); err != nil {
			s.printf("! %s\n", describe(err, "Failed to leave room"))
		}
		s.printf("Left the room.\n")
		return errLeft
	case "quit", "exit":
		return errQuit
	case "help":
		s.printf("%s\n", shellHelp)
	default:
		s.printf("Unknown command /%s. Type /help for commands.\n", args[0])
	}
	return nil
}

func (s *roomShell) printParticipants() {
	snap := s.ctrl.Snapshot()
	if snap.Phase != room.Joined {
		s.printf("Enter the room first.\n")
		return
	}

	var peers []audio.Peer
	if voice := s.currentVoice(); voice != nil {
		peers = voice.Peers(snap.Participants)
	} else {
		for _, p := range snap.Participants {
			peers = append(peers, audio.Peer{User: p.User, Role: p.Role})
		}
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.a.out, "Participants (%d):\n", len(peers))
	for _, p := range peers {
		line := "  " + p.User.Name()
		if p.User.Id == s.userId {
			line += " (you)"
		}
		if p.Role == types.RoleCreator {
			line += " [creator]"
		}
		if p.Connected {
			line += " [audio]"
		}
		fmt.Fprintln(s.a.out, line)
	}
}

func (s *roomShell) printActivity() {
	activity := s.ctrl.Snapshot().Activity
	if len(activity) == 0 {
		s.printf("No recent activity.\n")
		return
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	for _, a := range activity {
		verb := "joined"
		if a.Type == types.ActivityLeave {
			verb = "left"
		}
		fmt.Fprintf(s.a.out, "[%s] %s %s\n", a.Timestamp.Local().Format("15:04:05"), a.DisplayName, verb)
	}
}
