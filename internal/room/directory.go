package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/npezzotti/chatterbox/internal/api"
	"github.com/npezzotti/chatterbox/internal/config"
	"github.com/npezzotti/chatterbox/internal/schedule"
	"github.com/npezzotti/chatterbox/internal/types"
)

var (
	ErrNameRequired       = errors.New("room name is required")
	ErrAccessCodeRequired = errors.New("private rooms require an access code")
)

type CreateParams struct {
	Name        string
	Description string
	IsPublic    bool
	AccessCode  string
}

func (p CreateParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	if !p.IsPublic && strings.TrimSpace(p.AccessCode) == "" {
		return ErrAccessCodeRequired
	}
	return nil
}

// Directory lists the rooms a user can see: live rooms, plus the user's own
// rooms whatever their status.
type Directory struct {
	log    *log.Logger
	rooms  api.RoomService
	userId string
	cfg    config.Directory

	mu     sync.Mutex
	cached []types.Room
	poller *schedule.Poller
}

func NewDirectory(logger *log.Logger, rooms api.RoomService, userId string, cfg config.Directory) *Directory {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultDirectoryPoll
	}

	return &Directory{
		log:    logger,
		rooms:  rooms,
		userId: userId,
		cfg:    cfg,
	}
}

func (d *Directory) List(ctx context.Context) ([]types.Room, error) {
	all, err := d.rooms.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	visible := make([]types.Room, 0, len(all))
	for i := range all {
		if all[i].VisibleTo(d.userId) {
			visible = append(visible, all[i])
		}
	}

	d.mu.Lock()
	d.cached = visible
	d.mu.Unlock()

	out := make([]types.Room, len(visible))
	copy(out, visible)
	return out, nil
}

// Cached returns the result of the last successful List.
func (d *Directory) Cached() []types.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.Room, len(d.cached))
	copy(out, d.cached)
	return out
}

func (d *Directory) Get(ctx context.Context, id string) (*types.Room, error) {
	r, err := d.rooms.GetRoom(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	return r, nil
}

// Create validates p and creates the room. New rooms start inactive.
func (d *Directory) Create(ctx context.Context, p CreateParams) (*types.Room, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	r, err := d.rooms.CreateRoom(ctx, api.CreateRoomRequest{
		Name:        strings.TrimSpace(p.Name),
		Description: strings.TrimSpace(p.Description),
		IsPublic:    p.IsPublic,
		AccessCode:  strings.TrimSpace(p.AccessCode),
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	d.log.Printf("created room %s (%s)", r.Id, r.Name)
	return r, nil
}

// Watch lists rooms now and then on every poll interval until ctx is done
// or Stop is called. onUpdate receives each successful listing.
func (d *Directory) Watch(ctx context.Context, onUpdate func([]types.Room)) error {
	rooms, err := d.List(ctx)
	if err != nil {
		return err
	}
	onUpdate(rooms)

	p := schedule.NewPoller(d.log, "rooms", d.cfg.PollInterval, func(ctx context.Context) error {
		rooms, err := d.List(ctx)
		if err != nil {
			return err
		}
		onUpdate(rooms)
		return nil
	})

	d.mu.Lock()
	if d.poller != nil {
		d.mu.Unlock()
		return errors.New("directory is already being watched")
	}
	d.poller = p
	d.mu.Unlock()

	p.Start(ctx)
	return nil
}

func (d *Directory) Stop() {
	d.mu.Lock()
	p := d.poller
	d.poller = nil
	d.mu.Unlock()

	if p != nil {
		p.Stop()
	}
}
