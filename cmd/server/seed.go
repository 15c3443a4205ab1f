package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/store/sqlite"
)

var demoUsers = []chat.Identity{
	{Username: "alice", DisplayName: "Alice"},
	{Username: "bob", DisplayName: "Bob"},
	{Username: "carol", DisplayName: "Carol"},
}

type demoRoom struct {
	room    chat.Room
	members []string
}

var demoRooms = []demoRoom{
	{room: chat.Room{Name: "general", Kind: chat.RoomOpen, Active: true}},
	{room: chat.Room{Name: "core-team", Kind: chat.RoomGroup, Active: true}, members: []string{"alice", "bob"}},
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create demo users and rooms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, _, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return seed(cmd.Context(), store, cmd.OutOrStdout())
		},
	}
}

// seed inserts the demo data. Existing users are reused; rooms are always
// created.
func seed(ctx context.Context, store *sqlite.Store, out io.Writer) error {
	ids := make(map[string]int64, len(demoUsers))
	for _, u := range demoUsers {
		created, err := store.CreateUser(ctx, u)
		if errors.Is(err, sqlite.ErrAlreadyExists) {
			created, err = store.UserByUsername(ctx, u.Username)
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
		ids[u.Username] = created.ID
		fmt.Fprintf(out, "user %-8s id=%d\n", created.Username, created.ID)
	}

	for _, d := range demoRooms {
		d.room.CreatedBy = ids["alice"]
		room, err := store.CreateRoom(ctx, d.room)
		if err != nil {
			return fmt.Errorf("seed room %s: %w", d.room.Name, err)
		}
		for _, name := range d.members {
			if err := store.AddMember(ctx, room.ID, ids[name]); err != nil {
				return fmt.Errorf("seed member %s: %w", name, err)
			}
		}
		fmt.Fprintf(out, "room %-10s id=%d kind=%s\n", room.Name, room.ID, room.Kind)
	}
	return nil
}
