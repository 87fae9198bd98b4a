package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "memory" or empty: in-process map; groups are lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Group is a chat the bot has been added to.
type Group struct {
	ChatID   int64
	Title    string
	ThreadID int // forum topic for announcements; 0 uses the configured default
	Active   bool

	JoinedAt  time.Time
	UpdatedAt time.Time
}

// Store is the persistence API used by the dispatcher and jobs.
type Store interface {
	// UpsertGroup records g as active. JoinedAt is kept from the first insert.
	UpsertGroup(ctx context.Context, g Group) error
	// DeactivateGroup marks the chat inactive; unknown chats are ignored.
	DeactivateGroup(ctx context.Context, chatID int64) error
	Group(ctx context.Context, chatID int64) (Group, bool, error)
	// ActiveGroups lists active groups ordered by chat id.
	ActiveGroups(ctx context.Context) ([]Group, error)
	Close() error
}
