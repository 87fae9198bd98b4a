package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "quotebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertGroup(ctx context.Context, g Group) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	joined := now
	if !g.JoinedAt.IsZero() {
		joined = g.JoinedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(chat_id, title, thread_id, active, joined_at, updated_at)
		 VALUES(?,?,?,1,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   title=excluded.title,
		   thread_id=excluded.thread_id,
		   active=1,
		   updated_at=excluded.updated_at`,
		g.ChatID, g.Title, g.ThreadID, joined, now,
	)
	return err
}

func (s *sqliteStore) DeactivateGroup(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE groups SET active=0, updated_at=? WHERE chat_id=?`,
		time.Now().UTC().Format(time.RFC3339Nano), chatID,
	)
	return err
}

const groupColumns = `chat_id, title, thread_id, active, joined_at, updated_at`

func (s *sqliteStore) Group(ctx context.Context, chatID int64) (Group, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE chat_id = ?`, chatID)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, false, nil
	}
	if err != nil {
		return Group{}, false, err
	}
	return g, true, nil
}

func (s *sqliteStore) ActiveGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE active = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(sc scanner) (Group, error) {
	var (
		g               Group
		active          int
		joined, updated string
	)
	if err := sc.Scan(&g.ChatID, &g.Title, &g.ThreadID, &active, &joined, &updated); err != nil {
		return Group{}, err
	}
	g.Active = active != 0
	g.JoinedAt, _ = time.Parse(time.RFC3339Nano, joined)
	g.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return g, nil
}
