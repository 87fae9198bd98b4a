package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "quotebot/pkg/logx"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() {
		_ = sq.Close()
		_ = mem.Close()
	})
	return map[string]Store{"sqlite": sq, "memory": mem}
}

func TestGroupRegistry(t *testing.T) {
	for name, st := range openStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			joined := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
			if err := st.UpsertGroup(ctx, Group{ChatID: -200, Title: "B", JoinedAt: joined}); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if err := st.UpsertGroup(ctx, Group{ChatID: -100, Title: "A"}); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			// Re-adding keeps the original join time and updates the title.
			if err := st.UpsertGroup(ctx, Group{ChatID: -200, Title: "B2"}); err != nil {
				t.Fatalf("upsert again: %v", err)
			}

			gs, err := st.ActiveGroups(ctx)
			if err != nil {
				t.Fatalf("active: %v", err)
			}
			if len(gs) != 2 || gs[0].ChatID != -200 || gs[1].ChatID != -100 {
				t.Fatalf("active = %+v", gs)
			}
			if gs[0].Title != "B2" || !gs[0].JoinedAt.Equal(joined) {
				t.Fatalf("group -200 = %+v", gs[0])
			}

			if err := st.DeactivateGroup(ctx, -200); err != nil {
				t.Fatalf("deactivate: %v", err)
			}
			if err := st.DeactivateGroup(ctx, -999); err != nil {
				t.Fatalf("deactivate unknown: %v", err)
			}
			g, ok, err := st.Group(ctx, -200)
			if err != nil || !ok || g.Active {
				t.Fatalf("group after leave = %+v ok=%v err=%v", g, ok, err)
			}
			if gs, _ := st.ActiveGroups(ctx); len(gs) != 1 || gs[0].ChatID != -100 {
				t.Fatalf("active after leave = %+v", gs)
			}
			if _, ok, _ := st.Group(ctx, -999); ok {
				t.Fatal("unknown group reported present")
			}
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.UpsertGroup(context.Background(), Group{ChatID: -1, Title: "x", ThreadID: 5}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	gs, err := st.ActiveGroups(context.Background())
	if err != nil || len(gs) != 1 || gs[0].ThreadID != 5 {
		t.Fatalf("after reopen = %+v err=%v", gs, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
