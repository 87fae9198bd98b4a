package timeofday

import (
	"math/rand"
	"testing"
	"time"
	_ "time/tzdata"
)

func TestDelaySeconds(t *testing.T) {
	t.Parallel()
	day := func(h, m, s int) time.Time { return time.Date(2024, 3, 14, h, m, s, 0, time.UTC) }
	tests := []struct {
		name   string
		now    time.Time
		target TimeOfDay
		want   int64
	}{
		{name: "after target rolls to tomorrow", now: day(13, 0, 0), target: Noon, want: 82800},
		{name: "before target same day", now: day(11, 0, 0), target: Noon, want: 3600},
		{name: "exactly target fires now", now: day(12, 0, 0), target: Noon, want: 0},
		{name: "one second past target", now: day(12, 0, 1), target: Noon, want: 86399},
		{name: "just before midnight", now: day(23, 59, 59), target: TimeOfDay{Hour: 0, Minute: 0}, want: 1},
		{name: "midnight target at midnight", now: day(0, 0, 0), target: TimeOfDay{}, want: 0},
		{name: "sub-second floors", now: day(11, 59, 59).Add(500 * time.Millisecond), target: Noon, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := DelaySeconds(tt.now, tt.target); got != tt.want {
				t.Fatalf("DelaySeconds(%s, %s) = %d, want %d", tt.now.Format(time.RFC3339Nano), tt.target, got, tt.want)
			}
		})
	}
}

func TestNextCandidateDate(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 12, 31, 13, 0, 0, 0, time.UTC)
	next := Next(now, Noon)
	if y, m, d := next.Date(); y != 2025 || m != time.January || d != 1 {
		t.Fatalf("next = %s, want 2025-01-01 12:00", next)
	}
	now = time.Date(2024, 12, 31, 11, 0, 0, 0, time.UTC)
	if got := Next(now, Noon); got.Day() != 31 {
		t.Fatalf("next = %s, want same day", got)
	}
}

func TestDelayLandsOnTarget(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5000; i++ {
		now := base.Add(time.Duration(rng.Int63n(int64(366 * 24 * time.Hour))))
		target := TimeOfDay{Hour: rng.Intn(24), Minute: rng.Intn(60)}

		d := DelaySeconds(now, target)
		if d < 0 || d >= 24*60*60 {
			t.Fatalf("delay out of range: now=%s target=%s d=%d", now, target, d)
		}
		fire := now.Add(time.Duration(d) * time.Second)
		// Floor rounding can leave us up to one second short of the target.
		if got := fire.Add(time.Second).Truncate(time.Minute); got.Hour() != target.Hour || got.Minute() != target.Minute {
			t.Fatalf("fire %s does not land on %s (now=%s)", fire, target, now)
		}
	}
}

func TestNextAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Vilnius")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2024-03-31 is the spring-forward day in Vilnius (03:00 -> 04:00).
	now := time.Date(2024, 3, 30, 13, 0, 0, 0, loc)
	next := Next(now, Noon)
	if next.Hour() != 12 || next.Day() != 31 {
		t.Fatalf("next = %s, want 2024-03-31 12:00 local", next)
	}
	if d := DelaySeconds(now, Noon); d != 22*3600 {
		t.Fatalf("delay across DST = %d, want %d", d, 22*3600)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	tod, err := Parse("07:05")
	if err != nil || tod != (TimeOfDay{Hour: 7, Minute: 5}) {
		t.Fatalf("Parse = %v, %v", tod, err)
	}
	if tod.String() != "07:05" {
		t.Fatalf("String = %s", tod.String())
	}
	for _, bad := range []string{"24:00", "12:60", "noon", "12", "12:5", "", "+1:00", "-0:00", "9:30", "12:+5", " 9:30", "1a:00", "12:00:00"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q) should fail", bad)
		}
	}
}
