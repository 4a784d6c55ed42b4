package discord

import (
	"testing"
	"time"
)

func TestSnowflakeFromTimeRoundTrip(t *testing.T) {
	t.Parallel()
	want := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	id := snowflakeFromTime(want)
	got := timeFromSnowflake(id)
	if !got.Equal(want) {
		t.Fatalf("round trip = %v, want %v", got, want)
	}
}

func TestSnowflakeFromTimeBeforeEpoch(t *testing.T) {
	t.Parallel()
	id := snowflakeFromTime(time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC))
	if id != "0" {
		t.Fatalf("pre-epoch snowflake = %q, want %q", id, "0")
	}
}

func TestTimeFromSnowflakeKnownValue(t *testing.T) {
	t.Parallel()
	// 175928847299117063 is the documented example snowflake:
	// 2016-04-30 11:18:25.796 UTC.
	got := timeFromSnowflake("175928847299117063")
	want := time.Date(2016, 4, 30, 11, 18, 25, 796_000_000, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("timeFromSnowflake = %v, want %v", got, want)
	}
}

func TestSnowflakeLess(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want bool
	}{
		{"999", "1000", true},
		{"1000", "999", false},
		{"1000", "1001", true},
		{"1001", "1001", false},
	}
	for _, tt := range tests {
		if got := snowflakeLess(tt.a, tt.b); got != tt.want {
			t.Fatalf("snowflakeLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTimeFromSnowflakeMalformed(t *testing.T) {
	t.Parallel()
	if got := timeFromSnowflake("not-a-snowflake"); !got.IsZero() {
		t.Fatalf("malformed snowflake = %v, want zero time", got)
	}
}
