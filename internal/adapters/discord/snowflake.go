package discord

import (
	"strconv"
	"time"
)

// discordEpochMs is the Discord snowflake epoch (2015-01-01T00:00:00Z) in
// Unix milliseconds.
const discordEpochMs int64 = 1420070400000

// snowflakeFromTime returns the smallest snowflake whose embedded timestamp is
// at or after t. Passing it as an "after" cursor makes a history fetch start
// at the given wall-clock time.
func snowflakeFromTime(t time.Time) string {
	ms := t.UTC().UnixMilli() - discordEpochMs
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatUint(uint64(ms)<<22, 10)
}

// timeFromSnowflake extracts the creation time embedded in a snowflake ID.
// Malformed IDs map to the zero time.
func timeFromSnowflake(id string) time.Time {
	v, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}
	}
	ms := int64(v>>22) + discordEpochMs
	return time.UnixMilli(ms).UTC()
}

// snowflakeLess orders two snowflake IDs chronologically. IDs are decimal
// strings, so numeric comparison is length-then-lexicographic.
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
