package session

import (
	"strconv"
	"time"
)

// Discord epoch, milliseconds since Unix epoch.
const discordEpochMS = 1420070400000

// SnowflakeTime decodes the approximate creation time embedded in a
// Discord snowflake id. Non-numeric ids report false.
func SnowflakeTime(id string) (time.Time, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}, false
	}
	ms := int64(n>>22) + discordEpochMS
	return time.UnixMilli(ms), true
}
