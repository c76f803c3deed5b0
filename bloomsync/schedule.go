package bloomsync

import (
	"os"
	"strings"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/utils"
)

// Schedule gating for the scheduled trigger. Inside business hours every tick
// runs; off-hours, only the tick at the top of an even-numbered hour runs.
// This bounds upstream call volume without real scheduling infrastructure.

const (
	businessHoursStart = 9  // 09:00 local
	businessHoursEnd   = 19 // up to 18:59 local
	offHoursGraceMin   = 15
)

func businessTimezone() string {
	if v := strings.TrimSpace(os.Getenv("BUSINESS_TIMEZONE")); v != "" {
		return v
	}
	return "America/Indiana/Indianapolis"
}

// ShouldRunScheduled reports whether a scheduled trigger at the given instant
// should proceed, and the skip reason when it should not.
func ShouldRunScheduled(now time.Time) (bool, string) {
	local := utils.ConvertToLocalTime(now.UTC(), businessTimezone())
	hour := local.Hour()

	if hour >= businessHoursStart && hour < businessHoursEnd {
		return true, ""
	}
	if hour%2 == 0 && local.Minute() < offHoursGraceMin {
		return true, ""
	}
	return false, "off-hours"
}
