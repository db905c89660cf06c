package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// StatisticsKey holds the cached decision statistics snapshot.
func StatisticsKey() string {
	return "pm:decisions:stats"
}

func ScanStatusKey(runID uuid.UUID) string {
	return fmt.Sprintf("pm:scan:%s", runID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
