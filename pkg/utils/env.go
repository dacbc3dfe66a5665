package utils

import (
	"os"
	"strconv"
)

// DefaultSemaphoreLimit bounds concurrent work when nothing else is configured.
const DefaultSemaphoreLimit = 20

// GetSemaphoreLimit returns SEMAPHORE_LIMIT from the environment, or the default.
func GetSemaphoreLimit() int {
	limit, err := strconv.Atoi(os.Getenv("SEMAPHORE_LIMIT"))
	if err != nil || limit <= 0 {
		return DefaultSemaphoreLimit
	}
	return limit
}
