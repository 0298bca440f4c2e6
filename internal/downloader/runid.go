package downloader

import (
	"os"
	"strconv"

	"github.com/google/uuid"
)

// GenerateRunID returns a unique string for this process (hostname+pid+random).
func GenerateRunID() string {
	host, _ := os.Hostname()

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + uuid.NewString()[:8]
}
