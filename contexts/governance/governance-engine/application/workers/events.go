package workers

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	defaultBatchSize = 100
	defaultDedupTTL  = 7 * 24 * time.Hour
)

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func resolveBatchSize(size int) int {
	if size <= 0 {
		return defaultBatchSize
	}
	return size
}
