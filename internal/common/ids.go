// Package common holds small helpers shared across services.
package common

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// workerIDAlphabet keeps ids lowercase-alphanumeric so they read cleanly in
// log lines and SQL.
const workerIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const workerIDLength = 12

// NewWorkerID returns a fleet-unique queue worker identifier. Ids are random
// rather than registered; the heartbeat table upserts by id, so a collision
// degrades to shared counters, never to corruption.
func NewWorkerID() string {
	suffix, err := gonanoid.Generate(workerIDAlphabet, workerIDLength)
	if err != nil {
		// crypto/rand unavailable; keep the worker running with a fixed,
		// recognizable suffix
		suffix = "000000000000"
	}
	return "worker-" + suffix
}
