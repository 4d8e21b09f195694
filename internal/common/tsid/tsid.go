// Package tsid generates time-sorted identifiers for persisted entities.
// IDs are 64-bit values (42-bit millisecond timestamp + 22-bit random)
// encoded as 13-character Crockford Base32 strings, optionally carrying
// an entity prefix such as "evt_" or "dlv_".
package tsid

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

const (
	// TSID epoch: 2020-01-01T00:00:00Z
	tsidEpoch = 1577836800000

	timestampBits = 42
	randomBits    = 22

	// Crockford Base32 alphabet
	alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// Well-known entity prefixes.
const (
	PrefixEvent        = "evt"
	PrefixAnomaly      = "anm"
	PrefixEndpoint     = "wep"
	PrefixDelivery     = "dlv"
	PrefixNotification = "ntf"
)

var (
	generator     *Generator
	generatorOnce sync.Once
)

// Generator generates TSIDs. Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	lastTime int64
	counter  uint32
}

// NewGenerator creates a new TSID generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate generates a new TSID using the process-wide generator
func Generate() string {
	generatorOnce.Do(func() {
		generator = NewGenerator()
	})
	return generator.Generate()
}

// GenerateWithPrefix generates a TSID with an entity prefix, e.g. "evt_0A3BK5J8MNPQR"
func GenerateWithPrefix(prefix string) string {
	if prefix == "" {
		return Generate()
	}
	return prefix + "_" + Generate()
}

// Generate generates a new TSID as a Crockford Base32 string
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli() - tsidEpoch

	var randomBytes [4]byte
	rand.Read(randomBytes[:])
	random := binary.BigEndian.Uint32(randomBytes[:]) & ((1 << randomBits) - 1)

	// Same millisecond: fold the counter into the random component so IDs
	// generated back-to-back remain unique and sortable.
	if now == g.lastTime {
		g.counter++
		random = (random &^ 0xFFFF) | (g.counter & 0xFFFF)
	} else {
		g.lastTime = now
		g.counter = 0
	}

	tsid := (uint64(now) << randomBits) | uint64(random)

	return encodeCrockford(tsid)
}

// encodeCrockford encodes a uint64 to a 13-character Crockford Base32 string
func encodeCrockford(value uint64) string {
	result := make([]byte, 13)
	for i := 12; i >= 0; i-- {
		result[i] = alphabet[value&0x1F]
		value >>= 5
	}
	return string(result)
}
