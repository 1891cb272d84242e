// Package netsim is a test-only transport that injects loss, latency
// and jitter between two endpoints. Packets are held in a delay buffer
// keyed by their scheduled delivery time and released as the caller's
// clock advances past it; no real time or real sockets are involved.
package netsim

import (
	"math/rand"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	protocol "github.com/opd-ai/go-protocol"
	"github.com/opd-ai/go-protocol/log"
)

// Condition is one simulated link state. Latency and Jitter are in
// seconds; PacketLoss is a probability in [0, 1]. Conditions are
// switchable over time via SetCondition.
type Condition struct {
	Latency    float64
	Jitter     float64
	PacketLoss float64
}

// Config configures a Simulator.
type Config struct {
	// BufferSize bounds how many packets may be in flight in the delay
	// buffer; the oldest slot is overwritten when full. Default 256.
	BufferSize int

	// Condition is the initial link state. The zero value is a
	// perfect link.
	Condition Condition

	// Seed drives the simulator's private random source, so a test
	// run is reproducible.
	Seed int64

	// Logger receives per-packet drop/delay diagnostics. Nil discards.
	Logger *logrus.Logger
}

type packetEntry struct {
	valid        bool
	deliveryTime float64
	data         []byte
}

// Simulator is a lossy, delaying in-memory link. Drive time with
// Update, feed packets with SendPacket, and drain whatever has come
// due with ReceivePacket. Single-threaded, like the core it tests.
type Simulator struct {
	config  Config
	linkID  uuid.UUID
	rng     *rand.Rand
	entries []packetEntry
	insert  int
	time    float64
	logger  *logrus.Logger
}

// NewSimulator builds a simulator from config.
func NewSimulator(config Config) *Simulator {
	if config.BufferSize == 0 {
		config.BufferSize = 256
	}
	return &Simulator{
		config:  config,
		linkID:  uuid.New(),
		rng:     rand.New(rand.NewSource(config.Seed)),
		entries: make([]packetEntry, config.BufferSize),
		logger:  log.New(config.Logger),
	}
}

// LinkID identifies this simulated link in log output.
func (s *Simulator) LinkID() uuid.UUID {
	return s.linkID
}

// SetCondition switches the link state; packets already in the delay
// buffer keep the schedule they were given when sent.
func (s *Simulator) SetCondition(condition Condition) {
	s.config.Condition = condition
}

// Update advances the simulator's clock.
func (s *Simulator) Update(timeBase protocol.TimeBase) {
	s.time = timeBase.Time
}

// SendPacket puts data on the link. It may be dropped outright, and is
// otherwise scheduled for delivery after latency plus a uniform jitter
// in [-Jitter, +Jitter]. The data is copied; the caller may reuse its
// buffer.
func (s *Simulator) SendPacket(data []byte) {
	condition := s.config.Condition
	if condition.PacketLoss > 0 && s.rng.Float64() < condition.PacketLoss {
		s.logger.WithFields(logrus.Fields{
			"link":  s.linkID,
			"bytes": len(data),
		}).Debug("simulator dropped packet")
		return
	}

	delay := condition.Latency
	if condition.Jitter > 0 {
		delay += (s.rng.Float64()*2 - 1) * condition.Jitter
	}
	if delay < 0 {
		delay = 0
	}

	s.logger.WithFields(logrus.Fields{
		"link":  s.linkID,
		"delay": delay,
	}).Debug("simulator delayed packet")

	entry := &s.entries[s.insert]
	entry.valid = true
	entry.deliveryTime = s.time + delay
	entry.data = append(entry.data[:0], data...)
	s.insert = (s.insert + 1) % len(s.entries)
}

// ReceivePacket returns one packet whose delivery time has come, or
// nil when nothing is due. Call it repeatedly per tick to drain the
// link. Delivery order follows scheduled time only loosely: jitter can
// reorder packets, which is the point.
func (s *Simulator) ReceivePacket() []byte {
	for i := range s.entries {
		entry := &s.entries[i]
		if !entry.valid || entry.deliveryTime > s.time {
			continue
		}
		entry.valid = false
		data := make([]byte, len(entry.data))
		copy(data, entry.data)
		return data
	}
	return nil
}

// Reset drops every packet in flight.
func (s *Simulator) Reset() {
	for i := range s.entries {
		s.entries[i].valid = false
	}
	s.insert = 0
}
