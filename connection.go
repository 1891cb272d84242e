package protocol

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/go-protocol/log"
)

// TimeBase carries the caller's clock into Update. Tests drive Time
// manually; production callers tick it from a monotonic clock. The core
// never reads a real timer.
type TimeBase struct {
	Time      float64
	DeltaTime float64
}

// Channel is a delivery discipline layered on a Connection. Multiple
// channels share one packet; the Connection calls them in declaration
// order, on a single thread, never concurrently.
//
// ReadPayload must decode without mutating channel state and return a
// commit closure: the Connection applies every channel's commit only
// after the whole packet decodes cleanly, so a malformed packet leaves
// no partial side effects behind.
type Channel interface {
	// Reset returns the channel to its initial state.
	Reset()

	// Update advances the channel's notion of time.
	Update(timeBase TimeBase)

	// PacketAcked tells the channel that the packet it wrote under
	// sequence has been acknowledged by the peer. Called at most once
	// per sequence.
	PacketAcked(sequence uint16)

	// WritePayload contributes this channel's payload to an outbound
	// packet, spending at most budgetBytes of the packet's remaining
	// space. A channel with nothing eligible writes a single zero bit.
	WritePayload(s *Stream, sequence uint16, budgetBytes int)

	// ReadPayload decodes this channel's payload from an inbound
	// packet and returns the closure that applies it.
	ReadPayload(s *Stream, sequence uint16) (commit func(), err error)
}

// ConnectionConfig configures a Connection. ChannelStructure is
// required and must be locked; everything else has a usable default.
type ConnectionConfig struct {
	// PacketType is the type id the Connection's packets are
	// registered under in PacketFactory.
	PacketType uint16

	// MaxPacketSize is the hard ceiling, in bytes, on a serialized
	// packet including framing. Default 1024.
	MaxPacketSize int

	// PacketFactory constructs packet variants by type id. When nil
	// the Connection builds one registering ConnectionPacket at
	// PacketType.
	PacketFactory *PacketFactory

	// ChannelStructure declares the channels attached to this
	// connection. Must be locked before NewConnection.
	ChannelStructure *ChannelStructure

	// SlidingWindowSize bounds the received-sequence window used to
	// build ack vectors and reject stale packets. Power of two,
	// default 256.
	SlidingWindowSize int

	// SentPacketsSize bounds the connection's sent-packet table used
	// to detect newly acked sequences. Power of two, default 256.
	SentPacketsSize int

	// Logger receives discard and ack diagnostics. Nil discards.
	Logger *logrus.Logger
}

func (c *ConnectionConfig) setDefaults() {
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = 1024
	}
	if c.SlidingWindowSize == 0 {
		c.SlidingWindowSize = 256
	}
	if c.SentPacketsSize == 0 {
		c.SentPacketsSize = 256
	}
}

// ConnectionCounters are the Connection's monotone diagnostic counters.
type ConnectionCounters struct {
	PacketsRead        uint64
	PacketsWritten     uint64
	PacketsDiscarded   uint64
	PacketsAcked       uint64
	ReadPacketFailures uint64
}

type connectionSentEntry struct {
	sequence uint16
	acked    bool
}

type connectionReceivedEntry struct {
	sequence uint16
}

// Connection frames, sequences and acks packets, fanning their payload
// out to the channels declared in its ChannelStructure. It performs no
// I/O: WritePacket hands the caller bytes to put on the wire and
// ReadPacket accepts bytes taken off it.
//
// All methods must be called from one thread; none blocks.
type Connection struct {
	config   ConnectionConfig
	channels []Channel
	logger   *logrus.Logger

	timeBase TimeBase

	sequence uint16

	hasReceived  bool
	mostRecent   uint16
	received     *SlidingWindow[connectionReceivedEntry]
	sentPackets  *SlidingWindow[connectionSentEntry]
	writeBuffer  []byte
	counters     ConnectionCounters
}

// NewConnection builds a Connection from config. The channel structure
// must already be locked.
func NewConnection(config ConnectionConfig) (*Connection, error) {
	config.setDefaults()
	if config.ChannelStructure == nil {
		return nil, errors.New("connection requires a channel structure")
	}
	channels, err := config.ChannelStructure.CreateChannels()
	if err != nil {
		return nil, errors.Wrap(err, "create channels")
	}
	c := &Connection{
		config:      config,
		channels:    channels,
		logger:      log.New(config.Logger),
		received:    NewSlidingWindow[connectionReceivedEntry](config.SlidingWindowSize),
		sentPackets: NewSlidingWindow[connectionSentEntry](config.SentPacketsSize),
		writeBuffer: make([]byte, config.MaxPacketSize),
	}
	if c.config.PacketFactory == nil {
		factory := NewFactory[Packet]()
		factory.Register(config.PacketType, func() Packet { return &ConnectionPacket{} })
		c.config.PacketFactory = factory
	}
	return c, nil
}

// Reset returns the connection and every channel to its initial state.
// Counters are preserved.
func (c *Connection) Reset() {
	c.sequence = 0
	c.hasReceived = false
	c.mostRecent = 0
	c.received = NewSlidingWindow[connectionReceivedEntry](c.config.SlidingWindowSize)
	c.sentPackets = NewSlidingWindow[connectionSentEntry](c.config.SentPacketsSize)
	for _, channel := range c.channels {
		channel.Reset()
	}
}

// Update advances time for the connection and its channels. The caller
// drives this once per tick.
func (c *Connection) Update(timeBase TimeBase) {
	c.timeBase = timeBase
	for _, channel := range c.channels {
		channel.Update(timeBase)
	}
}

// Channel returns the channel at the given declaration index.
func (c *Connection) Channel(index int) Channel {
	return c.channels[index]
}

// Counters returns a snapshot of the connection's diagnostic counters.
func (c *Connection) Counters() ConnectionCounters {
	return c.counters
}

// ackVector computes the (ack, ackBits) pair describing the 32 most
// recent sequences ending at ack: bit i of ackBits is set iff sequence
// ack-i was received.
func (c *Connection) ackVector() (ack uint16, ackBits uint32) {
	if !c.hasReceived {
		return 0, 0
	}
	ack = c.mostRecent
	for i := 0; i < 32; i++ {
		sequence := ack - uint16(i)
		if entry, ok := c.received.Get(sequence); ok && entry.sequence == sequence {
			ackBits |= 1 << uint(i)
		}
	}
	return ack, ackBits
}

// WritePacket assembles the next outbound packet: header, ack vector,
// then each channel's payload in declaration order. The returned slice
// aliases an internal buffer valid until the next WritePacket call.
func (c *Connection) WritePacket() ([]byte, error) {
	sequence := c.sequence
	ack, ackBits := c.ackVector()

	packet := &ConnectionPacket{
		Sequence: sequence,
		Ack:      ack,
		AckBits:  ackBits,
	}
	packet.attach(c)

	for i := range c.writeBuffer {
		c.writeBuffer[i] = 0
	}
	stream := NewWriteStream(c.writeBuffer)
	packet.Serialize(stream)
	stream.Flush()
	if stream.Error() {
		return nil, errors.Wrap(ErrStreamOverflow, "write packet")
	}

	c.sentPackets.Insert(sequence, connectionSentEntry{sequence: sequence})
	c.sequence++
	c.counters.PacketsWritten++
	return c.writeBuffer[:stream.Bytes()], nil
}

// ReadPacket parses an inbound packet. Stale and duplicate packets are
// dropped with PacketsDiscarded; malformed packets are dropped with
// ReadPacketFailures and no channel state changes.
func (c *Connection) ReadPacket(data []byte) error {
	stream := NewReadStream(data)

	packetValue, ok := c.config.PacketFactory.Create(c.config.PacketType)
	if !ok {
		return errors.Wrap(ErrUnknownPacketType, "read packet")
	}
	packet, isConnectionPacket := packetValue.(*ConnectionPacket)
	if !isConnectionPacket {
		return errors.Wrap(ErrUnknownPacketType, "read packet: factory produced non-connection packet")
	}
	packet.attach(c)
	packet.Serialize(stream)
	if stream.Error() || packet.readError != nil {
		c.counters.ReadPacketFailures++
		err := packet.readError
		if err == nil {
			err = ErrStreamOverflow
		}
		c.logger.WithFields(logrus.Fields{
			"sequence": packet.Sequence,
			"reason":   err.Error(),
		}).Debug("discarding malformed packet")
		return errors.Wrap(err, "read packet")
	}

	sequence := packet.Sequence

	if c.hasReceived {
		if delta := sequenceDifference(c.mostRecent, sequence); delta >= c.config.SlidingWindowSize {
			c.counters.PacketsDiscarded++
			c.logger.WithFields(logrus.Fields{
				"sequence":   sequence,
				"mostRecent": c.mostRecent,
			}).Debug("discarding stale packet")
			return errors.Wrap(ErrPacketStale, "read packet")
		}
		if entry, occupied := c.received.Get(sequence); occupied && entry.sequence == sequence {
			c.counters.PacketsDiscarded++
			c.logger.WithField("sequence", sequence).Debug("discarding duplicate packet")
			return nil
		}
	}

	// The packet decoded cleanly: commit.
	c.received.Insert(sequence, connectionReceivedEntry{sequence: sequence})
	if !c.hasReceived || sequenceGreaterThan(sequence, c.mostRecent) {
		c.mostRecent = sequence
		c.hasReceived = true
	}

	c.processAcks(packet.Ack, packet.AckBits)

	for _, commit := range packet.commits {
		commit()
	}

	c.counters.PacketsRead++
	return nil
}

// processAcks diffs the inbound ack vector against the sent-packet
// table; each sequence acked for the first time is reported to every
// channel exactly once.
func (c *Connection) processAcks(ack uint16, ackBits uint32) {
	for i := 0; i < 32; i++ {
		if ackBits&(1<<uint(i)) == 0 {
			continue
		}
		sequence := ack - uint16(i)
		entry, occupied := c.sentPackets.Get(sequence)
		if !occupied || entry.sequence != sequence || entry.acked {
			continue
		}
		entry.acked = true
		c.sentPackets.Insert(sequence, entry)
		c.counters.PacketsAcked++
		c.logger.WithField("sequence", sequence).Debug("packet acked")
		for _, channel := range c.channels {
			channel.PacketAcked(sequence)
		}
	}
}

// ConnectionPacket is the wire unit a Connection exchanges: sequence,
// ack vector, then one payload section per declared channel. It is
// registered with the PacketFactory under the connection's PacketType.
type ConnectionPacket struct {
	Sequence uint16
	Ack      uint16
	AckBits  uint32

	conn      *Connection
	commits   []func()
	readError error
}

// Type returns the packet's factory type id.
func (p *ConnectionPacket) Type() uint16 {
	if p.conn != nil {
		return p.conn.config.PacketType
	}
	return 0
}

func (p *ConnectionPacket) attach(conn *Connection) {
	p.conn = conn
	p.commits = nil
	p.readError = nil
}

// Serialize encodes or decodes the packet. On read, channel payloads
// are decoded into commit closures collected on the packet; the
// Connection applies them only once the whole packet has parsed.
func (p *ConnectionPacket) Serialize(s *Stream) {
	var sequence, ack uint32
	if s.IsWriting() {
		sequence = uint32(p.Sequence)
		ack = uint32(p.Ack)
	}
	s.SerializeBits(&sequence, 16)
	s.SerializeBits(&ack, 16)
	s.SerializeBits(&p.AckBits, 32)
	if s.IsReading() {
		p.Sequence = uint16(sequence)
		p.Ack = uint16(ack)
	}

	if p.conn == nil {
		return
	}
	maxBits := p.conn.config.MaxPacketSize * 8
	for _, channel := range p.conn.channels {
		if s.Error() {
			return
		}
		if s.IsWriting() {
			budgetBytes := (maxBits - s.BitsProcessed()) / 8
			channel.WritePayload(s, p.Sequence, budgetBytes)
		} else {
			commit, err := channel.ReadPayload(s, p.Sequence)
			if err != nil {
				p.readError = err
				return
			}
			p.commits = append(p.commits, commit)
		}
	}
}
