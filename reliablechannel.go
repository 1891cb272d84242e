package protocol

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/go-protocol/log"
)

// ReliableMessageChannelConfig configures a ReliableMessageChannel. All
// queue sizes must be powers of two; zero values take the defaults
// noted per field.
type ReliableMessageChannelConfig struct {
	// SendQueueSize bounds in-flight unacked messages. Default 256.
	SendQueueSize int

	// ReceiveQueueSize bounds messages buffered ahead of the read
	// cursor. Default 256.
	ReceiveQueueSize int

	// SentPacketsSize bounds the per-channel table mapping packet
	// sequence to the message ids it carried. Default 256.
	SentPacketsSize int

	// MaxMessagesPerPacket caps how many messages one packet may
	// carry. Default 64.
	MaxMessagesPerPacket int

	// MaxMessageSize is the ceiling, in bytes, on a single serialized
	// message body. Default 64.
	MaxMessageSize int

	// MaxSmallBlockSize is the largest block delivered as a single
	// BlockMessage; anything bigger goes through fragmentation.
	// Default 64. MaxSmallBlockSize plus per-message framing must fit
	// the connection's MaxPacketSize.
	MaxSmallBlockSize int

	// MaxLargeBlockSize is the ceiling on a fragmented block.
	// Default 256k.
	MaxLargeBlockSize int

	// FragmentSize is the byte size of each block fragment. Default 64.
	FragmentSize int

	// FragmentsPerSecond paces fragment resends: a fragment is not
	// retransmitted more often than this. Default 60.
	FragmentsPerSecond float64

	// MessageResendRate is the minimum time, in seconds, between
	// transmissions of the same unacked message. Default 0.1.
	MessageResendRate float64

	// SendingBlocks enables the large-block fragmentation
	// sub-protocol. Small blocks always work. Default true when the
	// config comes from DefaultReliableMessageChannelConfig; the zero
	// value disables large blocks.
	SendingBlocks bool

	// MessageFactory decodes inbound message types. When nil a factory
	// with only BlockMessage registered is used.
	MessageFactory *MessageFactory

	// Logger receives channel diagnostics. Nil discards.
	Logger *logrus.Logger
}

// DefaultReliableMessageChannelConfig returns the documented defaults
// with large-block sending enabled.
func DefaultReliableMessageChannelConfig() ReliableMessageChannelConfig {
	return ReliableMessageChannelConfig{
		SendQueueSize:        256,
		ReceiveQueueSize:     256,
		SentPacketsSize:      256,
		MaxMessagesPerPacket: 64,
		MaxMessageSize:       64,
		MaxSmallBlockSize:    64,
		MaxLargeBlockSize:    256 * 1024,
		FragmentSize:         64,
		FragmentsPerSecond:   60,
		MessageResendRate:    0.1,
		SendingBlocks:        true,
	}
}

func (c *ReliableMessageChannelConfig) setDefaults() {
	if c.SendQueueSize == 0 {
		c.SendQueueSize = 256
	}
	if c.ReceiveQueueSize == 0 {
		c.ReceiveQueueSize = 256
	}
	if c.SentPacketsSize == 0 {
		c.SentPacketsSize = 256
	}
	if c.MaxMessagesPerPacket == 0 {
		c.MaxMessagesPerPacket = 64
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 64
	}
	if c.MaxSmallBlockSize == 0 {
		c.MaxSmallBlockSize = 64
	}
	if c.MaxLargeBlockSize == 0 {
		c.MaxLargeBlockSize = 256 * 1024
	}
	if c.FragmentSize == 0 {
		c.FragmentSize = 64
	}
	if c.FragmentsPerSecond == 0 {
		c.FragmentsPerSecond = 60
	}
	if c.MessageResendRate == 0 {
		c.MessageResendRate = 0.1
	}
	if c.MessageFactory == nil {
		c.MessageFactory = NewMessageFactory()
	}
}

// ReliableChannelCounters are the channel's monotone diagnostic
// counters.
type ReliableChannelCounters struct {
	MessagesSent      uint64
	MessagesReceived  uint64
	MessagesEarly     uint64
	MessagesAcked     uint64
	FragmentsSent     uint64
	FragmentsReceived uint64
	FragmentsAcked    uint64
}

// MessagesDiscardedEarly is an alias for MessagesEarly; both names
// denote the out-of-window receive counter.
func (c ReliableChannelCounters) MessagesDiscardedEarly() uint64 {
	return c.MessagesEarly
}

type sendQueueEntry struct {
	messageId    uint16
	message      Message
	block        bool
	timeLastSent float64
	measuredBits int
}

type receiveQueueEntry struct {
	messageId uint16
	message   Message
}

type sentPacketEntry struct {
	sequence   uint16
	acked      bool
	block      bool
	blockId    uint16
	fragmentId int
	messageIds []uint16
}

type sendFragment struct {
	acked        bool
	timeLastSent float64
}

type sendBlockState struct {
	active            bool
	blockId           uint16
	blockSize         int
	numFragments      int
	numAckedFragments int
	fragments         []sendFragment
	data              []byte
}

type receiveBlockState struct {
	active               bool
	blockId              uint16
	numFragments         int
	numReceivedFragments int
	lastFragmentBytes    int
	received             []bool
	data                 []byte
}

// ReliableMessageChannel delivers variable-size messages reliably and
// in order over lossy packets, and fragments blocks too large for a
// single packet. It is the ARQ core: there is no NACK and no timeout,
// only implicit retransmission of whatever has not been acked once its
// resend interval elapses.
//
// Not thread-safe; drive it from the same goroutine as its Connection.
type ReliableMessageChannel struct {
	config ReliableMessageChannelConfig
	logger *logrus.Logger

	timeBase TimeBase

	// Sender.
	sendMessageId   uint16
	oldestUnackedId uint16
	sendQueue       *SlidingWindow[sendQueueEntry]
	sentPackets     *SlidingWindow[sentPacketEntry]
	sendBlock       sendBlockState
	measureBuffer   []byte

	// Receiver.
	receiveMessageId uint16
	receiveQueue     *SlidingWindow[receiveQueueEntry]
	receiveBlock     receiveBlockState

	// Wire-format bit widths, fixed at construction.
	maxFragments int

	counters ReliableChannelCounters
}

// NewReliableMessageChannel builds a channel from config.
func NewReliableMessageChannel(config ReliableMessageChannelConfig) *ReliableMessageChannel {
	config.setDefaults()
	maxFragments := (config.MaxLargeBlockSize + config.FragmentSize - 1) / config.FragmentSize
	channel := &ReliableMessageChannel{
		config:        config,
		logger:        log.New(config.Logger),
		sendQueue:     NewSlidingWindow[sendQueueEntry](config.SendQueueSize),
		sentPackets:   NewSlidingWindow[sentPacketEntry](config.SentPacketsSize),
		receiveQueue:  NewSlidingWindow[receiveQueueEntry](config.ReceiveQueueSize),
		measureBuffer: make([]byte, config.MaxMessageSize+config.MaxSmallBlockSize+32),
		maxFragments:  maxFragments,
	}
	channel.sendBlock.fragments = make([]sendFragment, maxFragments)
	channel.receiveBlock.received = make([]bool, maxFragments)
	channel.receiveBlock.data = make([]byte, config.MaxLargeBlockSize)
	return channel
}

// Reset returns the channel to its initial state. Counters are
// preserved.
func (m *ReliableMessageChannel) Reset() {
	m.sendMessageId = 0
	m.oldestUnackedId = 0
	m.receiveMessageId = 0
	m.sendQueue = NewSlidingWindow[sendQueueEntry](m.config.SendQueueSize)
	m.sentPackets = NewSlidingWindow[sentPacketEntry](m.config.SentPacketsSize)
	m.receiveQueue = NewSlidingWindow[receiveQueueEntry](m.config.ReceiveQueueSize)
	m.sendBlock = sendBlockState{fragments: make([]sendFragment, m.maxFragments)}
	m.receiveBlock = receiveBlockState{
		received: make([]bool, m.maxFragments),
		data:     make([]byte, m.config.MaxLargeBlockSize),
	}
}

// Update records the caller's clock; resend eligibility is judged
// against it.
func (m *ReliableMessageChannel) Update(timeBase TimeBase) {
	m.timeBase = timeBase
}

// Counters returns a snapshot of the channel's diagnostic counters.
func (m *ReliableMessageChannel) Counters() ReliableChannelCounters {
	return m.counters
}

// CanSendMessage reports whether the send window has room for another
// message or block.
func (m *ReliableMessageChannel) CanSendMessage() bool {
	return sequenceDifference(m.sendMessageId, m.oldestUnackedId) < m.config.SendQueueSize
}

// SendMessage queues message for reliable ordered delivery, assigning
// it the next message id. Returns ErrSendQueueFull when the caller has
// outrun the send window; that is a contract violation, not a
// transient condition.
func (m *ReliableMessageChannel) SendMessage(message Message) error {
	if !m.CanSendMessage() {
		return ErrSendQueueFull
	}

	message.SetId(m.sendMessageId)
	measuredBits, ok := m.measureMessage(message)
	if !ok {
		return ErrStreamOverflow
	}
	if _, isBlock := message.(*BlockMessage); !isBlock && measuredBits > m.config.MaxMessageSize*8 {
		return ErrStreamOverflow
	}

	m.sendQueue.Insert(m.sendMessageId, sendQueueEntry{
		messageId:    m.sendMessageId,
		message:      message,
		timeLastSent: math.Inf(-1),
		measuredBits: measuredBits,
	})
	m.sendMessageId++
	m.counters.MessagesSent++
	return nil
}

// SendBlock queues a block for reliable ordered delivery. Blocks at or
// under MaxSmallBlockSize ship as a single BlockMessage; larger blocks
// enter the fragmentation sub-protocol, of which at most one may be in
// flight per channel.
func (m *ReliableMessageChannel) SendBlock(block Block) error {
	if len(block) == 0 {
		return ErrEmptyBlock
	}
	if len(block) > m.config.MaxLargeBlockSize {
		return ErrBlockTooLarge
	}

	if len(block) <= m.config.MaxSmallBlockSize {
		message := NewBlockMessage()
		message.Block = block
		message.MaxBytes = m.config.MaxSmallBlockSize
		return m.SendMessage(message)
	}

	if !m.config.SendingBlocks {
		return ErrBlocksDisabled
	}
	if m.sendBlock.active {
		return ErrBlockInFlight
	}
	if !m.CanSendMessage() {
		return ErrSendQueueFull
	}

	blockId := m.sendMessageId
	numFragments := (len(block) + m.config.FragmentSize - 1) / m.config.FragmentSize

	m.sendBlock.active = true
	m.sendBlock.blockId = blockId
	m.sendBlock.blockSize = len(block)
	m.sendBlock.numFragments = numFragments
	m.sendBlock.numAckedFragments = 0
	m.sendBlock.data = block
	for i := 0; i < numFragments; i++ {
		m.sendBlock.fragments[i] = sendFragment{timeLastSent: math.Inf(-1)}
	}

	// The block occupies one id in the same space as messages; the
	// queue entry is a placeholder so window accounting stays uniform.
	m.sendQueue.Insert(blockId, sendQueueEntry{messageId: blockId, block: true})
	m.sendMessageId++

	m.logger.WithFields(logrus.Fields{
		"blockId":      blockId,
		"blockSize":    len(block),
		"numFragments": numFragments,
	}).Debug("large block send started")
	return nil
}

// ReceiveMessage returns the message at the read cursor and advances
// it, or nil when the next message in sequence has not arrived yet.
// This is the only delivery path; ids come out 0, 1, 2, ... with no
// gaps and no duplicates.
func (m *ReliableMessageChannel) ReceiveMessage() Message {
	entry, occupied := m.receiveQueue.Get(m.receiveMessageId)
	if !occupied || entry.messageId != m.receiveMessageId {
		return nil
	}
	m.receiveQueue.Remove(m.receiveMessageId)
	m.receiveMessageId++
	return entry.message
}

// measureMessage serializes message into the scratch buffer to learn
// its wire size, so packing can budget without serializing twice.
func (m *ReliableMessageChannel) measureMessage(message Message) (bits int, ok bool) {
	stream := NewWriteStream(m.measureBuffer)
	message.Serialize(stream)
	if stream.Error() {
		return 0, false
	}
	return stream.BitsProcessed(), true
}

func (m *ReliableMessageChannel) fragmentBits() int {
	return bitsRequired(0, int32(m.maxFragments-1))
}

func (m *ReliableMessageChannel) messageTypeBits() int {
	return bitsRequired(0, int32(m.config.MessageFactory.MaxTypeID()))
}

// WritePayload contributes the channel's payload to an outbound packet:
// a block fragment while a large block is in flight, otherwise as many
// resend-eligible messages as fit the budget. With nothing eligible it
// costs a single zero bit.
func (m *ReliableMessageChannel) WritePayload(s *Stream, sequence uint16, budgetBytes int) {
	if m.sendBlock.active {
		m.writeFragment(s, sequence, budgetBytes)
		return
	}
	m.writeMessages(s, sequence, budgetBytes)
}

func (m *ReliableMessageChannel) writeFragment(s *Stream, sequence uint16, budgetBytes int) {
	now := m.timeBase.Time
	resendInterval := 1.0 / m.config.FragmentsPerSecond
	budgetBits := budgetBytes * 8

	fragmentId := -1
	for i := 0; i < m.sendBlock.numFragments; i++ {
		fragment := &m.sendBlock.fragments[i]
		if fragment.acked || now-fragment.timeLastSent < resendInterval {
			continue
		}
		fragmentId = i
		break
	}

	hasData := false
	var fragmentBytes int
	if fragmentId >= 0 {
		fragmentBytes = m.config.FragmentSize
		if fragmentId == m.sendBlock.numFragments-1 {
			fragmentBytes = m.sendBlock.blockSize - fragmentId*m.config.FragmentSize
		}
		headerBits := 2 + 16 + 2*m.fragmentBits() + bitsRequired(1, int32(m.config.FragmentSize))
		hasData = headerBits+fragmentBytes*8 <= budgetBits
	}

	s.SerializeBool(&hasData)
	if !hasData {
		return
	}

	isBlockFragment := true
	s.SerializeBool(&isBlockFragment)

	blockId := uint32(m.sendBlock.blockId)
	s.SerializeBits(&blockId, 16)

	fragmentIndex := int32(fragmentId)
	numFragments := int32(m.sendBlock.numFragments)
	numBytes := int32(fragmentBytes)
	s.SerializeInteger(&fragmentIndex, 0, int32(m.maxFragments-1))
	s.SerializeInteger(&numFragments, 1, int32(m.maxFragments))
	s.SerializeInteger(&numBytes, 1, int32(m.config.FragmentSize))

	offset := fragmentId * m.config.FragmentSize
	s.SerializeBytes(m.sendBlock.data[offset:offset+fragmentBytes], fragmentBytes)

	m.sendBlock.fragments[fragmentId].timeLastSent = now
	m.sentPackets.Insert(sequence, sentPacketEntry{
		sequence:   sequence,
		block:      true,
		blockId:    m.sendBlock.blockId,
		fragmentId: fragmentId,
	})
	m.counters.FragmentsSent++
}

func (m *ReliableMessageChannel) writeMessages(s *Stream, sequence uint16, budgetBytes int) {
	now := m.timeBase.Time
	budgetBits := budgetBytes * 8

	countBits := bitsRequired(1, int32(m.config.MaxMessagesPerPacket))
	deltaBits := bitsRequired(1, int32(m.config.SendQueueSize-1))
	typeBits := m.messageTypeBits()

	// hasData + isBlockFragment + count + firstMessageId.
	usedBits := 2 + countBits + 16

	var ids []uint16
	numPending := sequenceDifference(m.sendMessageId, m.oldestUnackedId)
	for i := 0; i < numPending && len(ids) < m.config.MaxMessagesPerPacket; i++ {
		messageId := m.oldestUnackedId + uint16(i)
		entry, occupied := m.sendQueue.Get(messageId)
		if !occupied || entry.messageId != messageId || entry.block {
			continue
		}
		if now-entry.timeLastSent < m.config.MessageResendRate {
			continue
		}
		messageBits := typeBits + entry.measuredBits
		if len(ids) > 0 {
			messageBits += deltaBits
		}
		if usedBits+messageBits > budgetBits {
			break
		}
		usedBits += messageBits
		ids = append(ids, messageId)
	}

	hasData := len(ids) > 0
	s.SerializeBool(&hasData)
	if !hasData {
		return
	}

	isBlockFragment := false
	s.SerializeBool(&isBlockFragment)

	count := int32(len(ids))
	s.SerializeInteger(&count, 1, int32(m.config.MaxMessagesPerPacket))

	firstMessageId := uint32(ids[0])
	s.SerializeBits(&firstMessageId, 16)
	for _, id := range ids[1:] {
		// Ids in a burst are usually consecutive; deltas against the
		// first id compress them far below absolute 16-bit ids.
		delta := int32(id - ids[0])
		s.SerializeInteger(&delta, 1, int32(m.config.SendQueueSize-1))
	}

	for _, id := range ids {
		entry, _ := m.sendQueue.Get(id)
		messageType := int32(entry.message.Type())
		s.SerializeInteger(&messageType, 0, int32(m.config.MessageFactory.MaxTypeID()))
		entry.message.Serialize(s)
		entry.timeLastSent = now
		m.sendQueue.Insert(id, entry)
	}

	m.sentPackets.Insert(sequence, sentPacketEntry{
		sequence:   sequence,
		messageIds: ids,
	})
}

// ReadPayload decodes the channel's section of an inbound packet. No
// channel state changes here beyond the MessagesEarly counter; the
// returned commit applies the decoded payload once the whole packet
// has parsed cleanly.
func (m *ReliableMessageChannel) ReadPayload(s *Stream, sequence uint16) (func(), error) {
	noop := func() {}

	var hasData bool
	s.SerializeBool(&hasData)
	if s.Error() {
		return nil, ErrStreamOverflow
	}
	if !hasData {
		return noop, nil
	}

	var isBlockFragment bool
	s.SerializeBool(&isBlockFragment)
	if s.Error() {
		return nil, ErrStreamOverflow
	}

	if isBlockFragment {
		return m.readFragment(s)
	}
	return m.readMessages(s)
}

func (m *ReliableMessageChannel) readFragment(s *Stream) (func(), error) {
	var blockId32 uint32
	s.SerializeBits(&blockId32, 16)

	var fragmentIndex, numFragments, numBytes int32
	s.SerializeInteger(&fragmentIndex, 0, int32(m.maxFragments-1))
	s.SerializeInteger(&numFragments, 1, int32(m.maxFragments))
	s.SerializeInteger(&numBytes, 1, int32(m.config.FragmentSize))
	if s.Error() {
		return nil, ErrStreamOverflow
	}
	if fragmentIndex >= numFragments {
		return nil, ErrFragmentBounds
	}
	if fragmentIndex < numFragments-1 && int(numBytes) != m.config.FragmentSize {
		return nil, ErrFragmentBounds
	}

	data := make([]byte, numBytes)
	s.SerializeBytes(data, int(numBytes))
	if s.Error() {
		return nil, ErrStreamOverflow
	}

	blockId := uint16(blockId32)
	delta := sequenceDifference(blockId, m.receiveMessageId)
	if delta >= m.config.ReceiveQueueSize {
		m.counters.MessagesEarly++
		return nil, ErrMessageIdOutOfWindow
	}
	if m.receiveBlock.active && blockId == m.receiveBlock.blockId &&
		int(numFragments) != m.receiveBlock.numFragments {
		return nil, ErrFragmentBounds
	}

	commit := func() {
		m.commitFragment(blockId, int(fragmentIndex), int(numFragments), data)
	}
	return commit, nil
}

func (m *ReliableMessageChannel) commitFragment(blockId uint16, fragmentIndex, numFragments int, data []byte) {
	if sequenceLessThan(blockId, m.receiveMessageId) {
		// Block already delivered; the sender has not seen our acks yet.
		return
	}
	if entry, occupied := m.receiveQueue.Get(blockId); occupied && entry.messageId == blockId {
		// Block already reassembled and waiting for the read cursor.
		return
	}

	block := &m.receiveBlock
	if block.active {
		if blockId != block.blockId {
			if !sequenceGreaterThan(blockId, block.blockId) {
				return
			}
			// A newer block replaces an incomplete older one.
			m.resetReceiveBlock(blockId, numFragments)
		}
	} else {
		m.resetReceiveBlock(blockId, numFragments)
	}

	if block.received[fragmentIndex] {
		return
	}
	block.received[fragmentIndex] = true
	block.numReceivedFragments++
	copy(block.data[fragmentIndex*m.config.FragmentSize:], data)
	if fragmentIndex == numFragments-1 {
		block.lastFragmentBytes = len(data)
	}
	m.counters.FragmentsReceived++

	if block.numReceivedFragments == block.numFragments {
		blockSize := (block.numFragments-1)*m.config.FragmentSize + block.lastFragmentBytes
		message := NewBlockMessage()
		message.SetId(blockId)
		message.Block = make(Block, blockSize)
		copy(message.Block, block.data[:blockSize])
		message.MaxBytes = m.config.MaxSmallBlockSize
		m.receiveQueue.Insert(blockId, receiveQueueEntry{messageId: blockId, message: message})
		m.counters.MessagesReceived++
		block.active = false
		m.logger.WithFields(logrus.Fields{
			"blockId":   blockId,
			"blockSize": blockSize,
		}).Debug("large block receive completed")
	}
}

func (m *ReliableMessageChannel) resetReceiveBlock(blockId uint16, numFragments int) {
	block := &m.receiveBlock
	block.active = true
	block.blockId = blockId
	block.numFragments = numFragments
	block.numReceivedFragments = 0
	block.lastFragmentBytes = 0
	for i := 0; i < numFragments; i++ {
		block.received[i] = false
	}
}

func (m *ReliableMessageChannel) readMessages(s *Stream) (func(), error) {
	var count int32
	s.SerializeInteger(&count, 1, int32(m.config.MaxMessagesPerPacket))

	var firstMessageId uint32
	s.SerializeBits(&firstMessageId, 16)
	if s.Error() {
		return nil, ErrStreamOverflow
	}

	ids := make([]uint16, count)
	ids[0] = uint16(firstMessageId)
	for i := 1; i < int(count); i++ {
		var delta int32
		s.SerializeInteger(&delta, 1, int32(m.config.SendQueueSize-1))
		ids[i] = ids[0] + uint16(delta)
	}
	if s.Error() {
		return nil, ErrStreamOverflow
	}

	messages := make([]Message, count)
	for i := 0; i < int(count); i++ {
		var messageType int32
		s.SerializeInteger(&messageType, 0, int32(m.config.MessageFactory.MaxTypeID()))
		if s.Error() {
			return nil, ErrStreamOverflow
		}
		message, ok := m.config.MessageFactory.Create(uint16(messageType))
		if !ok {
			return nil, ErrUnknownMessageType
		}
		if blockMessage, isBlock := message.(*BlockMessage); isBlock {
			blockMessage.MaxBytes = m.config.MaxSmallBlockSize
		}
		message.Serialize(s)
		if s.Error() {
			return nil, ErrStreamOverflow
		}
		message.SetId(ids[i])
		messages[i] = message

		if delta := sequenceDifference(ids[i], m.receiveMessageId); delta >= m.config.ReceiveQueueSize {
			m.counters.MessagesEarly++
			return nil, ErrMessageIdOutOfWindow
		}
	}

	commit := func() {
		for i, message := range messages {
			id := ids[i]
			if sequenceLessThan(id, m.receiveMessageId) {
				continue
			}
			if entry, occupied := m.receiveQueue.Get(id); occupied && entry.messageId == id {
				continue
			}
			m.receiveQueue.Insert(id, receiveQueueEntry{messageId: id, message: message})
			m.counters.MessagesReceived++
		}
	}
	return commit, nil
}

// PacketAcked processes the peer's acknowledgement of the packet this
// channel wrote under sequence: queued messages it carried leave the
// send queue, a block fragment it carried is marked acked, and the
// oldest-unacked cursor advances over whatever is now done.
func (m *ReliableMessageChannel) PacketAcked(sequence uint16) {
	entry, occupied := m.sentPackets.Get(sequence)
	if !occupied || entry.sequence != sequence || entry.acked {
		return
	}
	entry.acked = true
	m.sentPackets.Insert(sequence, entry)

	if entry.block {
		m.ackFragment(entry.blockId, entry.fragmentId)
	} else {
		for _, messageId := range entry.messageIds {
			queued, ok := m.sendQueue.Get(messageId)
			if !ok || queued.messageId != messageId || queued.block {
				continue
			}
			m.sendQueue.Remove(messageId)
			m.counters.MessagesAcked++
		}
	}

	m.advanceOldestUnacked()
}

func (m *ReliableMessageChannel) ackFragment(blockId uint16, fragmentId int) {
	if !m.sendBlock.active || m.sendBlock.blockId != blockId {
		return
	}
	fragment := &m.sendBlock.fragments[fragmentId]
	if fragment.acked {
		return
	}
	fragment.acked = true
	m.sendBlock.numAckedFragments++
	m.counters.FragmentsAcked++

	if m.sendBlock.numAckedFragments == m.sendBlock.numFragments {
		m.sendBlock.active = false
		m.sendBlock.data = nil
		m.sendQueue.Remove(blockId)
		m.counters.MessagesAcked++
		m.logger.WithField("blockId", blockId).Debug("large block send completed")
	}
}

func (m *ReliableMessageChannel) advanceOldestUnacked() {
	for m.oldestUnackedId != m.sendMessageId {
		entry, occupied := m.sendQueue.Get(m.oldestUnackedId)
		if occupied && entry.messageId == m.oldestUnackedId {
			break
		}
		m.oldestUnackedId++
	}
}
