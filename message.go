package protocol

// blockMagic is the frame sanity cookie BlockMessage.Serialize ends
// with. Message implementations are encouraged to end their own
// Serialize with a Check the same way.
const blockMagic uint32 = 0xDEADBEEF

// BlockMessageType is the distinguished message type id reserved for
// BlockMessage. A MessageFactory MUST register this id to BlockMessage.
const BlockMessageType uint16 = 0

// Block is a byte sequence handed to SendBlock. Its length must fall in
// [1, maxLargeBlockSize]; blocks at or under a channel's
// maxSmallBlockSize are delivered as a single BlockMessage, larger ones
// go through fragmentation (see ReliableMessageChannel).
type Block []byte

// Message is an application-level object carrying a 16-bit type id and a
// per-channel monotonically assigned 16-bit id. Implementations serialize
// themselves through Serialize; the framework assigns Id and Type.
type Message interface {
	Serialize(s *Stream)
	Type() uint16
	Id() uint16
	SetId(id uint16)
}

// BaseMessage gives Message implementations their id/type bookkeeping for
// free; embed it and implement only Serialize.
type BaseMessage struct {
	id      uint16
	msgType uint16
}

// NewBaseMessage returns a BaseMessage stamped with msgType; id is
// assigned later by SendMessage.
func NewBaseMessage(msgType uint16) BaseMessage {
	return BaseMessage{msgType: msgType}
}

func (m *BaseMessage) Id() uint16      { return m.id }
func (m *BaseMessage) SetId(id uint16) { m.id = id }
func (m *BaseMessage) Type() uint16    { return m.msgType }

// BlockMessage wraps a Block small enough to fit in a single packet.
// MaxBytes bounds the serialized length field and must be set to the
// owning channel's maxSmallBlockSize before Serialize is called in either
// direction — the channel does this when constructing or decoding a
// BlockMessage, since the message itself has no way to know its owner's
// configuration.
type BlockMessage struct {
	BaseMessage
	Block    Block
	MaxBytes int
}

// NewBlockMessage returns an empty BlockMessage of the reserved type 0.
func NewBlockMessage() *BlockMessage {
	return &BlockMessage{BaseMessage: NewBaseMessage(BlockMessageType)}
}

// Serialize encodes/decodes the block as a bit-packed length-minus-one
// field followed by the raw bytes.
func (m *BlockMessage) Serialize(s *Stream) {
	maxBytes := m.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 1
	}
	numBytesMinusOne := int32(0)
	if s.IsWriting() {
		numBytesMinusOne = int32(len(m.Block) - 1)
	}
	s.SerializeInteger(&numBytesMinusOne, 0, int32(maxBytes-1))
	if s.Error() {
		return
	}
	numBytes := int(numBytesMinusOne) + 1
	if s.IsReading() {
		m.Block = make(Block, numBytes)
	}
	s.SerializeBytes(m.Block, numBytes)
	s.Check(blockMagic)
}

// MessageFactory maps 16-bit type ids to Message constructors. Type id 0
// MUST be registered to BlockMessage.
type MessageFactory = Factory[Message]

// NewMessageFactory returns a MessageFactory with BlockMessage already
// registered at type id 0, so callers only need to register their own
// application message types.
func NewMessageFactory() *MessageFactory {
	f := NewFactory[Message]()
	f.Register(BlockMessageType, func() Message { return NewBlockMessage() })
	return f
}

// Packet is the top-level object Connection reads and writes. Like
// Message, its concrete type is selected by a 16-bit type id through a
// PacketFactory so that future packet variants can be added without
// changing Connection's read/write loop.
type Packet interface {
	Serialize(s *Stream)
	Type() uint16
}

// PacketFactory maps 16-bit packet type ids to Packet constructors.
type PacketFactory = Factory[Packet]
