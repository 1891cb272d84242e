package protocol

import "github.com/pkg/errors"

// Sentinel errors for the failure kinds enumerated in the core's error
// handling design. Callers distinguish them with errors.Is, or unwrap
// call-site context added via errors.Wrap with errors.Cause.
var (
	// ErrSendQueueFull is returned by SendMessage/SendBlock when the
	// caller has violated the sliding-window contract: the channel's
	// send queue already holds sendQueueSize in-flight entries. This is
	// a programmer error, not a transient condition — the caller must
	// wait for acks to free window space before retrying.
	ErrSendQueueFull = errors.New("send queue full: window exhausted")

	// ErrBlockTooLarge is returned by SendBlock when a block exceeds
	// maxLargeBlockSize.
	ErrBlockTooLarge = errors.New("block exceeds maxLargeBlockSize")

	// ErrBlockInFlight is returned by SendBlock when a large-block
	// transfer is already in progress on the channel; only one is
	// allowed at a time.
	ErrBlockInFlight = errors.New("large block send already in progress")

	// ErrStreamOverflow marks a Stream that read or wrote past the end
	// of its buffer.
	ErrStreamOverflow = errors.New("stream overflow")

	// ErrUnknownMessageType is returned by ReadPayload when an inbound
	// message carries a type id the channel's MessageFactory never
	// registered.
	ErrUnknownMessageType = errors.New("unknown message type id")

	// ErrUnknownPacketType is the PacketFactory equivalent of
	// ErrUnknownMessageType.
	ErrUnknownPacketType = errors.New("unknown packet type id")

	// ErrChannelStructureLocked is returned by AddChannel once the
	// ChannelStructure has been locked.
	ErrChannelStructureLocked = errors.New("channel structure already locked")

	// ErrChannelStructureUnlocked is returned by CreateChannels (and so
	// by NewConnection) when the ChannelStructure has not been locked.
	ErrChannelStructureUnlocked = errors.New("channel structure not locked")

	// ErrEmptyBlock is returned by SendBlock for a zero-length block;
	// valid block sizes are [1, maxLargeBlockSize].
	ErrEmptyBlock = errors.New("empty block")

	// ErrBlocksDisabled is returned by SendBlock for a block larger than
	// maxSmallBlockSize on a channel configured with SendingBlocks false.
	ErrBlocksDisabled = errors.New("large block sends disabled on this channel")

	// ErrPacketStale is returned by ReadPacket for a packet whose
	// sequence has fallen out of the receive window.
	ErrPacketStale = errors.New("packet sequence outside receive window")

	// ErrMessageIdOutOfWindow marks an inbound message or block id too
	// far ahead of the receive cursor to fit the receive queue. The
	// packet carrying it is discarded whole.
	ErrMessageIdOutOfWindow = errors.New("message id ahead of receive window")

	// ErrFragmentBounds marks an inbound block fragment whose index or
	// count is inconsistent with the channel configuration.
	ErrFragmentBounds = errors.New("block fragment index/count out of bounds")
)
