package protocol

// channelEntry is one declared slot in a ChannelStructure: a name (for
// diagnostics) and a constructor invoked once per Connection to build
// that connection's private Channel instance.
type channelEntry struct {
	name   string
	create func() Channel
}

// ChannelStructure declares, in order, the channels attached to every
// Connection built from it. Declaration order fixes each channel's index
// on the wire; once Lock is called the structure is immutable for the
// lifetime of every Connection built from it.
type ChannelStructure struct {
	entries []channelEntry
	locked  bool
}

// NewChannelStructure returns an empty, unlocked ChannelStructure.
func NewChannelStructure() *ChannelStructure {
	return &ChannelStructure{}
}

// AddChannel declares a new channel. create is called once per
// Connection instance built against this structure. Returns
// ErrChannelStructureLocked once Lock has been called.
func (cs *ChannelStructure) AddChannel(name string, create func() Channel) error {
	if cs.locked {
		return ErrChannelStructureLocked
	}
	cs.entries = append(cs.entries, channelEntry{name: name, create: create})
	return nil
}

// Lock freezes the channel declarations. Must be called before any
// Connection is built from this structure.
func (cs *ChannelStructure) Lock() {
	cs.locked = true
}

// Locked reports whether Lock has been called.
func (cs *ChannelStructure) Locked() bool {
	return cs.locked
}

// NumChannels returns the number of declared channels.
func (cs *ChannelStructure) NumChannels() int {
	return len(cs.entries)
}

// ChannelName returns the diagnostic name of the channel at index.
func (cs *ChannelStructure) ChannelName(index int) string {
	return cs.entries[index].name
}

// CreateChannels instantiates one Channel per declared entry, in
// declaration order, for a new Connection. Returns
// ErrChannelStructureUnlocked if called before Lock.
func (cs *ChannelStructure) CreateChannels() ([]Channel, error) {
	if !cs.locked {
		return nil, ErrChannelStructureUnlocked
	}
	channels := make([]Channel, len(cs.entries))
	for i, entry := range cs.entries {
		channels[i] = entry.create()
	}
	return channels, nil
}
