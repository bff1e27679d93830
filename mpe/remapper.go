package mpe

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// SourceID identifies one producer of MIDI messages. Callers pick the values
// and must keep them stable for as long as the source is connected.
type SourceID uint32

// Unclaimed marks a remapper channel that no source is using.
const Unclaimed uint64 = 0

// sourceKey packs a source and its original channel (1-16). The channel is
// never zero, so no real key collides with Unclaimed.
func sourceKey(source SourceID, channel int) uint64 {
	return uint64(source)<<5 | uint64(channel)
}

// Claim is a read-only view of one remapper channel.
type Claim struct {
	Channel         int
	Source          SourceID
	OriginalChannel int
	LastUsed        uint32
	Claimed         bool
}

// ChannelRemapper moves messages from many MPE sources onto one zone, so that
// no two (source, channel) pairs share an output channel. When the zone is
// full the least recently used pair loses its channel.
//
// It is not safe for concurrent use.
type ChannelRemapper struct {
	rng      Range
	master   int // 0 when built from a legacy range
	claims   [MaxChannel + 1]uint64
	lastUsed [MaxChannel + 1]uint32
	counter  uint32
}

// NewChannelRemapper remaps onto the member channels of zone. Messages on the
// zone's master channel are left alone.
func NewChannelRemapper(zone Zone) *ChannelRemapper {
	return &ChannelRemapper{rng: zone.Range(), master: zone.MasterChannel()}
}

// NewLegacyChannelRemapper remaps onto an explicit ascending range.
func NewLegacyChannelRemapper(r Range) *ChannelRemapper {
	return &ChannelRemapper{rng: NewRange(r.First, r.Last)}
}

// Range returns the target channels
func (r *ChannelRemapper) Range() Range {
	return r.rng
}

// Master returns the zone master channel, or 0 for a legacy range.
func (r *ChannelRemapper) Master() int {
	return r.master
}

// Remap returns msg with its channel moved to the one claimed for
// (source, original channel). msg itself is never modified; a copy is made
// when the channel changes. Non-voice and malformed messages come back as is.
func (r *ChannelRemapper) Remap(msg gomidi.Message, source SourceID) gomidi.Message {
	ch, ok := r.Channel(msg, source)
	if !ok || ch == messageChannel(msg) {
		return msg
	}
	return WithChannel(msg, ch)
}

// Channel runs the allocation for msg and returns the channel it should be
// sent on. ok is false for messages that are not remapped.
//
// Any note-off unclaims its pair, even if the source still holds other notes
// on that channel. Sources that play chords on one channel lose the claim
// after the first release, and the remaining note-offs land on a new channel;
// route such sources through a ChannelAssigner instead.
func (r *ChannelRemapper) Channel(msg gomidi.Message, source SourceID) (ch int, ok bool) {
	if !isVoiceMessage(msg) {
		return NoChannel, false
	}
	orig := messageChannel(msg)

	if r.master != 0 && orig == r.master {
		var c, ctl, val uint8
		if msg.GetControlChange(&c, &ctl, &val) && (ctl == ccAllNotesOff || ctl == ccResetAllControllers) {
			r.ClearSource(source)
		}
		return NoChannel, false
	}

	key := sourceKey(source, orig)
	r.counter++
	noteOff := isNoteEnd(msg)

	for c := r.rng.First; ; c += r.rng.Increment {
		if r.claims[c] == key {
			if noteOff {
				r.claims[c] = Unclaimed
			} else {
				r.lastUsed[c] = r.counter
			}
			return c, true
		}
		if c == r.rng.Last {
			break
		}
	}

	c := r.channelToReuse()
	r.claims[c] = key
	r.lastUsed[c] = r.counter
	return c, true
}

// channelToReuse prefers the first unclaimed channel, then the oldest claim.
func (r *ChannelRemapper) channelToReuse() int {
	for c := r.rng.First; ; c += r.rng.Increment {
		if r.claims[c] == Unclaimed {
			return c
		}
		if c == r.rng.Last {
			break
		}
	}

	best := r.rng.First
	bestUse := r.lastUsed[best]
	for c := r.rng.First; ; c += r.rng.Increment {
		if r.lastUsed[c] < bestUse {
			best, bestUse = c, r.lastUsed[c]
		}
		if c == r.rng.Last {
			break
		}
	}
	return best
}

// SetZone moves the remapper onto another zone. Claims on channels that are
// still members survive; the others are cleared.
func (r *ChannelRemapper) SetZone(zone Zone) {
	r.rng = zone.Range()
	r.master = zone.MasterChannel()
	for ch := MinChannel; ch <= MaxChannel; ch++ {
		if !r.rng.Contains(ch) {
			r.ClearChannel(ch)
		}
	}
}

// Reset unclaims every channel.
func (r *ChannelRemapper) Reset() {
	r.claims = [MaxChannel + 1]uint64{}
	r.lastUsed = [MaxChannel + 1]uint32{}
}

// ClearChannel unclaims ch, whoever owns it.
func (r *ChannelRemapper) ClearChannel(ch int) {
	if ch < MinChannel || ch > MaxChannel {
		return
	}
	r.claims[ch] = Unclaimed
	r.lastUsed[ch] = 0
}

// ClearSource unclaims every channel owned by source.
func (r *ChannelRemapper) ClearSource(source SourceID) {
	for ch := MinChannel; ch <= MaxChannel; ch++ {
		if r.claims[ch] != Unclaimed && SourceID(r.claims[ch]>>5) == source {
			r.claims[ch] = Unclaimed
			r.lastUsed[ch] = 0
		}
	}
}

// Claims returns the state of every target channel in range order.
func (r *ChannelRemapper) Claims() []Claim {
	claims := make([]Claim, 0, r.rng.Width())
	for c := r.rng.First; ; c += r.rng.Increment {
		cl := Claim{Channel: c, LastUsed: r.lastUsed[c]}
		if k := r.claims[c]; k != Unclaimed {
			cl.Claimed = true
			cl.Source = SourceID(k >> 5)
			cl.OriginalChannel = int(k & 0x1F)
		}
		claims = append(claims, cl)
		if c == r.rng.Last {
			break
		}
	}
	return claims
}
