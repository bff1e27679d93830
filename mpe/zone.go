package mpe

// MIDI channels are numbered 1-16 throughout this package.
const (
	MinChannel = 1
	MaxChannel = 16
)

// NoChannel is returned by lookups that find nothing.
const NoChannel = -1

// Range is an inclusive span of channels walked in Increment order.
// Increment is +1 (ascending) or -1 (descending).
type Range struct {
	First     int
	Last      int
	Increment int
}

// NewRange builds an ascending range, clamping both ends to 1-16.
func NewRange(first, last int) Range {
	first = clampChannel(first)
	last = clampChannel(last)
	if first > last {
		first, last = last, first
	}
	return Range{First: first, Last: last, Increment: 1}
}

// LegacyRange covers all 16 channels.
func LegacyRange() Range {
	return NewRange(MinChannel, MaxChannel)
}

// Width returns the number of channels in the range
func (r Range) Width() int {
	if r.Increment < 0 {
		return r.First - r.Last + 1
	}
	return r.Last - r.First + 1
}

// Contains reports whether ch lies within the range
func (r Range) Contains(ch int) bool {
	lo, hi := r.First, r.Last
	if lo > hi {
		lo, hi = hi, lo
	}
	return ch >= lo && ch <= hi
}

// Next returns the channel after ch, wrapping from Last back to First.
func (r Range) Next(ch int) int {
	if ch == r.Last || !r.Contains(ch) {
		return r.First
	}
	return ch + r.Increment
}

// Channels lists the range in iteration order.
func (r Range) Channels() []int {
	chans := make([]int, 0, r.Width())
	for ch := r.First; ; ch += r.Increment {
		chans = append(chans, ch)
		if ch == r.Last {
			break
		}
	}
	return chans
}

func clampChannel(ch int) int {
	if ch < MinChannel {
		return MinChannel
	}
	if ch > MaxChannel {
		return MaxChannel
	}
	return ch
}

// ZoneKind says which end of the channel space a zone grows from
type ZoneKind int

const (
	LowerZone ZoneKind = iota // master channel 1, members ascending from 2
	UpperZone                 // master channel 16, members descending from 15
)

func (k ZoneKind) String() string {
	if k == UpperZone {
		return "upper"
	}
	return "lower"
}

// Zone is an MPE zone: one master channel plus MemberChannels per-note channels.
type Zone struct {
	Kind           ZoneKind
	MemberChannels int
}

// NewZone clamps the member count to 0-15.
func NewZone(kind ZoneKind, members int) Zone {
	if members < 0 {
		members = 0
	}
	if members > 15 {
		members = 15
	}
	return Zone{Kind: kind, MemberChannels: members}
}

// IsActive reports whether the zone has any member channels
func (z Zone) IsActive() bool {
	return z.MemberChannels > 0
}

func (z Zone) MasterChannel() int {
	if z.Kind == UpperZone {
		return MaxChannel
	}
	return MinChannel
}

// Range returns the member channels in allocation order. An inactive zone
// yields a single-channel range on the first member slot.
func (z Zone) Range() Range {
	n := z.MemberChannels
	if n < 1 {
		n = 1
	}
	if z.Kind == UpperZone {
		return Range{First: MaxChannel - 1, Last: MaxChannel - n, Increment: -1}
	}
	return Range{First: MinChannel + 1, Last: MinChannel + n, Increment: 1}
}

// IsMemberChannel reports whether ch is one of the zone's member channels
func (z Zone) IsMemberChannel(ch int) bool {
	return z.IsActive() && z.Range().Contains(ch)
}

// IsUsingChannel reports whether ch is the master or a member channel
func (z Zone) IsUsingChannel(ch int) bool {
	return z.IsActive() && (ch == z.MasterChannel() || z.IsMemberChannel(ch))
}
