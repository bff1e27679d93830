package mpe

import "math/bits"

// noteSet is a membership set over MIDI notes 0-127.
type noteSet [2]uint64

func (s *noteSet) add(n int) { s[n>>6] |= 1 << uint(n&63) }

func (s *noteSet) remove(n int) { s[n>>6] &^= 1 << uint(n&63) }

func (s noteSet) has(n int) bool { return s[n>>6]&(1<<uint(n&63)) != 0 }

func (s noteSet) empty() bool { return s[0] == 0 && s[1] == 0 }

// notes appends the members in ascending order
func (s noteSet) notes(dst []int) []int {
	for w := 0; w < 2; w++ {
		word := s[w]
		for word != 0 {
			b := bits.TrailingZeros64(word)
			dst = append(dst, w*64+b)
			word &^= 1 << uint(b)
		}
	}
	return dst
}

// closest returns the smallest non-zero distance between n and any member,
// or -1 if the set holds nothing but n.
func (s noteSet) closest(n int) int {
	best := -1
	for w := 0; w < 2; w++ {
		word := s[w]
		for word != 0 {
			b := bits.TrailingZeros64(word)
			word &^= 1 << uint(b)
			d := w*64 + b - n
			if d < 0 {
				d = -d
			}
			if d > 0 && (best < 0 || d < best) {
				best = d
			}
		}
	}
	return best
}

type assignerChannel struct {
	notes    noteSet
	lastNote int // NoNote until a note has been assigned here
}

func (c *assignerChannel) isFree() bool { return c.notes.empty() }

// NoNote marks a channel that has never been assigned a note.
const NoNote = -1

// Slot is a read-only view of one assigner channel.
type Slot struct {
	Channel  int
	Notes    []int
	LastNote int
}

// ChannelAssigner hands out member channels for new notes following the MPE
// recommendations: same-note continuity, then round robin, then the channel
// playing the closest note.
//
// It is not safe for concurrent use.
type ChannelAssigner struct {
	rng          Range
	lastAssigned int
	channels     [MaxChannel + 1]assignerChannel
}

// NewChannelAssigner assigns within the member channels of zone.
func NewChannelAssigner(zone Zone) *ChannelAssigner {
	return newChannelAssigner(zone.Range())
}

// NewLegacyChannelAssigner assigns within an explicit ascending range.
func NewLegacyChannelAssigner(r Range) *ChannelAssigner {
	return newChannelAssigner(NewRange(r.First, r.Last))
}

func newChannelAssigner(r Range) *ChannelAssigner {
	a := &ChannelAssigner{rng: r}
	a.Reset()
	return a
}

// Range returns the channels this assigner allocates from
func (a *ChannelAssigner) Range() Range {
	return a.rng
}

// Assign picks a channel for a new note-on and records the note as playing there.
func (a *ChannelAssigner) Assign(note int) int {
	note = clampNote(note)

	if a.rng.Width() <= 1 {
		a.record(a.rng.First, note)
		return a.rng.First
	}

	// free channel whose last note was this one
	for ch := a.rng.First; ; ch += a.rng.Increment {
		c := &a.channels[ch]
		if c.isFree() && c.lastNote == note {
			a.record(ch, note)
			return ch
		}
		if ch == a.rng.Last {
			break
		}
	}

	// next free channel after the last one assigned
	ch := a.lastAssigned
	for i := 0; i < a.rng.Width(); i++ {
		ch = a.rng.Next(ch)
		if a.channels[ch].isFree() {
			a.lastAssigned = ch
			a.record(ch, note)
			return ch
		}
	}

	// everything is busy: share with the closest non-equal note
	ch = a.closestNonEqual(note)
	a.lastAssigned = ch
	a.record(ch, note)
	return ch
}

func (a *ChannelAssigner) record(ch, note int) {
	a.channels[ch].notes.add(note)
	a.channels[ch].lastNote = note
}

func (a *ChannelAssigner) closestNonEqual(note int) int {
	best, bestDist := a.rng.First, -1
	for ch := a.rng.First; ; ch += a.rng.Increment {
		if d := a.channels[ch].notes.closest(note); d > 0 && (bestDist < 0 || d < bestDist) {
			best, bestDist = ch, d
		}
		if ch == a.rng.Last {
			break
		}
	}
	return best
}

// Lookup returns the channel a playing note was assigned to.
func (a *ChannelAssigner) Lookup(note int) (int, bool) {
	if note < 0 || note > 127 {
		return NoChannel, false
	}
	for ch := a.rng.First; ; ch += a.rng.Increment {
		if a.channels[ch].notes.has(note) {
			return ch, true
		}
		if ch == a.rng.Last {
			break
		}
	}
	return NoChannel, false
}

// Release ends note on every channel it is playing on.
func (a *ChannelAssigner) Release(note int) {
	if note < 0 || note > 127 {
		return
	}
	for ch := MinChannel; ch <= MaxChannel; ch++ {
		a.channels[ch].notes.remove(note)
	}
}

// ReleaseOn ends note on channel only. Channels outside 1-16 fall back to
// Release.
func (a *ChannelAssigner) ReleaseOn(note, channel int) {
	if channel < MinChannel || channel > MaxChannel {
		a.Release(note)
		return
	}
	if note < 0 || note > 127 {
		return
	}
	a.channels[channel].notes.remove(note)
}

// Reset forgets all playing notes and last-note history.
func (a *ChannelAssigner) Reset() {
	for i := range a.channels {
		a.channels[i] = assignerChannel{lastNote: NoNote}
	}
	// so the first round-robin step lands on First
	a.lastAssigned = a.rng.First - a.rng.Increment
}

// Slots returns the state of every channel in range order.
func (a *ChannelAssigner) Slots() []Slot {
	slots := make([]Slot, 0, a.rng.Width())
	for ch := a.rng.First; ; ch += a.rng.Increment {
		c := a.channels[ch]
		slots = append(slots, Slot{Channel: ch, Notes: c.notes.notes(nil), LastNote: c.lastNote})
		if ch == a.rng.Last {
			break
		}
	}
	return slots
}

func clampNote(n int) int {
	if n < 0 {
		return 0
	}
	if n > 127 {
		return 127
	}
	return n
}
