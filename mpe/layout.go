package mpe

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// rpnNull is the "no parameter selected" value for both RPN bytes.
const rpnNull = 127

// rpnMPEConfiguration is the MPE Configuration Message parameter (MSB 0, LSB 6).
const rpnMPEConfiguration = 6

// ZoneLayout is the pair of zones an MPE device is split into. The zones never
// overlap: growing one shrinks the other.
type ZoneLayout struct {
	lower Zone
	upper Zone

	// selected RPN per master channel, indexed 0 for channel 1, 1 for channel 16
	rpnMSB [2]uint8
	rpnLSB [2]uint8

	listeners []func(ZoneLayout)
}

// NewZoneLayout returns a layout with both zones inactive.
func NewZoneLayout() *ZoneLayout {
	l := &ZoneLayout{
		lower: Zone{Kind: LowerZone},
		upper: Zone{Kind: UpperZone},
	}
	l.rpnMSB = [2]uint8{rpnNull, rpnNull}
	l.rpnLSB = [2]uint8{rpnNull, rpnNull}
	return l
}

func (l *ZoneLayout) LowerZone() Zone { return l.lower }
func (l *ZoneLayout) UpperZone() Zone { return l.upper }

// OnChange registers fn to be called with a copy of the layout after every change.
func (l *ZoneLayout) OnChange(fn func(ZoneLayout)) {
	l.listeners = append(l.listeners, fn)
}

// SetLowerZone sets the lower zone's member count and trims the upper zone if
// the two would overlap.
func (l *ZoneLayout) SetLowerZone(members int) {
	l.setZone(LowerZone, members)
}

// SetUpperZone sets the upper zone's member count and trims the lower zone if
// the two would overlap.
func (l *ZoneLayout) SetUpperZone(members int) {
	l.setZone(UpperZone, members)
}

func (l *ZoneLayout) setZone(kind ZoneKind, members int) {
	z := NewZone(kind, members)
	if kind == LowerZone {
		l.lower = z
	} else {
		l.upper = z
	}

	if z.MemberChannels > 0 && l.lower.MemberChannels+l.upper.MemberChannels >= 15 {
		// two master channels plus members must fit in 16
		if kind == LowerZone {
			l.upper = NewZone(UpperZone, 14-z.MemberChannels)
		} else {
			l.lower = NewZone(LowerZone, 14-z.MemberChannels)
		}
	}
	l.notify()
}

// ClearAllZones deactivates both zones.
func (l *ZoneLayout) ClearAllZones() {
	l.lower = Zone{Kind: LowerZone}
	l.upper = Zone{Kind: UpperZone}
	l.notify()
}

// ZoneFor returns the active zone that uses ch as master or member channel.
func (l *ZoneLayout) ZoneFor(ch int) (Zone, bool) {
	if l.lower.IsUsingChannel(ch) {
		return l.lower, true
	}
	if l.upper.IsUsingChannel(ch) {
		return l.upper, true
	}
	return Zone{}, false
}

// ProcessMessage watches for MPE Configuration Messages (RPN 6 on channel 1
// or 16) and applies them. It reports whether the layout changed.
func (l *ZoneLayout) ProcessMessage(msg gomidi.Message) bool {
	var ch, ctl, val uint8
	if !msg.GetControlChange(&ch, &ctl, &val) {
		return false
	}

	var idx int
	var kind ZoneKind
	switch ch {
	case 0:
		idx, kind = 0, LowerZone
	case 15:
		idx, kind = 1, UpperZone
	default:
		return false
	}

	switch ctl {
	case ccRPNMSB:
		l.rpnMSB[idx] = val
	case ccRPNLSB:
		l.rpnLSB[idx] = val
	case ccDataEntryMSB:
		if l.rpnMSB[idx] == 0 && l.rpnLSB[idx] == rpnMPEConfiguration {
			l.setZone(kind, int(val))
			return true
		}
	}
	return false
}

func (l *ZoneLayout) notify() {
	snapshot := ZoneLayout{lower: l.lower, upper: l.upper}
	for _, fn := range l.listeners {
		fn(snapshot)
	}
}

// ConfigurationMessages returns the RPN sequence that announces zone to a
// receiving device.
func ConfigurationMessages(zone Zone) []gomidi.Message {
	ch := uint8(zone.MasterChannel() - 1)
	return []gomidi.Message{
		gomidi.ControlChange(ch, ccRPNMSB, 0),
		gomidi.ControlChange(ch, ccRPNLSB, rpnMPEConfiguration),
		gomidi.ControlChange(ch, ccDataEntryMSB, uint8(zone.MemberChannels)),
	}
}
