package mpe

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Controller numbers with zone-wide meaning on a master channel.
const (
	ccDataEntryMSB        = 6
	ccResetAllControllers = 121
	ccAllNotesOff         = 123
	ccRPNLSB              = 100
	ccRPNMSB              = 101
)

// isVoiceMessage reports whether msg is addressed to a channel (status
// 0x80-0xEF). Empty messages and running-status data bytes are not.
func isVoiceMessage(msg gomidi.Message) bool {
	return len(msg) > 0 && msg[0] >= 0x80 && msg[0] < 0xF0
}

// messageChannel returns the 1-based channel of a voice message, 0 otherwise.
func messageChannel(msg gomidi.Message) int {
	if !isVoiceMessage(msg) {
		return 0
	}
	return int(msg[0]&0x0F) + 1
}

// isNoteEnd covers both note-off and note-on with zero velocity.
func isNoteEnd(msg gomidi.Message) bool {
	if len(msg) < 3 {
		return false
	}
	switch msg[0] & 0xF0 {
	case 0x80:
		return true
	case 0x90:
		return msg[2] == 0
	}
	return false
}

// MessageChannel returns the 1-based channel of a voice message.
func MessageChannel(msg gomidi.Message) (int, bool) {
	ch := messageChannel(msg)
	return ch, ch != 0
}

// WithChannel returns a copy of a voice message moved to ch (1-16). Other
// messages are returned unchanged.
func WithChannel(msg gomidi.Message, ch int) gomidi.Message {
	if !isVoiceMessage(msg) || ch < MinChannel || ch > MaxChannel {
		return msg
	}
	out := make(gomidi.Message, len(msg))
	copy(out, msg)
	out[0] = out[0]&0xF0 | uint8(ch-1)
	return out
}
