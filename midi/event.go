package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"

	"mpe-router/mpe"
)

// Packet is one message received from an input source
type Packet struct {
	Source mpe.SourceID
	Msg    gomidi.Message
}

// SendFunc writes a message to an output port
type SendFunc func(msg gomidi.Message) error
