package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"mpe-router/debug"
	"mpe-router/mpe"
)

// Source is an opened MIDI input port feeding packets to the router
type Source struct {
	id       mpe.SourceID
	name     string
	inPort   drivers.In
	stopFunc func()
}

// OpenSource starts listening on inPort. Every message is pushed to packets
// without blocking; messages are dropped if the consumer falls behind.
func OpenSource(id mpe.SourceID, inPort drivers.In, packets chan<- Packet) (*Source, error) {
	src := &Source{
		id:     id,
		name:   inPort.String(),
		inPort: inPort,
	}

	stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		select {
		case packets <- Packet{Source: id, Msg: append(gomidi.Message(nil), msg...)}:
		default:
			debug.LogEvery(100, "midi", "dropped packet from %s", src.name)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", src.name, err)
	}
	src.stopFunc = stop

	return src, nil
}

func (s *Source) ID() mpe.SourceID {
	return s.id
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) Close() error {
	if s.stopFunc != nil {
		s.stopFunc()
	}
	return nil
}
