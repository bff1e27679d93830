package midi

import (
	"fmt"
	"io"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OpenOutput opens the synth output. With virtual set, a new virtual port
// called name is created instead of looking up an existing one.
func OpenOutput(name string, virtual bool) (SendFunc, io.Closer, error) {
	if virtual {
		return openVirtualOutput(name)
	}

	out, err := gomidi.FindOutPort(name)
	if err != nil {
		return nil, nil, fmt.Errorf("find output %q: %w", name, err)
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, nil, fmt.Errorf("open output %q: %w", name, err)
	}
	return send, out, nil
}

func openVirtualOutput(name string) (SendFunc, io.Closer, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, nil, fmt.Errorf("rtmididrv: %w", err)
	}

	var out drivers.Out
	out, err = drv.OpenVirtualOut(name)
	if err != nil {
		drv.Close()
		return nil, nil, fmt.Errorf("create virtual output %q: %w", name, err)
	}

	send, err := gomidi.SendTo(out)
	if err != nil {
		out.Close()
		drv.Close()
		return nil, nil, fmt.Errorf("open virtual output %q: %w", name, err)
	}

	closer := closerFunc(func() error {
		out.Close()
		return drv.Close()
	})
	return send, closer, nil
}

// OutPortNames lists the available output ports
func OutPortNames() []string {
	var names []string
	for _, p := range gomidi.GetOutPorts() {
		names = append(names, p.String())
	}
	return names
}
