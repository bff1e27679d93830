package midi

import (
	"context"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"mpe-router/debug"
	"mpe-router/mpe"
)

// DeviceEvent is emitted when sources connect/disconnect
type DeviceEvent struct {
	Type   DeviceEventType
	Source mpe.SourceID
	Name   string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

func (t DeviceEventType) String() string {
	if t == DeviceDisconnected {
		return "disconnected"
	}
	return "connected"
}

// DeviceManager handles hot-plug detection of MIDI inputs. Every input port
// that is not excluded becomes a Source.
type DeviceManager struct {
	sources  map[string]*Source
	ids      *sourceIDs
	exclude  func(name string) bool
	mu       sync.RWMutex
	events   chan DeviceEvent
	packets  chan Packet
	pollRate time.Duration
}

// NewDeviceManager creates a new device manager. exclude may be nil.
func NewDeviceManager(exclude func(name string) bool) *DeviceManager {
	if exclude == nil {
		exclude = func(string) bool { return false }
	}
	return &DeviceManager{
		sources:  make(map[string]*Source),
		ids:      newSourceIDs(),
		exclude:  exclude,
		events:   make(chan DeviceEvent, 16),
		packets:  make(chan Packet, 1024),
		pollRate: time.Second,
	}
}

// Events returns a channel of device connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Packets returns the merged message stream of all sources
func (dm *DeviceManager) Packets() <-chan Packet {
	return dm.packets
}

// SourceNames returns a snapshot of connected sources by id
func (dm *DeviceManager) SourceNames() map[mpe.SourceID]string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	names := make(map[mpe.SourceID]string, len(dm.sources))
	for name, s := range dm.sources {
		names[s.ID()] = name
	}
	return names
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	// Initial scan
	dm.scan()

	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.scan()
		}
	}
}

func (dm *DeviceManager) scan() {
	// Get current MIDI ports with timeout (CoreMIDI can hang)
	ch := make(chan []drivers.In, 1)
	go func() {
		ch <- gomidi.GetInPorts()
	}()

	var inPorts []drivers.In
	select {
	case inPorts = <-ch:
	case <-time.After(3 * time.Second):
		// CoreMIDI is hung - skip this scan
		// User needs to run: sudo killall coreaudiod midiserver
		debug.Log("midi", "port scan timed out")
		return
	}

	seen := make(map[string]bool)
	for _, inPort := range inPorts {
		name := inPort.String()
		if dm.exclude(name) {
			continue
		}
		seen[name] = true

		dm.mu.RLock()
		_, exists := dm.sources[name]
		dm.mu.RUnlock()
		if exists {
			continue
		}

		id := dm.ids.get(name)
		src, err := OpenSource(id, inPort, dm.packets)
		if err != nil {
			debug.Log("midi", "skip %s: %v", name, err)
			continue
		}

		dm.mu.Lock()
		dm.sources[name] = src
		dm.mu.Unlock()

		debug.Log("midi", "source %d connected: %s", id, name)
		dm.events <- DeviceEvent{Type: DeviceConnected, Source: id, Name: name}
	}

	// Check for disconnects
	dm.mu.Lock()
	var gone []*Source
	for name, src := range dm.sources {
		if !seen[name] {
			gone = append(gone, src)
			delete(dm.sources, name)
		}
	}
	dm.mu.Unlock()

	for _, src := range gone {
		src.Close()
		debug.Log("midi", "source %d disconnected: %s", src.ID(), src.Name())
		dm.events <- DeviceEvent{Type: DeviceDisconnected, Source: src.ID(), Name: src.Name()}
	}
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, s := range dm.sources {
		s.Close()
	}
	dm.sources = make(map[string]*Source)
}

// sourceIDs hands out one stable id per port name for the life of the process,
// so a replugged device keeps its id. Ids start at 1.
type sourceIDs struct {
	mu     sync.Mutex
	byName map[string]mpe.SourceID
	next   mpe.SourceID
}

func newSourceIDs() *sourceIDs {
	return &sourceIDs{byName: make(map[string]mpe.SourceID), next: 1}
}

func (s *sourceIDs) get(name string) mpe.SourceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[name]; ok {
		return id
	}
	id := s.next
	s.next++
	s.byName[name] = id
	return id
}
