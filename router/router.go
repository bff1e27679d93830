package router

import (
	"context"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"

	"mpe-router/debug"
	"mpe-router/midi"
	"mpe-router/mpe"
)

// Mode selects which allocator spreads input over the zone
type Mode int

const (
	ModeRemap  Mode = iota // MPE sources multiplexed by the channel remapper
	ModeAssign             // single-channel keyboards spread by the channel assigner
)

func (m Mode) String() string {
	if m == ModeAssign {
		return "assign"
	}
	return "remap"
}

const (
	ccAllSoundOff = 120
	ccAllNotesOff = 123
	ccRPNLSB      = 100
	ccRPNMSB      = 101
)

// Options configures a Router
type Options struct {
	Mode Mode
	Zone mpe.Zone
	// Legacy, when set, replaces the zone with a plain channel range and no
	// master channel.
	Legacy *mpe.Range
}

// Stats counts messages through the router
type Stats struct {
	Received   uint64
	Sent       uint64
	SendErrors uint64
}

// Snapshot is a copy of the allocation state for display
type Snapshot struct {
	Mode   Mode
	Zone   mpe.Zone
	Legacy bool
	Range  mpe.Range
	Claims []mpe.Claim // ModeRemap
	Slots  []mpe.Slot  // ModeAssign
	Stats  Stats
}

// Router feeds every input packet through one allocator and sends the result
// to the synth. All allocator access happens under mu, so packets from any
// number of sources are serialized.
type Router struct {
	mu       sync.Mutex
	opts     Options
	send     midi.SendFunc
	layout   *mpe.ZoneLayout
	remapper *mpe.ChannelRemapper
	assigner *mpe.ChannelAssigner
	stats    Stats

	// assign mode: channel each held note went to, 0 when not held
	held  map[mpe.SourceID]*[128]uint8
	// remap mode: zones each source announced with configuration messages
	zones map[mpe.SourceID]*mpe.ZoneLayout

	// Notify TUI of updates
	updates chan struct{}
}

// New creates a router sending through send.
func New(opts Options, send midi.SendFunc) *Router {
	r := &Router{
		opts:    opts,
		send:    send,
		layout:  mpe.NewZoneLayout(),
		held:    make(map[mpe.SourceID]*[128]uint8),
		zones:   make(map[mpe.SourceID]*mpe.ZoneLayout),
		updates: make(chan struct{}, 1),
	}

	if opts.Legacy != nil {
		r.remapper = mpe.NewLegacyChannelRemapper(*opts.Legacy)
		r.assigner = mpe.NewLegacyChannelAssigner(*opts.Legacy)
	} else {
		r.remapper = mpe.NewChannelRemapper(opts.Zone)
		r.assigner = mpe.NewChannelAssigner(opts.Zone)
		r.setLayoutZone(opts.Zone)
		r.layout.OnChange(r.layoutChanged)
	}
	return r
}

// Updates delivers a signal after state changes. Signals are coalesced.
func (r *Router) Updates() <-chan struct{} {
	return r.updates
}

// Run processes packets and device events until ctx is done.
func (r *Router) Run(ctx context.Context, packets <-chan midi.Packet, events <-chan midi.DeviceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-packets:
			r.Handle(p)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.HandleDevice(ev)
		}
	}
}

// Handle routes one packet.
func (r *Router) Handle(p midi.Packet) {
	r.mu.Lock()
	r.stats.Received++
	if r.opts.Mode == ModeAssign {
		r.handleAssign(p)
	} else {
		r.handleRemap(p)
	}
	r.mu.Unlock()

	r.notify()
}

func (r *Router) handleRemap(p midi.Packet) {
	msg := p.Msg
	layout := r.sourceLayout(p.Source)
	if layout.ProcessMessage(msg) {
		// the source describing itself; the synth only hears our own zone
		debug.Log("router", "source %d zones: lower %d, upper %d", p.Source,
			layout.LowerZone().MemberChannels, layout.UpperZone().MemberChannels)
		return
	}

	if master := r.remapper.Master(); master != 0 && isSourceMaster(layout, msg) {
		msg = mpe.WithChannel(msg, master)
	}
	r.out(r.remapper.Remap(msg, p.Source))
}

// isSourceMaster reports whether msg is on a master channel of the source's
// announced layout, or selects an RPN on channel 1 or 16 (the first half of a
// configuration message).
func isSourceMaster(layout *mpe.ZoneLayout, msg gomidi.Message) bool {
	ch, ok := mpe.MessageChannel(msg)
	if !ok {
		return false
	}
	if z, ok := layout.ZoneFor(ch); ok && z.MasterChannel() == ch {
		return true
	}
	var c, ctl, val uint8
	return (ch == mpe.MinChannel || ch == mpe.MaxChannel) &&
		msg.GetControlChange(&c, &ctl, &val) && (ctl == ccRPNLSB || ctl == ccRPNMSB)
}

func (r *Router) sourceLayout(src mpe.SourceID) *mpe.ZoneLayout {
	l := r.zones[src]
	if l == nil {
		l = mpe.NewZoneLayout()
		r.zones[src] = l
	}
	return l
}

func (r *Router) handleAssign(p midi.Packet) {
	msg := p.Msg
	if _, ok := mpe.MessageChannel(msg); !ok {
		r.out(msg)
		return
	}

	var ch, key, vel, ctl, val uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel) && key < 128:
		target := r.assigner.Assign(int(key))
		r.holding(p.Source)[key] = uint8(target)
		r.out(mpe.WithChannel(msg, target))

	case msg.GetNoteEnd(&ch, &key) && key < 128:
		h := r.held[p.Source]
		if h == nil || h[key] == 0 {
			r.out(msg)
			return
		}
		target := int(h[key])
		h[key] = 0
		r.assigner.ReleaseOn(int(key), target)
		r.out(mpe.WithChannel(msg, target))

	case msg.GetControlChange(&ch, &ctl, &val) && (ctl == ccAllNotesOff || ctl == ccAllSoundOff):
		r.silence(ctl)
		r.assigner.Reset()
		r.held = make(map[mpe.SourceID]*[128]uint8)

	case len(msg) >= 2 && msg[0]&0xF0 == 0xA0:
		// polyphonic aftertouch follows its note
		if h := r.held[p.Source]; h != nil && msg[1] < 128 && h[msg[1]] != 0 {
			r.out(mpe.WithChannel(msg, int(h[msg[1]])))
		}

	default:
		// channel-wide expression goes to the master channel
		if r.opts.Legacy != nil {
			r.out(msg)
		} else {
			r.out(mpe.WithChannel(msg, r.opts.Zone.MasterChannel()))
		}
	}
}

func (r *Router) holding(src mpe.SourceID) *[128]uint8 {
	h := r.held[src]
	if h == nil {
		h = new([128]uint8)
		r.held[src] = h
	}
	return h
}

// silence sends ctl (all notes off / all sound off) on every channel in range.
func (r *Router) silence(ctl uint8) {
	for _, ch := range r.rangeLocked().Channels() {
		r.out(gomidi.ControlChange(uint8(ch-1), ctl, 0))
	}
}

// HandleDevice drops the state of disconnected sources and silences their notes.
func (r *Router) HandleDevice(ev midi.DeviceEvent) {
	if ev.Type != midi.DeviceDisconnected {
		r.notify()
		return
	}

	r.mu.Lock()
	if r.opts.Mode == ModeAssign {
		if h := r.held[ev.Source]; h != nil {
			for note, target := range h {
				if target == 0 {
					continue
				}
				r.assigner.ReleaseOn(note, int(target))
				r.out(gomidi.NoteOff(target-1, uint8(note)))
			}
			delete(r.held, ev.Source)
		}
	} else {
		delete(r.zones, ev.Source)
		for _, c := range r.remapper.Claims() {
			if c.Claimed && c.Source == ev.Source {
				r.out(gomidi.ControlChange(uint8(c.Channel-1), ccAllNotesOff, 0))
			}
		}
		r.remapper.ClearSource(ev.Source)
	}
	r.mu.Unlock()

	debug.Log("router", "cleared source %d (%s)", ev.Source, ev.Name)
	r.notify()
}

// SetMemberChannels resizes the zone. Ignored with a legacy range.
func (r *Router) SetMemberChannels(n int) {
	r.mu.Lock()
	if r.opts.Legacy == nil {
		r.setLayoutZone(mpe.NewZone(r.opts.Zone.Kind, n))
	}
	r.mu.Unlock()

	r.notify()
}

func (r *Router) setLayoutZone(zone mpe.Zone) {
	if zone.Kind == mpe.UpperZone {
		r.layout.SetUpperZone(zone.MemberChannels)
	} else {
		r.layout.SetLowerZone(zone.MemberChannels)
	}
}

// layoutChanged runs with mu held, from setLayoutZone.
func (r *Router) layoutChanged(l mpe.ZoneLayout) {
	zone := l.LowerZone()
	if r.opts.Zone.Kind == mpe.UpperZone {
		zone = l.UpperZone()
	}
	if zone == r.opts.Zone || !zone.IsActive() {
		return
	}

	// notes on channels leaving the zone would hang; the assigner is rebuilt
	// so it forgets every note
	old := r.opts.Zone.Range()
	for _, ch := range old.Channels() {
		if r.opts.Mode == ModeAssign || !zone.IsMemberChannel(ch) {
			r.out(gomidi.ControlChange(uint8(ch-1), ccAllNotesOff, 0))
		}
	}

	r.opts.Zone = zone
	r.remapper.SetZone(zone)
	r.assigner = mpe.NewChannelAssigner(zone)
	r.held = make(map[mpe.SourceID]*[128]uint8)
	r.announceLocked()
	debug.Log("router", "zone now %s with %d members", zone.Kind, zone.MemberChannels)
}

// Announce sends the MPE Configuration Message for the current zone.
func (r *Router) Announce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announceLocked()
}

func (r *Router) announceLocked() {
	if r.opts.Legacy != nil {
		return
	}
	for _, msg := range mpe.ConfigurationMessages(r.opts.Zone) {
		r.out(msg)
	}
}

// Reset forgets every claim, playing note and announced source zone, silencing
// the zone first.
func (r *Router) Reset() {
	r.mu.Lock()
	r.silence(ccAllNotesOff)
	r.remapper.Reset()
	r.assigner.Reset()
	r.held = make(map[mpe.SourceID]*[128]uint8)
	for _, l := range r.zones {
		l.ClearAllZones()
	}
	r.mu.Unlock()

	debug.Log("router", "reset")
	r.notify()
}

// Snapshot returns a copy of the current state
func (r *Router) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Mode:   r.opts.Mode,
		Zone:   r.opts.Zone,
		Legacy: r.opts.Legacy != nil,
		Range:  r.rangeLocked(),
		Stats:  r.stats,
	}
	if r.opts.Mode == ModeAssign {
		s.Slots = r.assigner.Slots()
	} else {
		s.Claims = r.remapper.Claims()
	}
	return s
}

func (r *Router) rangeLocked() mpe.Range {
	if r.opts.Mode == ModeAssign {
		return r.assigner.Range()
	}
	return r.remapper.Range()
}

func (r *Router) out(msg gomidi.Message) {
	if len(msg) == 0 {
		return
	}
	if err := r.send(msg); err != nil {
		r.stats.SendErrors++
		debug.LogEvery(50, "router", "send %s: %v", msg, err)
		return
	}
	r.stats.Sent++
}

func (r *Router) notify() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}
