package router

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"mpe-router/midi"
	"mpe-router/mpe"
)

type recorder struct {
	mu   sync.Mutex
	msgs []gomidi.Message
	fail bool
}

func (rec *recorder) send(msg gomidi.Message) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.fail {
		return errors.New("port closed")
	}
	rec.msgs = append(rec.msgs, msg)
	return nil
}

func (rec *recorder) take() []gomidi.Message {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	msgs := rec.msgs
	rec.msgs = nil
	return msgs
}

func expect(t *testing.T, got []gomidi.Message, want ...gomidi.Message) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("sent %d messages %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("message %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func packet(src mpe.SourceID, msg gomidi.Message) midi.Packet {
	return midi.Packet{Source: src, Msg: msg}
}

func TestRemapModeSeparatesSources(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Mode: ModeRemap, Zone: mpe.NewZone(mpe.LowerZone, 3)}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(1, 60, 100)))
	r.Handle(packet(2, gomidi.NoteOn(1, 64, 100)))
	r.Handle(packet(1, gomidi.Pitchbend(1, 500)))
	r.Handle(packet(2, gomidi.Message{0xF8}))

	expect(t, rec.take(),
		gomidi.NoteOn(1, 60, 100),
		gomidi.NoteOn(2, 64, 100),
		gomidi.Pitchbend(1, 500),
		gomidi.Message{0xF8},
	)

	snap := r.Snapshot()
	if snap.Stats.Received != 4 || snap.Stats.Sent != 4 {
		t.Errorf("stats = %+v", snap.Stats)
	}
	if len(snap.Claims) != 3 || !snap.Claims[1].Claimed || snap.Claims[1].Source != 2 {
		t.Errorf("claims = %+v", snap.Claims)
	}
}

func TestRemapModeDisconnectClearsSource(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Mode: ModeRemap, Zone: mpe.NewZone(mpe.LowerZone, 3)}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(1, 60, 100))) // -> ch 2
	r.Handle(packet(2, gomidi.NoteOn(1, 64, 100))) // -> ch 3
	rec.take()

	r.HandleDevice(midi.DeviceEvent{Type: midi.DeviceDisconnected, Source: 1, Name: "Seaboard"})
	expect(t, rec.take(), gomidi.ControlChange(1, ccAllNotesOff, 0))

	for _, c := range r.Snapshot().Claims {
		if c.Claimed && c.Source == 1 {
			t.Errorf("channel %d still claimed by source 1", c.Channel)
		}
	}
}

func TestAssignModeSpreadsNotes(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Mode: ModeAssign, Zone: mpe.NewZone(mpe.LowerZone, 3)}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(0, 60, 100)))
	r.Handle(packet(1, gomidi.NoteOn(0, 62, 100)))
	r.Handle(packet(1, gomidi.NoteOff(0, 60)))
	r.Handle(packet(1, gomidi.NoteOn(0, 62, 0)))
	r.Handle(packet(1, gomidi.Pitchbend(0, 1000)))
	r.Handle(packet(1, gomidi.NoteOff(0, 99))) // never assigned

	expect(t, rec.take(),
		gomidi.NoteOn(1, 60, 100),
		gomidi.NoteOn(2, 62, 100),
		gomidi.NoteOff(1, 60),
		gomidi.NoteOn(2, 62, 0),
		gomidi.Pitchbend(0, 1000),
		gomidi.NoteOff(0, 99),
	)

	for _, s := range r.Snapshot().Slots {
		if len(s.Notes) != 0 {
			t.Errorf("channel %d still holds %v", s.Channel, s.Notes)
		}
	}
}

func TestAssignModeAftertouchFollowsNote(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Mode: ModeAssign, Zone: mpe.NewZone(mpe.UpperZone, 2)}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(0, 60, 100))) // -> 15
	r.Handle(packet(1, gomidi.NoteOn(0, 67, 100))) // -> 14
	r.Handle(packet(1, gomidi.Message{0xA0, 67, 30}))

	msgs := rec.take()
	expect(t, msgs[2:], gomidi.Message{0xAD, 67, 30})
}

func TestAssignModeDisconnectReleasesHeldNotes(t *testing.T) {
	rec := &recorder{}
	legacy := mpe.NewRange(1, 4)
	r := New(Options{Mode: ModeAssign, Legacy: &legacy}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(0, 60, 100))) // -> 1
	r.Handle(packet(2, gomidi.NoteOn(0, 64, 100))) // -> 2
	r.Handle(packet(1, gomidi.NoteOn(0, 67, 100))) // -> 3
	rec.take()

	r.HandleDevice(midi.DeviceEvent{Type: midi.DeviceDisconnected, Source: 1})
	expect(t, rec.take(), gomidi.NoteOff(0, 60), gomidi.NoteOff(2, 67))

	if ch, ok := r.assigner.Lookup(64); !ok || ch != 2 {
		t.Errorf("source 2 note lost: %d, %v", ch, ok)
	}
}

func TestAssignModeSameNoteFromTwoSources(t *testing.T) {
	rec := &recorder{}
	legacy := mpe.NewRange(1, 4)
	r := New(Options{Mode: ModeAssign, Legacy: &legacy}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(0, 60, 100))) // -> 1
	r.Handle(packet(2, gomidi.NoteOn(0, 60, 90)))  // -> 2
	r.Handle(packet(2, gomidi.Message{0xA0, 60, 20}))
	r.Handle(packet(2, gomidi.NoteOff(0, 60)))

	expect(t, rec.take(),
		gomidi.NoteOn(0, 60, 100),
		gomidi.NoteOn(1, 60, 90),
		gomidi.Message{0xA1, 60, 20},
		gomidi.NoteOff(1, 60),
	)
	if ch, ok := r.assigner.Lookup(60); !ok || ch != 1 {
		t.Fatalf("source 1 note moved: %d, %v", ch, ok)
	}

	r.Handle(packet(2, gomidi.NoteOn(0, 60, 90))) // -> 2 again, last note 60
	rec.take()
	r.HandleDevice(midi.DeviceEvent{Type: midi.DeviceDisconnected, Source: 2})
	expect(t, rec.take(), gomidi.NoteOff(1, 60))

	for _, s := range r.Snapshot().Slots {
		want := 0
		if s.Channel == 1 {
			want = 1
		}
		if len(s.Notes) != want {
			t.Errorf("channel %d holds %v", s.Channel, s.Notes)
		}
	}
}

func TestAssignModeAllNotesOff(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Mode: ModeAssign, Zone: mpe.NewZone(mpe.LowerZone, 2)}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(0, 60, 100)))
	rec.take()
	r.Handle(packet(1, gomidi.ControlChange(0, ccAllNotesOff, 0)))

	expect(t, rec.take(),
		gomidi.ControlChange(1, ccAllNotesOff, 0),
		gomidi.ControlChange(2, ccAllNotesOff, 0),
	)
	if _, ok := r.assigner.Lookup(60); ok {
		t.Error("note survived all notes off")
	}
}

func TestRemapModeFollowsSourceZone(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Mode: ModeRemap, Zone: mpe.NewZone(mpe.LowerZone, 15)}, rec.send)

	// source 1 announces an upper zone with 3 members
	for _, msg := range mpe.ConfigurationMessages(mpe.NewZone(mpe.UpperZone, 3)) {
		r.Handle(packet(1, msg))
	}
	r.Handle(packet(1, gomidi.Pitchbend(15, 300)))
	r.Handle(packet(1, gomidi.NoteOn(14, 60, 100)))
	r.Handle(packet(2, gomidi.NoteOn(15, 64, 100)))

	expect(t, rec.take(),
		gomidi.ControlChange(0, ccRPNMSB, 0),
		gomidi.ControlChange(0, ccRPNLSB, 6),
		gomidi.Pitchbend(0, 300),
		gomidi.NoteOn(1, 60, 100),
		gomidi.NoteOn(2, 64, 100),
	)

	// all notes off on the source master clears only that source
	r.Handle(packet(1, gomidi.ControlChange(15, ccAllNotesOff, 0)))
	expect(t, rec.take(), gomidi.ControlChange(0, ccAllNotesOff, 0))
	for _, c := range r.Snapshot().Claims {
		if c.Claimed && c.Source == 1 {
			t.Errorf("channel %d still claimed by source 1", c.Channel)
		}
	}

	// after a reset the announced zone is forgotten
	r.Reset()
	rec.take()
	r.Handle(packet(1, gomidi.Pitchbend(15, 300)))
	expect(t, rec.take(), gomidi.Pitchbend(1, 300))
}

func TestSetMemberChannelsShrinksZone(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Mode: ModeRemap, Zone: mpe.NewZone(mpe.LowerZone, 4)}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(1, 60, 100))) // -> 2
	r.Handle(packet(2, gomidi.NoteOn(1, 60, 100))) // -> 3
	r.Handle(packet(3, gomidi.NoteOn(1, 60, 100))) // -> 4
	rec.take()

	r.SetMemberChannels(2)

	want := []gomidi.Message{
		gomidi.ControlChange(3, ccAllNotesOff, 0),
		gomidi.ControlChange(4, ccAllNotesOff, 0),
	}
	want = append(want, mpe.ConfigurationMessages(mpe.NewZone(mpe.LowerZone, 2))...)
	expect(t, rec.take(), want...)

	snap := r.Snapshot()
	if snap.Range.Width() != 2 || snap.Zone.MemberChannels != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Claims) != 2 || snap.Claims[1].Source != 2 {
		t.Errorf("claims = %+v", snap.Claims)
	}
}

func TestSetMemberChannelsIgnoredForLegacy(t *testing.T) {
	rec := &recorder{}
	legacy := mpe.LegacyRange()
	r := New(Options{Mode: ModeRemap, Legacy: &legacy}, rec.send)

	r.SetMemberChannels(3)
	r.Announce()

	if msgs := rec.take(); len(msgs) != 0 {
		t.Errorf("sent %v", msgs)
	}
	if w := r.Snapshot().Range.Width(); w != 16 {
		t.Errorf("range width %d", w)
	}
}

func TestAnnounce(t *testing.T) {
	rec := &recorder{}
	zone := mpe.NewZone(mpe.UpperZone, 6)
	r := New(Options{Mode: ModeRemap, Zone: zone}, rec.send)

	r.Announce()
	expect(t, rec.take(), mpe.ConfigurationMessages(zone)...)
}

func TestResetSilencesAndClears(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Mode: ModeRemap, Zone: mpe.NewZone(mpe.LowerZone, 2)}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(1, 60, 100)))
	rec.take()
	r.Reset()

	expect(t, rec.take(),
		gomidi.ControlChange(1, ccAllNotesOff, 0),
		gomidi.ControlChange(2, ccAllNotesOff, 0),
	)
	for _, c := range r.Snapshot().Claims {
		if c.Claimed {
			t.Errorf("channel %d still claimed", c.Channel)
		}
	}
}

func TestSendErrorsCounted(t *testing.T) {
	rec := &recorder{fail: true}
	r := New(Options{Mode: ModeRemap, Zone: mpe.NewZone(mpe.LowerZone, 2)}, rec.send)

	r.Handle(packet(1, gomidi.NoteOn(1, 60, 100)))

	if s := r.Snapshot().Stats; s.SendErrors != 1 || s.Sent != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRunProcessesPackets(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Mode: ModeRemap, Zone: mpe.NewZone(mpe.LowerZone, 2)}, rec.send)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	packets := make(chan midi.Packet, 1)
	events := make(chan midi.DeviceEvent)
	done := make(chan struct{})
	go func() {
		r.Run(ctx, packets, events)
		close(done)
	}()

	packets <- packet(5, gomidi.NoteOn(3, 60, 100))
	close(events)

	select {
	case <-r.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update after packet")
	}
	expect(t, rec.take(), gomidi.NoteOn(1, 60, 100))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
