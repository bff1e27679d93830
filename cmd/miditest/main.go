package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"mpe-router/mpe"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "poll":
		pollDevices()
	case "monitor":
		if len(os.Args) < 3 {
			usage()
			return
		}
		monitor(os.Args[2])
	case "assign":
		simulateAssign(os.Args[2:])
	case "remap":
		simulateRemap(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list                 - List all MIDI ports")
	fmt.Println("  poll                 - Poll for device changes")
	fmt.Println("  monitor <port>       - Print messages from an input port")
	fmt.Println("  assign <members> <note|-note>...")
	fmt.Println("                       - Run the channel assigner on a lower zone (-note releases)")
	fmt.Println("  remap <members> <source:channel>...")
	fmt.Println("                       - Run the channel remapper on a lower zone")
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	type result struct {
		ins  []drivers.In
		outs []drivers.Out
	}
	ch := make(chan result, 1)
	go func() {
		ins := midi.GetInPorts()
		outs := midi.GetOutPorts()
		ch <- result{ins: ins, outs: outs}
	}()

	select {
	case r := <-ch:
		for i, p := range r.ins {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
		fmt.Println("\n=== MIDI Output Ports ===")
		for i, p := range r.outs {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
	}
}

func monitor(name string) {
	in, err := midi.FindInPort(name)
	if err != nil {
		fmt.Printf("No input matching %q\n", name)
		return
	}

	layout := mpe.NewZoneLayout()
	layout.OnChange(func(l mpe.ZoneLayout) {
		fmt.Printf("         zones: lower %d members, upper %d members\n",
			l.LowerZone().MemberChannels, l.UpperZone().MemberChannels)
	})

	fmt.Printf("Listening to %s. Ctrl+C to exit.\n", in.String())
	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		defer layout.ProcessMessage(msg)
		ch, ok := mpe.MessageChannel(msg)
		if !ok {
			fmt.Printf("[%6d]       %s\n", timestampms, msg)
			return
		}
		fmt.Printf("[%6d] ch %2d %s\n", timestampms, ch, msg)
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer stop()

	select {}
}

func pollDevices() {
	fmt.Println("Polling for device changes every 2 seconds...")
	fmt.Println("Connect/disconnect devices to test. Ctrl+C to exit.")

	lastIn := ""
	lastOut := ""

	for {
		ins := midi.GetInPorts()
		outs := midi.GetOutPorts()

		// Build current state
		var inNames, outNames []string
		for _, p := range ins {
			inNames = append(inNames, p.String())
		}
		for _, p := range outs {
			outNames = append(outNames, p.String())
		}

		currentIn := strings.Join(inNames, ",")
		currentOut := strings.Join(outNames, ",")

		if currentIn != lastIn || currentOut != lastOut {
			fmt.Printf("\n[%s] Device change detected!\n", time.Now().Format("15:04:05"))
			fmt.Printf("  Inputs: %v\n", inNames)
			fmt.Printf("  Outputs: %v\n", outNames)

			lastIn = currentIn
			lastOut = currentOut
		}

		time.Sleep(2 * time.Second)
	}
}

func zoneArg(args []string) (mpe.Zone, []string, bool) {
	if len(args) < 1 {
		usage()
		return mpe.Zone{}, nil, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Bad member count %q\n", args[0])
		return mpe.Zone{}, nil, false
	}
	return mpe.NewZone(mpe.LowerZone, n), args[1:], true
}

func simulateAssign(args []string) {
	zone, notes, ok := zoneArg(args)
	if !ok {
		return
	}
	a := mpe.NewChannelAssigner(zone)

	for _, s := range notes {
		n, err := strconv.Atoi(s)
		if err != nil {
			fmt.Printf("Bad note %q\n", s)
			return
		}
		if n < 0 || s == "-0" {
			if ch, ok := a.Lookup(-n); ok {
				a.ReleaseOn(-n, ch)
				fmt.Printf("off %3d  ch %2d\n", -n, ch)
			} else {
				fmt.Printf("off %3d  not playing\n", -n)
			}
			continue
		}
		fmt.Printf("on  %3d  ch %2d\n", n, a.Assign(n))
	}
}

func simulateRemap(args []string) {
	zone, pairs, ok := zoneArg(args)
	if !ok {
		return
	}
	r := mpe.NewChannelRemapper(zone)

	for _, s := range pairs {
		src, chStr, found := strings.Cut(s, ":")
		id, err1 := strconv.Atoi(src)
		ch, err2 := strconv.Atoi(chStr)
		if !found || err1 != nil || err2 != nil || ch < 1 || ch > 16 {
			fmt.Printf("Bad pair %q (want source:channel)\n", s)
			return
		}

		msg := r.Remap(midi.NoteOn(uint8(ch-1), 60, 100), mpe.SourceID(id))
		out, ok := mpe.MessageChannel(msg)
		if !ok || out == zone.MasterChannel() {
			fmt.Printf("%3d:%-2d  master, not remapped\n", id, ch)
			continue
		}
		fmt.Printf("%3d:%-2d  -> ch %2d\n", id, ch, out)
	}
}
