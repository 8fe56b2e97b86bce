// Package input bridges external note sources, MIDI keyboards and the
// voice pitch detector, into the transport's judgment queue.
package input

import (
	"fmt"
	"log"
	"sync"

	"gitlab.com/gomidi/midi/v2"

	"github.com/notefall/trainerd/internal/notes"
)

// Sink receives note events from an input bridge. The transport
// controller satisfies this.
type Sink interface {
	Input(ev notes.InputEvent)
	InputRelease(pitch int)
}

// MIDIBridge listens on a MIDI input port and forwards note on/off
// messages to a sink. Events carry no timestamp; the sink stamps them
// with the logical time at arrival.
type MIDIBridge struct {
	mu   sync.Mutex
	sink Sink
	stop func()
	port string
}

// NewMIDIBridge creates an unconnected bridge.
func NewMIDIBridge(sink Sink) *MIDIBridge {
	return &MIDIBridge{sink: sink}
}

// Ports lists the MIDI input ports visible through the registered
// driver. Empty when no driver or no hardware is present.
func Ports() []string {
	var names []string
	for _, in := range midi.GetInPorts() {
		names = append(names, in.String())
	}
	return names
}

// Connect opens the named port and starts listening. An empty name
// picks the first available port. Connecting twice disconnects first.
func (b *MIDIBridge) Connect(portName string) error {
	b.Disconnect()

	ports := midi.GetInPorts()
	if len(ports) == 0 {
		return fmt.Errorf("no MIDI input ports available")
	}

	in := ports[0]
	if portName != "" {
		found, err := midi.FindInPort(portName)
		if err != nil {
			return fmt.Errorf("MIDI port %q: %w", portName, err)
		}
		in = found
	}

	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			b.sink.Input(notes.InputEvent{Pitch: int(key), Velocity: int(vel)})
		case msg.GetNoteEnd(&ch, &key):
			b.sink.InputRelease(int(key))
		}
	}, midi.UseSysEx())
	if err != nil {
		return fmt.Errorf("listen on MIDI port %q: %w", in.String(), err)
	}

	b.mu.Lock()
	b.stop = stop
	b.port = in.String()
	b.mu.Unlock()

	log.Printf("[MIDI] Connected to %s", in.String())
	return nil
}

// Port returns the connected port name, or empty.
func (b *MIDIBridge) Port() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}

// Disconnect stops listening. Safe to call while disconnected.
func (b *MIDIBridge) Disconnect() {
	b.mu.Lock()
	stop := b.stop
	b.stop = nil
	b.port = ""
	b.mu.Unlock()

	if stop != nil {
		stop()
		log.Printf("[MIDI] Disconnected")
	}
}
