// Command prolinkd runs a virtual player on the local Pro DJ Link LAN
// and emits one JSON object per line for every device-found, device-lost,
// beat, and track-metadata event it observes, per the module's documented
// user-visible failure behavior: errors are emitted as JSONL events, not
// propagated. A start-up failure (loading the config file, or Connect,
// where a bind failure carries the offending port when the error text
// names one) is emitted as an error event, after which the process exits
// with status 1.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"prolink"
	"prolink/cache"
	"prolink/config"
	"prolink/device"
	"prolink/packet"
	"prolink/schema"
)

func main() {
	flags := config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	if *flags.SchemaOnly {
		emitSchema()
		return
	}

	file, err := config.Load(*flags.ConfigFile)
	if err != nil {
		emitError(err, "")
		os.Exit(1)
	}
	file = config.Merge(file, flags, pflag.CommandLine)

	cfg := prolink.Config{
		Player:                 file.ToPlayerConfig(),
		EnableVirtualRekordbox: file.EnableVirtualRekordbox,
		Rekordbox:              file.ToRekordboxConfig(),
		IdleLimit:              file.IdleLimit(),
	}

	network, err := prolink.Connect(cfg)
	if err != nil {
		emitBindOrError(err)
		os.Exit(1)
	}
	defer network.Close()

	wireEvents(network)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func wireEvents(n *prolink.Network) {
	n.DeviceFinder().OnDeviceFound(func(d *device.Device) {
		emit(event{Event: "device-found", Player: int(d.Number), Name: d.Name})
	})
	n.DeviceFinder().OnDeviceLost(func(d *device.Device) {
		emit(event{Event: "device-lost", Player: int(d.Number), Name: d.Name})
	})
	n.BeatFinder().OnBeat(func(b *packet.Beat) {
		emit(event{Event: "beat", Player: int(b.DeviceID), BPM: b.EffectiveBPM()})
	})
	n.Metadata().AddListener(func(deck cache.DeckRef, md *cache.TrackMetadata, present bool) {
		if !present || md == nil {
			return
		}
		emit(event{Event: "track-metadata", Player: int(deck.Player), Title: md.Title, Artist: md.Artist})
	})
}

// event is the JSONL envelope every line on stdout uses; unused fields
// per event kind are simply omitted by omitempty.
type event struct {
	Event  string  `json:"event"`
	Player int     `json:"player,omitempty"`
	Name   string  `json:"name,omitempty"`
	BPM    float64 `json:"bpm,omitempty"`
	Title  string  `json:"title,omitempty"`
	Artist string  `json:"artist,omitempty"`
	Error  string  `json:"error,omitempty"`
	Port   int     `json:"port,omitempty"`
}

func emit(e event) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Println(string(raw))
}

func emitError(err error, context string) {
	emit(event{Event: "error", Error: errorMessage(err, context)})
}

// emitBindOrError reports a Connect failure; §7's "start returning false
// on a bind failure is reported as a separate error event with the port
// number" is approximated here since Connect itself does not expose
// which port failed beyond its wrapped error text.
func emitBindOrError(err error) {
	msg := err.Error()
	for _, p := range []int{int(packet.PortAnnouncement), int(packet.PortBeat), int(packet.PortUpdate)} {
		if strings.Contains(msg, fmt.Sprintf(":%d", p)) {
			emit(event{Event: "error", Error: msg, Port: p})
			return
		}
	}
	emitError(err, "connect")
}

func errorMessage(err error, context string) string {
	if context == "" {
		return err.Error()
	}
	return context + ": " + err.Error()
}

func emitSchema() {
	raw, err := json.Marshal(schema.Describe())
	if err != nil {
		emitError(err, "schema")
		os.Exit(1)
	}
	fmt.Println(string(raw))
}
