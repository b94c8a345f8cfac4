package vplayer

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"prolink/metronome"
	"prolink/packet"
)

const (
	statusInterval = 200 * time.Millisecond
	// beatAvoidanceWindowMs is how close (in ms) to a beat boundary the
	// status sender will sleep and re-poll rather than risk overlapping
	// a beat packet.
	beatAvoidanceWindowMs = 8.0
	beatSendThresholdMs   = 10.0
	beatSendEarlyMs       = 5 * time.Millisecond
)

// statusSender runs Phase D: periodic CDJ-status broadcast, and
// (conditionally) the beat-sender subtask.
type statusSender struct {
	number   packet.DeviceID
	name     string
	h        *handoff
	tracker  *updateTracker
	clock    *metronome.Metronome
	clockMu  *sync.Mutex

	playing atomic.Bool
	synced  atomic.Bool
	onAir   atomic.Bool

	timelineChanged chan struct{}

	packetCounter uint32
	lastSentBeat  int64
}

func newStatusSender(number packet.DeviceID, name string, h *handoff, tracker *updateTracker, clock *metronome.Metronome, clockMu *sync.Mutex) *statusSender {
	return &statusSender{
		number:          number,
		name:            name,
		h:               h,
		tracker:         tracker,
		clock:           clock,
		clockMu:         clockMu,
		timelineChanged: make(chan struct{}, 1),
	}
}

func (s *statusSender) notifyTimelineChanged() {
	select {
	case s.timelineChanged <- struct{}{}:
	default:
	}
}

func (s *statusSender) snapshot() metronome.Snapshot {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.clock.Snapshot(time.Now())
}

// avoidBeatPacket polls the metronome until either playback stops or
// we are safely clear of a beat boundary.
func (s *statusSender) avoidBeatPacket() metronome.Snapshot {
	for s.playing.Load() {
		snap := s.snapshot()
		msIntoBeat := snap.BeatPhase * s.beatIntervalMs()
		distance := msIntoBeat
		if distance > s.beatIntervalMs()/2 {
			distance = s.beatIntervalMs() - distance
		}
		if distance > beatAvoidanceWindowMs {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	return s.snapshot()
}

func (s *statusSender) beatIntervalMs() float64 {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return 60000.0 / s.clock.TempoBPM()
}

// buildStatus assembles the ~204-byte CDJ status packet for the
// current instant.
func (s *statusSender) buildStatus() []byte {
	snap := s.avoidBeatPacket()

	var flags uint8
	if s.playing.Load() {
		flags |= packet.FlagPlaying
	}
	if s.h.isMaster() {
		flags |= packet.FlagMaster
	}
	if s.synced.Load() {
		flags |= packet.FlagSynced
	}
	if s.onAir.Load() {
		flags |= packet.FlagOnAir
	}

	handoffTarget := packet.DeviceID(packet.NoHandoffTarget)
	s.h.mu.Lock()
	if s.h.state == stateMaster && s.h.nextMaster != 0 {
		handoffTarget = s.h.nextMaster
	}
	s.h.mu.Unlock()

	s.packetCounter++

	st := &packet.CDJStatus{
		DeviceName:    s.name,
		DeviceID:      s.number,
		PlayState:     s.currentPlayState(),
		StatusFlags:   flags,
		BPMTimes100:   uint16(s.beatIntervalMsToBPM() * 100),
		HandoffTarget: handoffTarget,
		BeatWithinBar: uint8(snap.BeatWithinBar),
	}
	return packet.EncodeCDJStatus(st)
}

func (s *statusSender) beatIntervalMsToBPM() float64 {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.clock.TempoBPM()
}

func (s *statusSender) currentPlayState() packet.PlayState {
	if s.playing.Load() {
		return packet.PlayStatePlaying
	}
	return packet.PlayStatePaused
}

// run broadcasts status every statusInterval to every address in
// peers() until stop is closed.
func (s *statusSender) run(stop <-chan struct{}, conn *net.UDPConn, peers func() []*net.UDPAddr) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			buf := s.buildStatus()
			for _, addr := range peers() {
				conn.WriteToUDP(buf, addr)
			}
		}
	}
}

// runBeatSender implements the beat-sender subtask: each loop it
// samples the metronome, and if within beatSendThresholdMs past a
// beat not yet sent this cycle, broadcasts a Beat packet; otherwise it
// sleeps until next_beat-5ms, waking early on a timeline-changed
// signal. Torn down when playing becomes false.
func (s *statusSender) runBeatSender(stop <-chan struct{}, conn *net.UDPConn, broadcastAddr *net.UDPAddr) {
	for {
		if !s.playing.Load() {
			return
		}

		snap := s.snapshot()
		msIntoBeat := snap.BeatPhase * s.beatIntervalMs()

		if msIntoBeat <= beatSendThresholdMs && snap.Beat != s.lastSentBeat {
			s.lastSentBeat = snap.Beat
			buf := packet.EncodeBeat(&packet.Beat{
				DeviceName:    s.name,
				DeviceID:      s.number,
				BPMTimes100:   uint16(s.beatIntervalMsToBPM() * 100),
				BeatWithinBar: uint8(snap.BeatWithinBar),
				NextBeat:      packet.NoBeatYet,
				SecondBeat:    packet.NoBeatYet,
				NextBar:       packet.NoBeatYet,
				FourthBeat:    packet.NoBeatYet,
				SecondBar:     packet.NoBeatYet,
				EighthBeat:    packet.NoBeatYet,
			})
			conn.WriteToUDP(buf, broadcastAddr)
			continue
		}

		remaining := time.Duration((s.beatIntervalMs()-msIntoBeat)*float64(time.Millisecond)) - beatSendEarlyMs
		if remaining < 0 {
			remaining = 0
		}

		select {
		case <-stop:
			return
		case <-s.timelineChanged:
		case <-time.After(remaining):
		}
	}
}
