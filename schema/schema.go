// Package schema lets a caller — human or AI agent — discover this
// module's public operations without reading source: Describe returns a
// JSON-serializable description of every operation, its parameters, and
// the external inputs/outputs it touches.
package schema

import "encoding/json"

// ParamInfo documents one operation parameter.
type ParamInfo struct {
	Name        string
	Type        string // "int", "float", "string", "bool", "function"
	Description string
	Unit        string // "bpm", "ms", "percent", etc.
	Min         float64
	Max         float64
	HasRange    bool
}

// MarshalJSON omits min/max unless HasRange is set, since a zero value
// here usually means "no range", not "range is 0..0".
func (p ParamInfo) MarshalJSON() ([]byte, error) {
	type wire struct {
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		Description string   `json:"description"`
		Unit        string   `json:"unit,omitempty"`
		Min         *float64 `json:"min,omitempty"`
		Max         *float64 `json:"max,omitempty"`
	}
	w := wire{Name: p.Name, Type: p.Type, Description: p.Description, Unit: p.Unit}
	if p.HasRange {
		w.Min, w.Max = &p.Min, &p.Max
	}
	return json.Marshal(w)
}

// CommandInfo documents one public operation.
type CommandInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamInfo `json:"params"`
	Returns     string      `json:"returns"`
}

// IoInfo documents one external input or output surface.
type IoInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"` // "json", "binary", "jsonl", etc.
	Shape       string `json:"shape,omitempty"`
}

// ApiSchema is the complete self-description this module returns for
// `--schema` or a `{"cmd":"describe_api"}` request.
type ApiSchema struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Description string        `json:"description"`
	Commands    []CommandInfo `json:"commands"`
	Inputs      []IoInfo      `json:"inputs"`
	Outputs     []IoInfo      `json:"outputs"`
}

// Version is this module's reported schema version, set at build time
// if the caller wants to stamp a real release version in.
var Version = "dev"

// Describe returns the schema for this module's public surface: device
// discovery, the virtual player/Virtual Rekordbox lifecycle, beat/status
// listening, and the track-data cache Finders.
func Describe() ApiSchema {
	return ApiSchema{
		Name:        "prolink",
		Version:     Version,
		Description: "Pioneer Pro DJ Link protocol client for Go. Discovers DJ devices on the network via UDP and receives beat/tempo/track-metadata information.",
		Commands: []CommandInfo{
			{
				Name:        "connect",
				Description: "Start device discovery, beat listening, and the virtual player/Virtual Rekordbox lifecycle",
				Returns:     "Network, error",
			},
			{
				Name:        "close",
				Description: "Stop every listener and release claimed device numbers",
				Returns:     "void",
			},
			{
				Name:        "current_devices",
				Description: "Get the list of currently discovered DJ Link devices",
				Returns:     "array of Device",
			},
			{
				Name:        "add_device_listener",
				Description: "Register a callback for device-found/device-lost events",
				Params: []ParamInfo{
					{Name: "callback", Type: "function", Description: "Function called on each device change"},
				},
				Returns: "Token",
			},
			{
				Name:        "add_beat_listener",
				Description: "Register a callback for beat events",
				Params: []ParamInfo{
					{Name: "callback", Type: "function", Description: "Function called on each beat"},
				},
				Returns: "Token",
			},
			{
				Name:        "add_status_listener",
				Description: "Register a callback for CDJ status updates",
				Params: []ParamInfo{
					{Name: "callback", Type: "function", Description: "Function called on each status packet"},
				},
				Returns: "Token",
			},
			{
				Name:        "metadata_for_deck",
				Description: "Get cached track metadata for a deck, fetching over dbserver if not already cached",
				Params: []ParamInfo{
					{Name: "player", Type: "int", Description: "Device number", Unit: "device-number", Min: 1, Max: 127, HasRange: true},
				},
				Returns: "TrackMetadata, bool (present)",
			},
			{
				Name:        "position_for_deck",
				Description: "Get the current interpolated play position for a deck",
				Params: []ParamInfo{
					{Name: "player", Type: "int", Description: "Device number", Unit: "device-number", Min: 1, Max: 127, HasRange: true},
				},
				Returns: "TrackPositionUpdate, bool (present)",
			},
		},
		Inputs: []IoInfo{
			{Name: "announce_packets", Description: "UDP device announcement packets", Format: "binary", Shape: "port 50000"},
			{Name: "beat_packets", Description: "UDP beat packets", Format: "binary", Shape: "port 50001"},
			{Name: "status_packets", Description: "UDP CDJ status/update packets", Format: "binary", Shape: "port 50002"},
			{Name: "dbserver_responses", Description: "TCP dbserver framed responses", Format: "binary", Shape: "per-player TCP connection"},
		},
		Outputs: []IoInfo{
			{Name: "device_event", Description: "A device was found or lost", Format: "json"},
			{Name: "beat_event", Description: "Beat timing information from a device", Format: "json"},
			{Name: "status_event", Description: "Full CDJ/player status update", Format: "json"},
			{Name: "track_metadata", Description: "Decoded metadata for a loaded track", Format: "json"},
			{Name: "track_position", Description: "Interpolated play position for a deck", Format: "json"},
		},
	}
}
