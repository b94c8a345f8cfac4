// Package config loads prolink's runtime configuration: an optional
// YAML file on disk, overridden by CLI flags. Every field maps directly
// onto a prolink.Config knob; a zero value here means "let the owning
// subsystem apply its own default" (see vplayer.Config.normalize,
// vrekordbox.Config.normalize, prolink.Config.normalize).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"prolink/packet"
	"prolink/vplayer"
	"prolink/vrekordbox"
)

// File is the on-disk shape loaded from --config-file. Field names
// match the YAML keys a hand-written config file would use.
type File struct {
	DeviceNumber     int    `yaml:"device_number"`
	Role             string `yaml:"role"` // "general" or "cdj"
	NetworkInterface string `yaml:"network_interface"`
	AnnounceInterval int    `yaml:"announce_interval_ms"`
	SendStatus       bool   `yaml:"send_status"`
	DeviceName       string `yaml:"device_name"`

	EnableVirtualRekordbox bool   `yaml:"enable_virtual_rekordbox"`
	RekordboxDeviceName    string `yaml:"rekordbox_device_name"`

	IdleLimitSeconds int `yaml:"idle_limit_seconds"`
}

// Load reads and parses path. A missing path is not an error: Load
// returns a zero File so every knob falls through to its default.
func Load(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, errors.Wrapf(err, "config: read %s", path)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, errors.Wrapf(err, "config: parse %s", path)
	}
	return f, nil
}

// Flags mirrors File as CLI flags, registered against a pflag.FlagSet
// so cmd/prolinkd can parse os.Args while tests exercise a fresh set.
type Flags struct {
	ConfigFile       *string
	DeviceNumber     *int
	Role             *string
	NetworkInterface *string
	AnnounceInterval *int
	SendStatus       *bool
	DeviceName       *string

	EnableVirtualRekordbox *bool
	RekordboxDeviceName    *string

	IdleLimitSeconds *int
	SchemaOnly       *bool
}

// RegisterFlags binds every Flags field onto fs, flag names matching
// File's YAML keys with dashes in place of underscores, except
// --interface (network_interface) and --virtual-rekordbox
// (enable_virtual_rekordbox); --config-file and --schema have no YAML key.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	return &Flags{
		ConfigFile:       fs.StringP("config-file", "c", "", "Path to a YAML config file."),
		DeviceNumber:     fs.IntP("device-number", "n", 0, "Device number to claim; 0 auto-assigns."),
		Role:             fs.String("role", "", `Auto-assign starting base: "general" or "cdj".`),
		NetworkInterface: fs.StringP("interface", "i", "", "Network interface name; empty auto-selects."),
		AnnounceInterval: fs.Int("announce-interval-ms", 0, "Keep-alive broadcast interval in milliseconds."),
		SendStatus:       fs.Bool("send-status", false, "Broadcast CDJ status and beats (Phase D)."),
		DeviceName:       fs.String("device-name", "", "Name carried in this player's announcements."),

		EnableVirtualRekordbox: fs.Bool("virtual-rekordbox", false, "Start the Opus-compatibility layer."),
		RekordboxDeviceName:    fs.String("rekordbox-device-name", "", "Name carried in the virtual rekordbox node's announcements."),

		IdleLimitSeconds: fs.Int("idle-limit-seconds", 0, "Seconds an unused dbserver connection lingers before eviction."),
		SchemaOnly:       fs.Bool("schema", false, "Print this module's API schema as JSON and exit."),
	}
}

// Merge layers a parsed Flags set over a loaded File, flags winning
// whenever set (pflag reports Changed so an explicit --role=general
// can still be told apart from an unset default).
func Merge(f File, flags *Flags, fs *pflag.FlagSet) File {
	if fs.Changed("device-number") {
		f.DeviceNumber = *flags.DeviceNumber
	}
	if fs.Changed("role") {
		f.Role = *flags.Role
	}
	if fs.Changed("interface") {
		f.NetworkInterface = *flags.NetworkInterface
	}
	if fs.Changed("announce-interval-ms") {
		f.AnnounceInterval = *flags.AnnounceInterval
	}
	if fs.Changed("send-status") {
		f.SendStatus = *flags.SendStatus
	}
	if fs.Changed("device-name") {
		f.DeviceName = *flags.DeviceName
	}
	if fs.Changed("virtual-rekordbox") {
		f.EnableVirtualRekordbox = *flags.EnableVirtualRekordbox
	}
	if fs.Changed("rekordbox-device-name") {
		f.RekordboxDeviceName = *flags.RekordboxDeviceName
	}
	if fs.Changed("idle-limit-seconds") {
		f.IdleLimitSeconds = *flags.IdleLimitSeconds
	}
	return f
}

// ToPlayerConfig translates the role string and raw fields into a
// vplayer.Config; an unrecognized role falls back to RoleGeneral.
func (f File) ToPlayerConfig() vplayer.Config {
	role := vplayer.RoleGeneral
	if f.Role == "cdj" {
		role = vplayer.RoleCDJLike
	}
	return vplayer.Config{
		DesiredDeviceNumber: packet.DeviceID(f.DeviceNumber),
		Role:                role,
		AnnounceInterval:    time.Duration(f.AnnounceInterval) * time.Millisecond,
		EnableStatusSending: f.SendStatus,
		DeviceName:          f.DeviceName,
		NetworkInterface:    f.NetworkInterface,
	}
}

// ToRekordboxConfig translates the rekordbox-specific fields into a
// vrekordbox.Config.
func (f File) ToRekordboxConfig() vrekordbox.Config {
	return vrekordbox.Config{
		DeviceName:       f.RekordboxDeviceName,
		AnnounceInterval: time.Duration(f.AnnounceInterval) * time.Millisecond,
		NetworkInterface: f.NetworkInterface,
	}
}

// IdleLimit converts IdleLimitSeconds to a time.Duration, 0 meaning
// "use the Connection Manager's own default".
func (f File) IdleLimit() time.Duration {
	return time.Duration(f.IdleLimitSeconds) * time.Second
}

var (
	tempDirOnce sync.Once
	tempDirPath string
	tempDirErr  error
)

// TempDir returns this process's private download directory, creating
// it on first use if necessary, named bl-<ms-since-epoch>-<n> (where <n>
// is a random UUID) per this
// library's documented convention for files an external collaborator (a
// PDB parser, an ANLZ reader) downloads on a caller's behalf. The same
// directory is returned on every call within one process.
func TempDir() (string, error) {
	tempDirOnce.Do(func() {
		dir := filepath.Join(os.TempDir(), fmt.Sprintf("bl-%d-%s", time.Now().UnixMilli(), uuid.NewString()))
		tempDirErr = os.MkdirAll(dir, 0o755)
		tempDirPath = dir
	})
	if tempDirErr != nil {
		return "", errors.Wrap(tempDirErr, "config: create temp dir")
	}
	return tempDirPath, nil
}

// PlayerSlotPath builds the path a file downloaded for a given player and
// slot should live at within TempDir, named player-P-slot-S-<filename>.
func PlayerSlotPath(player int, slot, filename string) (string, error) {
	dir, err := TempDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("player-%d-slot-%s-%s", player, slot, filename)), nil
}
