package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"prolink/vplayer"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, File{}, f)
}

func TestLoadEmptyPathReturnsZeroValue(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	require.Equal(t, File{}, f)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prolink.yaml")
	contents := "device_number: 3\nrole: cdj\nsend_status: true\ndevice_name: test-cdj\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, f.DeviceNumber)
	require.Equal(t, "cdj", f.Role)
	require.True(t, f.SendStatus)
	require.Equal(t, "test-cdj", f.DeviceName)
}

func TestMergeFlagsOverrideFileOnlyWhenChanged(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--device-number=7"}))

	file := File{DeviceNumber: 1, DeviceName: "from-file"}
	merged := Merge(file, flags, fs)

	require.Equal(t, 7, merged.DeviceNumber)
	require.Equal(t, "from-file", merged.DeviceName)
}

func TestToPlayerConfigDefaultsToGeneralRole(t *testing.T) {
	f := File{Role: "unknown", AnnounceInterval: 1000}
	cfg := f.ToPlayerConfig()
	require.Equal(t, vplayer.RoleGeneral, cfg.Role)
	require.Equal(t, time.Second, cfg.AnnounceInterval)
}

func TestToPlayerConfigRecognizesCDJRole(t *testing.T) {
	f := File{Role: "cdj"}
	cfg := f.ToPlayerConfig()
	require.Equal(t, vplayer.RoleCDJLike, cfg.Role)
}

func TestIdleLimitConvertsSecondsToDuration(t *testing.T) {
	f := File{IdleLimitSeconds: 5}
	require.Equal(t, 5*time.Second, f.IdleLimit())
}

func TestTempDirIsStableWithinOneProcess(t *testing.T) {
	a, err := TempDir()
	require.NoError(t, err)
	b, err := TempDir()
	require.NoError(t, err)
	require.Equal(t, a, b)

	info, err := os.Stat(a)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestPlayerSlotPathNamesFileUnderTempDir(t *testing.T) {
	dir, err := TempDir()
	require.NoError(t, err)

	path, err := PlayerSlotPath(2, "sd", "export.pdb")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "player-2-slot-sd-export.pdb"), path)
}
