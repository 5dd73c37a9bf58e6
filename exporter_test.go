package gvio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiChiTong/gvio/quaternion"
)

func TestImplementsExporter(t *testing.T) {
	implements := func(Exporter) {}
	implements(new(CSVExporter))
}

func TestCSVExportFail(t *testing.T) {
	_, err := NewCSVExporter(StateHeaders, "/noNoNoNo/", "temp.csv")
	assert.Error(t, err, "no issue when trying to create a file in a missing directory")
}

func TestCSVExport(t *testing.T) {
	dir := t.TempDir()
	ce, err := NewCSVExporter(StateHeaders, dir, "trace.csv")
	require.NoError(t, err)

	s := NewIMUState(r3.Vector{Z: -9.81}, quaternion.Identity(), r3.Vector{}, DefaultConfig().ProcessNoise())
	s.PG = r3.Vector{X: 1, Y: 2, Z: 3}
	require.NoError(t, ce.Write(NewIMUEstimate(42, s, ScaledIdentity(IMUStateSize, 4))))
	require.NoError(t, ce.Close())

	data, err := os.ReadFile(filepath.Join(dir, "trace.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "# Creation date"))
	assert.True(t, strings.HasPrefix(lines[1], "t,roll,roll+2s,roll-2s,pitch"))
	assert.True(t, strings.HasPrefix(lines[3], "# Closing date"))

	fields := strings.Split(lines[2], ",")
	require.Len(t, fields, 1+3*IMUStateSize)
	assert.Equal(t, "42", fields[0])
	assert.Equal(t, []string{"1.000000", "4.000000", "-4.000000"}, fields[1+3*12:1+3*13])
}

func TestSaveCameraStates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.csv")
	states := []CameraState{
		NewCameraState(r3.Vector{X: 1, Y: 2, Z: 3}, quaternion.Identity()),
		NewCameraState(r3.Vector{X: 4, Y: 5, Z: 6}, quaternion.New(0, 0, 1, 0)),
	}
	require.NoError(t, SaveCameraStates(states, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"1.000000,2.000000,3.000000,0.000000,0.000000,0.000000,1.000000\n"+
			"4.000000,5.000000,6.000000,0.000000,0.000000,1.000000,0.000000\n",
		string(data))

	assert.Error(t, SaveCameraStates(states, "/noNoNoNo/window.csv"))
}
