package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"csrbridge/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMetadata = `{"interface": {"members": {"bus": {"annotations": {
	"https://amaranth-lang.org/schema/amaranth-soc/0.1/csr/bus.json": {"addr_width": 8, "data_width": 8},
	"https://amaranth-lang.org/schema/amaranth-soc/0.1/memory/memory-map.json": {
		"addr_width": 8, "data_width": 8, "alignment": 0,
		"windows": [{
			"name": ["gpio"], "start": 16, "end": 32, "ratio": 1,
			"annotations": {
				"https://amaranth-lang.org/schema/amaranth-soc/0.1/memory/memory-map.json": {
					"addr_width": 4, "data_width": 8, "alignment": 0, "windows": [],
					"resources": [
						{"name": ["input"], "start": 0, "end": 1, "annotations": {}},
						{"name": ["output"], "start": 1, "end": 2, "annotations": {}}
					]
				}
			}
		}],
		"resources": [{"name": ["id"], "start": 0, "end": 1, "annotations": {}}]
	}
}}}}}`

// runArgs runs the command with an empty configuration and the mock transport.
func runArgs(t *testing.T, args ...string) (code int, stdout, stderr string) {
	dir := t.TempDir()
	md := filepath.Join(dir, "soc.json")
	require.NoError(t, os.WriteFile(md, []byte(testMetadata), 0o644))

	var out, errOut bytes.Buffer
	base := []string{"-c", filepath.Join(dir, "none.toml"), "-t", "mock:", "-m", md}
	code = run(append(base, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_Drivers(t *testing.T) {
	code, out, _ := runArgs(t, "drivers")
	require.Equal(t, exitSuccess, code)
	assert.Equal(t, []string{"grpc", "mock", "serial", "tcp", "usb", "ws"}, strings.Fields(out))
}

func TestRun_Capabilities(t *testing.T) {
	code, out, _ := runArgs(t, "capabilities")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "access_8b=true")
	assert.Contains(t, out, "addr_width=8")
	assert.Contains(t, out, "data_width=8")
}

func TestRun_CSRList(t *testing.T) {
	code, out, _ := runArgs(t, "csr", "list")
	require.Equal(t, exitSuccess, code)
	assert.Equal(t, "*: \n gpio: \n  input: reg 0x10\n  output: reg 0x11\n id: reg 0x0\n", out)
}

func TestRun_CSRReadWrite(t *testing.T) {
	code, out, _ := runArgs(t, "csr", "read", "gpio.output")
	require.Equal(t, exitSuccess, code)
	assert.Equal(t, "gpio.output: 0x0\n", out)

	code, out, _ = runArgs(t, "csr", "write", "gpio.output", "0x5a")
	require.Equal(t, exitSuccess, code)
	assert.Empty(t, out)
}

func TestRun_UsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"bogus"},
		{"csr"},
		{"csr", "read"},
		{"csr", "read", "gpio"},
		{"csr", "read", "gpio.nope"},
		{"csr", "write", "gpio.output", "0x100"},
		{"-x"},
		{"serve", "-tcp", ""},
		{"serve", "-bogus"},
	} {
		code, _, _ := runArgs(t, args...)
		assert.Equal(t, exitUsage, code, "%q", args)
	}
}

func TestRun_Failure(t *testing.T) {
	code, _, stderr := runArgs(t, "-t", "nope://x", "capabilities")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "nope")
}

func TestRun_Help(t *testing.T) {
	code, out, _ := runArgs(t, "help")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "csr read <reg>")
}

func TestWithDriverDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Serial.VID = "0403"
	cfg.Serial.PID = "6001"

	assert.Equal(t, "serial:?baud=921600&pid=6001&vid=0403", withDriverDefaults("serial:", cfg))
	assert.Equal(t, "serial:COM3?baud=115200&pid=6001&vid=0403", withDriverDefaults("serial:COM3?baud=115200", cfg))
	assert.Equal(t, "usb:?interface=katsuo.bridge&pid=3443&vid=1209", withDriverDefaults("usb:", cfg))
	assert.Equal(t, "usb:?interface=katsuo.bridge&pid=3443&vid=16c0", withDriverDefaults("usb:?vid=16c0", cfg))
	assert.Equal(t, "tcp://127.0.0.1:7441", withDriverDefaults("tcp://127.0.0.1:7441", cfg))
}
