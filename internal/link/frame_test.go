package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frameNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseFrame_DeviceInfo(t *testing.T) {
	f := ParseFrame(`{"type":"device_info","iccid":"8933012345","serial":"","firmware_version":"3.1.0","device_name":"OTT-7"}`, frameNow)
	require.Equal(t, FrameDeviceInfo, f.Kind)
	assert.Equal(t, "8933012345", *f.Identifier.ICCID)
	assert.Nil(t, f.Identifier.Serial)
	assert.Equal(t, "OTT-7", *f.Identifier.Name)
	assert.Equal(t, "3.1.0", *f.Identifier.FirmwareVersion)
	assert.Nil(t, f.Measurement)
}

func TestParseFrame_UsbStreamAliases(t *testing.T) {
	f := ParseFrame(`{"mode":"usb_stream","seq":41,"flow":1.75,"battery":66,"rssi":-80,"interval":1000}`, frameNow)
	require.Equal(t, FrameMeasurement, f.Kind)
	m := f.Measurement
	require.NotNil(t, m)
	assert.Equal(t, int64(41), *m.Seq)
	assert.Equal(t, 1.75, *m.Flowrate)
	assert.Equal(t, 66.0, *m.Battery)
	assert.Equal(t, -80.0, *m.Rssi)
	assert.Equal(t, int64(1000), *m.IntervalMs)
	assert.Nil(t, m.Latitude)
	assert.Equal(t, frameNow, m.MeasuredAt)
}

func TestParseFrame_UsbStreamPreferredKeys(t *testing.T) {
	f := ParseFrame(`{"mode":"usb_stream","flow_lpm":2.5,"flowrate":9,"battery_percent":90,"battery":10,"firmware_version":"3.2"}`, frameNow)
	require.Equal(t, FrameMeasurement, f.Kind)
	assert.Equal(t, 2.5, *f.Measurement.Flowrate)
	assert.Equal(t, 90.0, *f.Measurement.Battery)
	assert.Nil(t, f.Measurement.Rssi)
	assert.Equal(t, "3.2", *f.Identifier.FirmwareVersion)
}

func TestParseFrame_PlainAndMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"[BOOT] modem ready",
		`{"mode":"usb_stream",`,
		`{"type":"other"}`,
		`{"mode":"usb_stream","battery":"high"}`,
	} {
		assert.Equal(t, FramePlain, ParseFrame(line, frameNow).Kind, "line %q", line)
	}
}
