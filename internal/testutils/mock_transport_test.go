package testutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemux/internal/frame"
	"github.com/srg/blemux/internal/transport"
)

func nextCompletion(t *testing.T, mt *MockTransport) transport.Completion {
	t.Helper()
	select {
	case c := <-mt.Completions():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return transport.Completion{}
	}
}

func TestMockTransportConnectSettlesWithSummary(t *testing.T) {
	mt := NewMockTransport()
	defer func() { _ = mt.Close() }()
	mt.AddPeripheral(NewPeripheral("AA:BB").WithName("Scale").Build())

	mt.Connect("AA:BB", nil, "1")
	c := nextCompletion(t, mt)

	require.Equal(t, "1", c.TxID)
	require.Nil(t, c.Err)
	p, ok := c.Value.(*transport.Peripheral)
	require.True(t, ok, "connect completion MUST carry a peripheral summary")
	assert.Equal(t, "Scale", p.Name)
}

func TestMockTransportUnknownDeviceFails(t *testing.T) {
	mt := NewMockTransport()
	defer func() { _ = mt.Close() }()

	mt.Connect("nope", nil, "1")
	c := nextCompletion(t, mt)

	require.NotNil(t, c.Err)
	assert.Equal(t, transport.CodeDeviceNotFound, c.Err.Code)
}

func TestMockTransportHoldParksCompletion(t *testing.T) {
	mt := NewMockTransport()
	defer func() { _ = mt.Close() }()
	mt.AddPeripheral(NewPeripheral("AA:BB").Build())

	mt.Hold("connect")
	mt.Connect("AA:BB", nil, "1")

	select {
	case <-mt.Completions():
		t.Fatal("held completion MUST not be emitted")
	case <-time.After(50 * time.Millisecond):
	}

	mt.Release("connect")
	c := nextCompletion(t, mt)
	assert.Equal(t, "1", c.TxID)
}

func TestMockTransportWriteRecordsFrames(t *testing.T) {
	mt := NewMockTransport()
	defer func() { _ = mt.Close() }()
	mt.AddPeripheral(NewPeripheral("AA:BB").
		WithService("FFF0").
		WithCharacteristic("FFF4", "write", nil).
		Build())

	mt.Connect("AA:BB", nil, "1")
	nextCompletion(t, mt)

	payload := []byte{0xFD, 0x37, 0x01, 0x00}
	mt.Write("AA:BB", "FFF0", "FFF4", frame.EncodeBase64(payload), true, "2")
	c := nextCompletion(t, mt)
	require.Nil(t, c.Err)

	writes := mt.Writes("AA:BB", "FFF4")
	require.Len(t, writes, 1)
	assert.Equal(t, payload, writes[0])
}

func TestMockTransportMonitorAndNotify(t *testing.T) {
	mt := NewMockTransport()
	defer func() { _ = mt.Close() }()
	mt.AddPeripheral(NewPeripheral("AA:BB").
		WithService("180D").
		WithCharacteristic("2A37", "notify", nil).
		Build())

	mt.Connect("AA:BB", nil, "1")
	nextCompletion(t, mt)
	mt.Monitor("AA:BB", "180D", "2A37", "mon")
	require.Nil(t, nextCompletion(t, mt).Err)

	mt.Notify("mon", []byte{0x00, 80})
	n := <-mt.Notifications()
	require.Equal(t, "mon", n.TxID)
	value, err := n.Char.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 80}, value)
}

func TestMockTransportScanFiltersByService(t *testing.T) {
	mt := NewMockTransport()
	defer func() { _ = mt.Close() }()
	mt.AddAdvertisements(
		NewAdvertisement("scale").WithServiceUUIDs("FFF0").Build(),
		NewAdvertisement("hr").WithServiceUUIDs("180D").Build(),
	)

	mt.Scan([]string{"180D"}, false, "s1")
	nextCompletion(t, mt)

	r := <-mt.ScanResults()
	require.Equal(t, "s1", r.TxID)
	assert.Equal(t, "hr", r.Adv.DeviceID)

	select {
	case extra := <-mt.ScanResults():
		t.Fatalf("filtered advertisement MUST not be reported, got %s", extra.Adv.DeviceID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMockTransportCancelLog(t *testing.T) {
	mt := NewMockTransport()
	defer func() { _ = mt.Close() }()

	mt.Cancel("5")
	mt.Cancel("7")
	assert.Equal(t, []string{"5", "7"}, mt.CancelCalls())
}

func TestPeripheralFromJSON(t *testing.T) {
	p, err := PeripheralFromJSON(`{
		"id": "AA:BB",
		"name": "%s",
		"services": [
			{"uuid": "180D", "characteristics": [
				{"uuid": "2A37", "properties": "read,notify", "value": "UA=="}
			]}
		]
	}`, "HeartRate")
	require.NoError(t, err)

	assert.Equal(t, "AA:BB", p.ID)
	assert.Equal(t, "HeartRate", p.Name)
	require.Len(t, p.Services, 1)
	require.Len(t, p.Services[0].Characteristics, 1)
	assert.Equal(t, []byte{0x50}, p.Services[0].Characteristics[0].Value)
}
