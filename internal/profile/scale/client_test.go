//go:build test

package scale_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blemux/internal/frame"
	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/profile/scale"
	"github.com/srg/blemux/internal/testutils"
)

type ScaleClientTestSuite struct {
	testutils.MockTransportSuite

	client *scale.Client
}

func TestScaleClientSuite(t *testing.T) {
	suite.Run(t, new(ScaleClientTestSuite))
}

func (s *ScaleClientTestSuite) SetupTest() {
	s.MockTransportSuite.SetupTest()
	s.Transport.AddPeripheral(testutils.NewPeripheral("SC:AL:E0:00:00:01").
		WithName("Bathroom Scale").
		WithService("FFF0").
		WithCharacteristic("FFF1", "write", nil).
		WithCharacteristic("FFF4", "notify", nil).
		Build())

	_, err := s.Manager.Connect(s.Context(), "SC:AL:E0:00:00:01", nil)
	s.Require().NoError(err)
	s.client = scale.NewClient(s.Manager, "SC:AL:E0:00:00:01")
}

func (s *ScaleClientTestSuite) TestCommandsReachTheCommandCharacteristic() {
	// GOAL: Verify the client routes every command through the mediated
	// write path onto FFF1, byte-identical to the pure builders.
	s.Require().NoError(s.client.SetUserProfile(s.Context(), "01a2b3c4", 35, 175, scale.GenderMale))
	s.Require().NoError(s.client.SelectUserProfile(s.Context(), "01a2b3c4", scale.UnitMetric))
	s.Require().NoError(s.client.Reset(s.Context()))

	writes := s.Transport.Writes("SC:AL:E0:00:00:01", "FFF1")
	s.Require().Len(writes, 3, "three commands MUST produce three writes")

	wantProfile, err := scale.BuildSetUserProfile("01a2b3c4", 35, 175, scale.GenderMale)
	s.Require().NoError(err)
	wantSelect, err := scale.BuildSelectUserProfile("01a2b3c4", scale.UnitMetric)
	s.Require().NoError(err)
	s.Equal(wantProfile, writes[0])
	s.Equal(wantSelect, writes[1])
	s.Equal(scale.BuildReset(), writes[2])
}

func (s *ScaleClientTestSuite) TestBadUserIDFailsWithoutTouchingTransport() {
	err := s.client.SetUserProfile(s.Context(), "nope", 35, 175, scale.GenderMale)
	s.Require().Error(err)
	s.Empty(s.Transport.Writes("SC:AL:E0:00:00:01", "FFF1"),
		"a rejected user id MUST NOT produce a write")
}

func (s *ScaleClientTestSuite) TestStreamDecodesMeasurements() {
	// GOAL: Verify the stream subscription decodes raw notify frames into
	// measurements and keeps running across an undecodable frame.
	//
	// TEST SCENARIO: Start the stream → push an interim frame, a garbage
	// frame and a stable frame → the listener sees two decoded
	// measurements plus one decode error, in order.
	var mu sync.Mutex
	var got []*scale.Measurement
	var errs []error

	sub, err := s.client.Stream(func(err error, m *scale.Measurement) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		got = append(got, m)
	}, manager.WithTransactionID("meas"))
	s.Require().NoError(err)
	defer sub.Remove()

	s.Require().Eventually(func() bool {
		for _, id := range s.Transport.ActiveMonitors() {
			if id == "meas" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "monitor MUST become active")

	interim := []byte{0xFD, 0xA0, 0x00, 0x01, 0xC2, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	interim[10] = frame.Xor8(interim[:10])
	stable := []byte{0xFD, 0xA0, 0x03, 0x02, 0xD5, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
	stable[10] = frame.Xor8(stable[:10])

	s.Transport.Notify("meas", interim)
	s.Transport.Notify("meas", []byte{0x01, 0x02})
	s.Transport.Notify("meas", stable)

	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && len(errs) == 1
	}, 2*time.Second, 5*time.Millisecond, "listener MUST see both good frames and the decode error")

	mu.Lock()
	defer mu.Unlock()
	s.InDelta(45.0, got[0].WeightKG, 0.001)
	s.False(got[0].Stable)
	s.InDelta(72.5, got[1].WeightKG, 0.001)
	s.True(got[1].Stable)
	s.Equal(512, got[1].ImpedanceOhm)
}
