//go:build test

package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blemux/internal/manager"
)

// MockTransportSuite is the reusable base for tests that need a live
// manager over a scripted transport. SetupTest wires a fresh
// MockTransport and Manager pair; tests configure peripherals and
// streams directly on s.Transport afterwards, the mock accepts
// configuration at any point.
//
//	type ReadSuite struct {
//	    testutils.MockTransportSuite
//	}
//
//	func (s *ReadSuite) SetupTest() {
//	    s.MockTransportSuite.SetupTest()
//	    s.Transport.AddPeripheral(testutils.NewPeripheral("AA:BB").
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80}).
//	        Build())
//	}
//
//	func TestReadSuite(t *testing.T) {
//	    suite.Run(t, new(ReadSuite))
//	}
type MockTransportSuite struct {
	suite.Suite

	Helper    *TestHelper
	Logger    *logrus.Logger
	Transport *MockTransport
	Manager   *manager.Manager

	// ManagerOptions, when set before SetupTest runs, tunes the manager
	// under test.
	ManagerOptions *manager.Options

	TestTimeout time.Duration
}

func (s *MockTransportSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.TestTimeout == 0 {
		s.TestTimeout = 10 * time.Second
	}
}

func (s *MockTransportSuite) SetupTest() {
	s.Transport = NewMockTransport()
	s.Manager = manager.New(s.Transport, s.Logger, s.ManagerOptions)
}

func (s *MockTransportSuite) TearDownTest() {
	if s.Manager != nil && !s.Manager.Destroyed() {
		s.Require().NoError(s.Manager.Destroy(), "manager MUST destroy cleanly")
	}
}

// Context returns a test-scoped context bounded by TestTimeout.
func (s *MockTransportSuite) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	s.T().Cleanup(cancel)
	return ctx
}
