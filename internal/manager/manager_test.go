//go:build test

package manager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blemux/internal/manager"
	"github.com/srg/blemux/internal/testutils"
	"github.com/srg/blemux/internal/transport"
)

type ManagerTestSuite struct {
	testutils.MockTransportSuite
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (s *ManagerTestSuite) SetupTest() {
	s.MockTransportSuite.SetupTest()
	s.Transport.AddPeripheral(testutils.NewPeripheral("AA:BB:CC:DD:EE:FF").
		WithName("Oximeter").
		WithService("49535343-FE7D-4AE5-8FA9-9FAFD205E455").
		WithCharacteristic("49535343-1E4D-4BD9-BA61-23C647249616", "notify", nil).
		Build())
}

func (s *ManagerTestSuite) TestDestroyCancelsPendingOperations() {
	// GOAL: Verify one Destroy settles every in-flight operation with a
	// manager-destroyed error instead of leaving callers hanging.
	//
	// TEST SCENARIO: Three operations parked on the transport →
	// Destroy → all three return manager-destroyed promptly.
	s.Transport.Hold("connect")

	const pending = 3
	errs := make(chan error, pending)
	for i := 0; i < pending; i++ {
		go func() {
			_, err := s.Manager.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", nil)
			errs <- err
		}()
	}
	time.Sleep(30 * time.Millisecond)

	s.Require().NoError(s.Manager.Destroy())

	for i := 0; i < pending; i++ {
		select {
		case err := <-errs:
			s.True(transport.IsCode(err, transport.CodeManagerDestroyed),
				"pending operation MUST settle as manager-destroyed, got %v", err)
		case <-time.After(2 * time.Second):
			s.FailNow("pending operation MUST settle on destroy")
		}
	}
}

func (s *ManagerTestSuite) TestOperationsAfterDestroyFailFast() {
	s.Require().NoError(s.Manager.Destroy())

	start := time.Now()
	_, err := s.Manager.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", nil)
	elapsed := time.Since(start)

	s.True(transport.IsCode(err, transport.CodeManagerDestroyed),
		"operation on a destroyed manager MUST fail with manager-destroyed, got %v", err)
	s.Less(elapsed, time.Second, "the failure MUST be immediate")

	_, err = s.Manager.MonitorCharacteristic("AA:BB:CC:DD:EE:FF", "x", "y",
		func(*transport.Error, *transport.Characteristic) {})
	s.True(transport.IsCode(err, transport.CodeManagerDestroyed))

	_, err = s.Manager.StartDeviceScan(nil, false, func(*transport.Error, *transport.Advertisement) {})
	s.True(transport.IsCode(err, transport.CodeManagerDestroyed))
}

func (s *ManagerTestSuite) TestDestroyFailsActiveMonitors() {
	// GOAL: Verify monitor listeners learn about the teardown, while
	// purely local listeners are dropped silently.
	var mu sync.Mutex
	var monitorErrs []*transport.Error
	stateCalls := 0

	sub, err := s.Manager.MonitorCharacteristic("AA:BB:CC:DD:EE:FF",
		"49535343-FE7D-4AE5-8FA9-9FAFD205E455", "49535343-1E4D-4BD9-BA61-23C647249616",
		func(err *transport.Error, _ *transport.Characteristic) {
			if err != nil {
				mu.Lock()
				monitorErrs = append(monitorErrs, err)
				mu.Unlock()
			}
		}, manager.WithTransactionID("mon"))
	s.Require().NoError(err)

	stateSub, err := s.Manager.OnStateChange(func(transport.State) {
		mu.Lock()
		stateCalls++
		mu.Unlock()
	})
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		for _, id := range s.Transport.ActiveMonitors() {
			if id == "mon" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	s.Require().NoError(s.Manager.Destroy())

	// Destroy waits for delivery, so the listener has the error by now.
	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(monitorErrs, 1, "monitor listener MUST receive exactly one teardown error")
	s.Equal(transport.CodeManagerDestroyed, monitorErrs[0].Code)
	s.Equal(0, stateCalls, "local listeners MUST be removed without a callback")

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		s.FailNow("monitor MUST be fully removed after destroy")
	}
	select {
	case <-stateSub.Done():
	case <-time.After(time.Second):
		s.FailNow("state listener MUST be fully removed after destroy")
	}
}

func (s *ManagerTestSuite) TestDestroyIsIdempotent() {
	s.Require().NoError(s.Manager.Destroy())
	s.Require().NoError(s.Manager.Destroy(), "second destroy MUST be a no-op")
	s.True(s.Manager.Destroyed())
}

func (s *ManagerTestSuite) TestCustomMessageTable() {
	s.Require().NoError(s.Manager.Destroy())

	s.Transport = testutils.NewMockTransport()
	s.Manager = manager.New(s.Transport, s.Logger, &manager.Options{
		Messages: transport.MessageTable{
			transport.CodeManagerDestroyed: "der Manager wurde bereits entsorgt",
		},
	})
	s.Require().NoError(s.Manager.Destroy())

	_, err := s.Manager.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "entsorgt", "configured description MUST be used for bare failures")
}

func (s *ManagerTestSuite) TestRestoreHandlerReceivesPlatformState() {
	s.Require().NoError(s.Manager.Destroy())

	restored := make(chan *transport.RestoredState, 1)
	s.Transport = testutils.NewMockTransport()
	s.Manager = manager.New(s.Transport, s.Logger, &manager.Options{
		RestoreHandler: func(st *transport.RestoredState) {
			restored <- st
		},
	})

	s.Transport.PushRestore("AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66")

	select {
	case st := <-restored:
		s.Equal([]string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66"}, st.ConnectedDeviceIDs)
	case <-time.After(2 * time.Second):
		s.FailNow("restore handler MUST be invoked")
	}
}
