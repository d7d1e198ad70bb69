//go:build test

// Code generated by dependgen — DO NOT EDIT.
package manager_test

import "github.com/srgg/testify/depend"

var SubscriptionTestSuiteTestRegistry = map[string]func(any){
	"TestMonitorsAreIsolatedByTransaction": func(s any) { s.(*SubscriptionTestSuite).TestMonitorsAreIsolatedByTransaction() },
	"TestRemovalIsIdempotent": func(s any) { s.(*SubscriptionTestSuite).TestRemovalIsIdempotent() },
	"TestCancelTransactionDeliversTerminalError": func(s any) { s.(*SubscriptionTestSuite).TestCancelTransactionDeliversTerminalError() },
	"TestStreamFailureIsTerminal": func(s any) { s.(*SubscriptionTestSuite).TestStreamFailureIsTerminal() },
	"TestGracefulEndOfStream": func(s any) { s.(*SubscriptionTestSuite).TestGracefulEndOfStream() },
	"TestMonitorStartFailureSurfacesThroughListener": func(s any) { s.(*SubscriptionTestSuite).TestMonitorStartFailureSurfacesThroughListener() },
	"TestSlowListenerLosesOldestEvents": func(s any) { s.(*SubscriptionTestSuite).TestSlowListenerLosesOldestEvents() },
	"TestDeviceScanLifecycle": func(s any) { s.(*SubscriptionTestSuite).TestDeviceScanLifecycle() },
	"TestDisconnectListenerFiltersByDevice": func(s any) { s.(*SubscriptionTestSuite).TestDisconnectListenerFiltersByDevice() },
	"TestStateChangeListener": func(s any) { s.(*SubscriptionTestSuite).TestStateChangeListener() },
}

var SubscriptionTestSuiteTestOrder = []string{
	"TestMonitorsAreIsolatedByTransaction",
	"TestRemovalIsIdempotent",
	"TestCancelTransactionDeliversTerminalError",
	"TestStreamFailureIsTerminal",
	"TestGracefulEndOfStream",
	"TestMonitorStartFailureSurfacesThroughListener",
	"TestSlowListenerLosesOldestEvents",
	"TestDeviceScanLifecycle",
	"TestDisconnectListenerFiltersByDevice",
	"TestStateChangeListener",
}

var SubscriptionTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	return dep
})

// GeneratedDependConfig returns the dependency configuration for SubscriptionTestSuite.
// This method allows SubscriptionTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *SubscriptionTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: SubscriptionTestSuiteTestRegistry,
		Order:    SubscriptionTestSuiteTestOrder,
		Deps:     SubscriptionTestSuiteDependencies,
	}
}
