package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger so the
// execution flow shows up under go test -v.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

func CreateMockAdvertisement(deviceID, name string, rssi int) *AdvertisementBuilder {
	return NewAdvertisement(deviceID).WithLocalName(name).WithRSSI(rssi)
}

func CreateMockPeripheral(deviceID string) *PeripheralBuilder {
	return NewPeripheral(deviceID)
}

func CreateMockPeripheralFromJSON(jsonStrFmt string, args ...interface{}) (*MockPeripheral, error) {
	return PeripheralFromJSON(jsonStrFmt, args...)
}

// LoadScript reads a file given relative to the project root, located
// by walking up from the working directory until go.mod is found.
func LoadScript(relPath string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		projectRoot = parent
	}

	data, err := os.ReadFile(filepath.Join(projectRoot, relPath))
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", filepath.Join(projectRoot, relPath), err)
	}

	return string(data), nil
}
