package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamiliesKeepRegistrationOrder(t *testing.T) {
	var names []string
	for _, f := range Families() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"scale", "tracker", "bpm", "glucose", "oximeter"}, names,
		"listing order MUST be registration order, not map order")
}

func TestLookup(t *testing.T) {
	f, ok := Lookup("bpm")
	require.True(t, ok)
	assert.Equal(t, "Blood pressure monitor", f.Title)
	assert.Equal(t, "ffe0", f.Endpoints.Service)
	assert.Equal(t, "ffe9", f.Endpoints.Command)

	_, ok = Lookup("toaster")
	assert.False(t, ok)
}

func TestStreamOnlyFamilyHasNoCommandEndpoint(t *testing.T) {
	f, ok := Lookup("oximeter")
	require.True(t, ok)
	assert.Empty(t, f.Endpoints.Command)
	assert.NotEmpty(t, f.Endpoints.Events)
}

func TestIdentifyMatchesNormalizedUUIDs(t *testing.T) {
	tests := []struct {
		name       string
		advertised []string
		wantFamily string
		wantOK     bool
	}{
		{
			name:       "short form",
			advertised: []string{"180a", "fee7"},
			wantFamily: "tracker",
			wantOK:     true,
		},
		{
			name:       "full 128-bit spelling of a 16-bit service",
			advertised: []string{"0000FFE0-0000-1000-8000-00805F9B34FB"},
			wantFamily: "bpm",
			wantOK:     true,
		},
		{
			name:       "vendor 128-bit service",
			advertised: []string{"49535343-FE7D-4AE5-8FA9-9FAFD205E455"},
			wantFamily: "oximeter",
			wantOK:     true,
		},
		{
			name:       "nothing recognized",
			advertised: []string{"180d", "180f"},
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := Identify(tt.advertised)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantFamily, f.Name)
			}
		})
	}
}
