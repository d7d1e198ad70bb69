package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestNormalizeServiceFilter(t *testing.T) {
	uuids, err := normalizeServiceFilter([]string{"180D", "0000fff0-0000-1000-8000-00805f9b34fb"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"180d", "fff0"}, uuids)
}

func TestNormalizeServiceFilter_Invalid(t *testing.T) {
	_, err := normalizeServiceFilter([]string{"not-a-uuid"})
	assert.Error(t, err)
}

func TestValidUUID(t *testing.T) {
	assert.True(t, validUUID("180d"))
	assert.True(t, validUUID("0000fff0"))
	assert.True(t, validUUID("49535343fe7d4ae58fa99fafd205e455"))
	assert.False(t, validUUID(""))
	assert.False(t, validUUID("18"))
	assert.False(t, validUUID("zzzz"))
	assert.False(t, validUUID("180D")) // normalization lowercases first
}
