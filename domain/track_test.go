package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAudioSource_PositionAt(t *testing.T) {
	asOf := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &AudioSource{Duration: 200, BasePosition: 30, AsOf: asOf.Unix()}

	assert.Equal(t, 30.0, s.PositionAt(asOf))
	assert.Equal(t, 45.0, s.PositionAt(asOf.Add(15*time.Second)))
	assert.Equal(t, 155.0, s.Duration-s.PositionAt(asOf.Add(15*time.Second)))
}

func TestAudioSource_PositionWithoutTimestamp(t *testing.T) {
	s := &AudioSource{BasePosition: 30}
	assert.Equal(t, 30.0, s.PositionAt(time.Now()))
}
