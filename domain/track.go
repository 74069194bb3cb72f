// Package domain contains the immutable snapshots a node reports about
// sources and playback, plus the tagged-payload decoding they arrive in.
package domain

import (
	"encoding/json"
	"time"
)

// AudioData is a resolved source as it sits in a queue. Snapshots are never
// mutated in place; the node replaces them wholesale on each update.
type AudioData struct {
	Tag           string         `json:"tag"`
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	WebpageURL    string         `json:"webpage_url"`
	Thumbnail     string         `json:"thumbnail"`
	URL           string         `json:"url"`
	Duration      float64        `json:"duration"`
	IsLive        bool           `json:"is_live"`
	Uploader      string         `json:"uploader"`
	Description   string         `json:"description"`
	Subtitles     map[string]any `json:"subtitles"`
	Chapters      []any          `json:"chapters"`
	StartPosition float64        `json:"start_position"`
	Context       map[string]any `json:"context"`

	raw json.RawMessage
}

// MarshalJSON re-emits the exact payload the node sent, so a snapshot can be
// pushed back (putSource during node migration) without losing fields this
// struct does not model.
func (d *AudioData) MarshalJSON() ([]byte, error) {
	if len(d.raw) > 0 {
		return d.raw, nil
	}
	type alias AudioData
	return json.Marshal((*alias)(d))
}

// AudioSource is the currently playing variant of AudioData. Position is not
// a stored field: the node reports a base position and the wall-clock moment
// it was measured, and the live value is derived from those.
type AudioSource struct {
	Tag           string         `json:"tag"`
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	WebpageURL    string         `json:"webpage_url"`
	URL           string         `json:"url"`
	Duration      float64        `json:"duration"`
	IsLive        bool           `json:"is_live"`
	Uploader      string         `json:"uploader"`
	Description   string         `json:"description"`
	Subtitles     map[string]any `json:"subtitles"`
	Chapters      []any          `json:"chapters"`
	AsOf          int64          `json:"as_of"`
	BasePosition  float64        `json:"position"`
	StartPosition float64        `json:"start_position"`
	Seekable      bool           `json:"seekable"`
	Context       map[string]any `json:"context"`

	raw json.RawMessage
}

func (s *AudioSource) MarshalJSON() ([]byte, error) {
	if len(s.raw) > 0 {
		return s.raw, nil
	}
	type alias AudioSource
	return json.Marshal((*alias)(s))
}

// Position returns the playback position in seconds as of now.
func (s *AudioSource) Position() float64 {
	return s.PositionAt(time.Now())
}

// PositionAt derives the position for an arbitrary instant: the reported base
// plus the seconds elapsed since the node measured it.
func (s *AudioSource) PositionAt(t time.Time) float64 {
	if s.AsOf == 0 {
		return s.BasePosition
	}
	return s.BasePosition + float64(t.Unix()-s.AsOf)
}

// Remain returns the seconds left until the source ends.
func (s *AudioSource) Remain() float64 {
	return s.Duration - s.Position()
}
