package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Payload type discriminators used by the node.
const (
	TagAudioData   = "AudioData"
	TagAudioSource = "AudioSource"
)

// DecodeFunc turns one tagged JSON object into its domain type.
type DecodeFunc func(raw json.RawMessage) (any, error)

var (
	tagMu       sync.RWMutex
	tagRegistry = map[string]DecodeFunc{
		TagAudioData:   decodeAudioData,
		TagAudioSource: decodeAudioSource,
	}
)

// RegisterTag installs a decoder for a `_type` discriminator. Existing
// registrations are replaced.
func RegisterTag(tag string, fn DecodeFunc) {
	tagMu.Lock()
	defer tagMu.Unlock()
	tagRegistry[tag] = fn
}

func lookupTag(tag string) (DecodeFunc, bool) {
	tagMu.RLock()
	defer tagMu.RUnlock()
	fn, ok := tagRegistry[tag]
	return fn, ok
}

func decodeAudioData(raw json.RawMessage) (any, error) {
	var d AudioData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", TagAudioData, err)
	}
	d.raw = append(json.RawMessage(nil), raw...)
	return &d, nil
}

func decodeAudioSource(raw json.RawMessage) (any, error) {
	var s AudioSource
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", TagAudioSource, err)
	}
	s.raw = append(json.RawMessage(nil), raw...)
	return &s, nil
}

// DecodeValue reconstructs domain objects inside an arbitrary payload.
// Objects carrying a known `_type` become their registered type; other
// containers are recursed into; everything else passes through unchanged.
// Numbers stay json.Number so snowflake ids survive undamaged.
func DecodeValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, err
		}
		if tagRaw, ok := fields["_type"]; ok {
			var tag string
			if err := json.Unmarshal(tagRaw, &tag); err == nil {
				if fn, ok := lookupTag(tag); ok {
					return fn(trimmed)
				}
			}
		}
		out := make(map[string]any, len(fields))
		for k, v := range fields {
			dv, err := DecodeValue(v)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			dv, err := DecodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, dv)
		}
		return out, nil
	default:
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
