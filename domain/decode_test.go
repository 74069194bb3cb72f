package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValue_TaggedObjects(t *testing.T) {
	t.Run("AudioData", func(t *testing.T) {
		raw := json.RawMessage(`{"_type":"AudioData","tag":"abc","title":"song","duration":213.5}`)
		v, err := DecodeValue(raw)
		require.NoError(t, err)

		d, ok := v.(*AudioData)
		require.True(t, ok)
		assert.Equal(t, "abc", d.Tag)
		assert.Equal(t, "song", d.Title)
		assert.Equal(t, 213.5, d.Duration)
	})

	t.Run("AudioSource", func(t *testing.T) {
		raw := json.RawMessage(`{"_type":"AudioSource","tag":"abc","position":42.0,"seekable":true}`)
		v, err := DecodeValue(raw)
		require.NoError(t, err)

		s, ok := v.(*AudioSource)
		require.True(t, ok)
		assert.Equal(t, 42.0, s.BasePosition)
		assert.True(t, s.Seekable)
	})

	t.Run("UnknownTagPassesThrough", func(t *testing.T) {
		raw := json.RawMessage(`{"_type":"Mystery","x":1}`)
		v, err := DecodeValue(raw)
		require.NoError(t, err)

		m, ok := v.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Mystery", m["_type"])
	})
}

func TestDecodeValue_Nested(t *testing.T) {
	raw := json.RawMessage(`{
		"guild_id": "123456789012345678",
		"entries": [
			{"_type":"AudioData","tag":"a","title":"first"},
			{"_type":"AudioData","tag":"b","title":"second"}
		]
	}`)
	v, err := DecodeValue(raw)
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok)
	entries, ok := m["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.IsType(t, &AudioData{}, entries[0])
	assert.IsType(t, &AudioData{}, entries[1])
}

func TestDecodeValue_SnowflakesKeepPrecision(t *testing.T) {
	raw := json.RawMessage(`{"guild_id": 868594099370926162}`)
	v, err := DecodeValue(raw)
	require.NoError(t, err)

	m := v.(map[string]any)
	n, ok := m["guild_id"].(json.Number)
	require.True(t, ok)
	assert.Equal(t, "868594099370926162", n.String())
}

func TestDecodeValue_Scalars(t *testing.T) {
	v, err := DecodeValue(json.RawMessage(`"hello"`))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = DecodeValue(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = DecodeValue(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDecodeValue_RegisterTag(t *testing.T) {
	type custom struct{ Name string }
	RegisterTag("Custom", func(raw json.RawMessage) (any, error) {
		var c struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &custom{Name: c.Name}, nil
	})

	v, err := DecodeValue(json.RawMessage(`{"_type":"Custom","name":"x"}`))
	require.NoError(t, err)
	require.IsType(t, &custom{}, v)
	assert.Equal(t, "x", v.(*custom).Name)
}

func TestAudioData_RoundTrip(t *testing.T) {
	raw := `{"_type":"AudioData","tag":"a","title":"song","extra_field":{"kept":true}}`
	v, err := DecodeValue(json.RawMessage(raw))
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}
