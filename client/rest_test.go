package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestREST_Headers(t *testing.T) {
	vc, srv, _ := setupVoice(t)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	require.NoError(t, vc.Pause(ctx))

	call := srv.LastRESTCall(t, testWait)
	assert.Equal(t, "POST", call.Method)
	assert.Equal(t, "/pause", call.Path)
	assert.Equal(t, DefaultPassword, call.Header.Get("Authorization"))
	assert.Equal(t, "900000000000000001", call.Header.Get("User-ID"))
	assert.Equal(t, "g1", call.Header.Get("Guild-ID"))
	assert.Equal(t, "vc-g1", call.Header.Get("VoiceClient-ID"))
}

func TestREST_StatusError(t *testing.T) {
	vc, srv, _ := setupVoice(t)
	srv.Respond("POST", "/skip", 404, map[string]any{"error": "not playing"})

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	err := vc.Skip(ctx, 1)

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 404, status.Code)
}

func TestREST_TracebackBecomesRemoteError(t *testing.T) {
	vc, srv, _ := setupVoice(t)
	srv.Respond("POST", "/seek", 200, map[string]any{
		"traceback": map[string]any{"NotSeekable": "live stream"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	err := vc.Seek(ctx, 30)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Error(), "NotSeekable")
}

func TestREST_GetCurrentDecodes(t *testing.T) {
	vc, srv, _ := setupVoice(t)
	srv.Respond("GET", "/current", 200, map[string]any{
		"_type": "AudioSource", "tag": "t1", "title": "song", "duration": 60.0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	current, err := vc.GetCurrent(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "song", current.Title)
	assert.Same(t, current, vc.Current())

	call := srv.LastRESTCall(t, testWait)
	assert.Equal(t, "GET", call.Method)
	assert.Equal(t, "/current", call.Path)
}

func TestREST_LoadSource(t *testing.T) {
	vc, srv, _ := setupVoice(t)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	t.Run("Single", func(t *testing.T) {
		srv.Respond("POST", "/loadSource", 200, map[string]any{
			"source": map[string]any{"_type": "AudioData", "tag": "a", "title": "one"},
		})
		sources, err := vc.LoadSource(ctx, "one")
		require.NoError(t, err)
		require.Len(t, sources, 1)
		assert.Equal(t, "one", sources[0].Title)

		call := srv.LastRESTCall(t, testWait)
		assert.JSONEq(t, `{"query":"one"}`, string(call.Body))
	})

	t.Run("Playlist", func(t *testing.T) {
		srv.Respond("POST", "/loadSource", 200, map[string]any{
			"source": []any{
				map[string]any{"_type": "AudioData", "tag": "a"},
				map[string]any{"_type": "AudioData", "tag": "b"},
			},
		})
		sources, err := vc.LoadSource(ctx, "playlist")
		require.NoError(t, err)
		assert.Len(t, sources, 2)
	})
}

func TestREST_SearchAndGetSource(t *testing.T) {
	vc, srv, _ := setupVoice(t)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	srv.Respond("GET", "/getSource", 200, map[string]any{
		"source": map[string]any{"_type": "AudioData", "tag": "a", "title": "one"},
	})
	source, err := vc.GetSource(ctx, "one")
	require.NoError(t, err)
	require.NotNil(t, source)
	assert.Equal(t, "one", source.Title)

	call := srv.LastRESTCall(t, testWait)
	assert.Equal(t, "one", call.Query.Get("query"))

	srv.Respond("GET", "/searchSources", 200, map[string]any{
		"sources": []any{
			map[string]any{"_type": "AudioData", "tag": "a"},
			map[string]any{"_type": "AudioData", "tag": "b"},
		},
	})
	sources, err := vc.SearchSources(ctx, "query")
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestREST_QueueEntryOps(t *testing.T) {
	vc, srv, _ := setupVoice(t)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	require.NoError(t, vc.MoveQueueSource(ctx, "tag-a", 2))
	call := srv.LastRESTCall(t, testWait)
	assert.Equal(t, "POST", call.Method)
	assert.Equal(t, "/queue/tag-a", call.Path)
	assert.JSONEq(t, `{"index":2}`, string(call.Body))

	require.NoError(t, vc.RemoveQueueSource(ctx, "tag-a"))
	call = srv.LastRESTCall(t, testWait)
	assert.Equal(t, "DELETE", call.Method)
	assert.Equal(t, "/queue/tag-a", call.Path)
}

func TestREST_Context(t *testing.T) {
	vc, srv, _ := setupVoice(t)
	srv.Respond("POST", "/context", 200, map[string]any{
		"guild_id": "g1",
		"context":  map[string]any{"text_channel": "t1"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	out, err := vc.SetContext(ctx, map[string]any{"text_channel": "t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", out["text_channel"])
	assert.Equal(t, "t1", vc.Context()["text_channel"])
}
