package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/discodo/domain"
	"github.com/dkeye/discodo/gateway"
)

const (
	// defaultQueryTimeout bounds every correlated wait on the control channel.
	defaultQueryTimeout = 10 * time.Second

	// resyncInterval drives the passive getState refresh that corrects for
	// missed push events. Best effort; it never blocks anything else.
	resyncInterval = 300 * time.Second
)

// VoiceClient mirrors one guild's remote playback session: a local cache of
// state, options and queue, refreshed by node pushes and corrected by
// periodic resync. The remote is the source of truth; local writes are
// optimistic and overwritten by the next authoritative push.
type VoiceClient struct {
	node   *Node
	client *Client

	id      string
	guildID string

	rest  *restClient
	queue *domain.Queue

	mu        sync.RWMutex
	channelID string
	state     string
	volume    float64
	crossfade float64
	autoplay  bool
	filter    map[string]any
	context   map[string]any
	current   *domain.AudioSource
	lastSync  time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newVoiceClient(n *Node, id, guildID string) *VoiceClient {
	vc := &VoiceClient{
		node:      n,
		client:    n.client,
		id:        id,
		guildID:   guildID,
		queue:     domain.NewQueue(),
		volume:    1.0,
		crossfade: 10.0,
		autoplay:  true,
		filter:    map[string]any{},
		context:   map[string]any{},
		stopCh:    make(chan struct{}),
	}
	vc.rest = newRESTClient(vc)

	go vc.runResync()

	// Prime the queue cache; the node answers with a getQueue push.
	if err := vc.Send(gateway.OpGetQueue, nil); err != nil {
		log.Warn().Err(err).Str("module", "client.voice").Str("guild", guildID).Msg("initial queue fetch failed")
	}
	return vc
}

func (vc *VoiceClient) ID() string      { return vc.id }
func (vc *VoiceClient) GuildID() string { return vc.guildID }
func (vc *VoiceClient) Node() *Node     { return vc.node }
func (vc *VoiceClient) Queue() *domain.Queue {
	return vc.queue
}

func (vc *VoiceClient) ChannelID() string {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.channelID
}

func (vc *VoiceClient) State() string {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.state
}

func (vc *VoiceClient) Volume() float64 {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.volume
}

func (vc *VoiceClient) Crossfade() float64 {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.crossfade
}

func (vc *VoiceClient) Autoplay() bool {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.autoplay
}

func (vc *VoiceClient) Filter() map[string]any {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.filter
}

func (vc *VoiceClient) Context() map[string]any {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.context
}

// Current is the playing source snapshot, nil when idle.
func (vc *VoiceClient) Current() *domain.AudioSource {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.current
}

// Send stamps the command with this session's guild id and puts it on the
// node's control socket.
func (vc *VoiceClient) Send(op string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	data["guild_id"] = vc.guildID
	return vc.node.Send(op, data)
}

// Query is the correlated request/response primitive: register a one-shot
// wait for the event (default: same name as the command) filtered to this
// guild, send, then block up to timeout. A payload carrying a traceback fails
// the call even though the transport succeeded.
func (vc *VoiceClient) Query(ctx context.Context, op string, data map[string]any, event string, timeout time.Duration) (any, error) {
	if event == "" {
		event = op
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	ch, cancel := vc.node.emitter.waitFor(event, vc.matchGuild)
	defer cancel()

	if err := vc.Send(op, data); err != nil {
		return nil, err
	}

	timer := vc.node.clk.Timer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if err := remoteError(resp); err != nil {
			return nil, err
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrQueryTimeout, op)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (vc *VoiceClient) matchGuild(data any) bool {
	return guildIDOf(data) == vc.guildID
}

// handleEvent applies one guild-scoped push from the node.
func (vc *VoiceClient) handleEvent(op string, data any) {
	switch op {
	case gateway.OpGetState:
		vc.applyState(data)
	case gateway.OpVCChannelEdited:
		vc.mu.Lock()
		vc.channelID = idString(mapOf(data)["channel_id"])
		vc.mu.Unlock()
	case gateway.OpGetQueue:
		if entries, ok := mapOf(data)["entries"].([]any); ok {
			vc.queue.Replace(entries)
		}
	case gateway.OpQueueEvent:
		m := mapOf(data)
		name, _ := m["name"].(string)
		args, _ := m["args"].([]any)
		if err := vc.queue.Apply(name, args); err != nil {
			log.Error().Err(err).Str("module", "client.voice").Str("guild", vc.guildID).Msg("queue event rejected")
		}
	}
}

// applyState overwrites the cache with an authoritative snapshot. Last write
// wins by arrival order; there is no merging.
func (vc *VoiceClient) applyState(data any) {
	m := mapOf(data)
	if m == nil {
		return
	}

	vc.mu.Lock()
	defer vc.mu.Unlock()

	if opts := mapOf(m["options"]); opts != nil {
		if v, ok := floatOf(opts["volume"]); ok {
			vc.volume = v
		}
		if v, ok := floatOf(opts["crossfade"]); ok {
			vc.crossfade = v
		}
		if v, ok := boolOf(opts["autoplay"]); ok {
			vc.autoplay = v
		}
		if f := mapOf(opts["filter"]); f != nil {
			vc.filter = f
		}
	}

	current, _ := m["current"].(*domain.AudioSource)
	vc.current = current

	if cx := mapOf(m["context"]); cx != nil {
		vc.context = cx
	}
	if s, ok := m["state"].(string); ok {
		vc.state = s
	}
	vc.channelID = idString(m["channel_id"])
	vc.lastSync = vc.node.clk.Now()
}

func (vc *VoiceClient) runResync() {
	ticker := vc.node.clk.Ticker(resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-vc.stopCh:
			return
		case <-ticker.C:
			if err := vc.Send(gateway.OpGetState, nil); err != nil {
				log.Debug().Err(err).Str("module", "client.voice").Str("guild", vc.guildID).Msg("resync skipped")
			}
		}
	}
}

// stopTimers halts local activity without touching the registry, for paths
// that already hold or replaced the registry entry.
func (vc *VoiceClient) stopTimers() {
	vc.stopOnce.Do(func() { close(vc.stopCh) })
}

// stop halts local activity and unbinds the guild, unless a newer session
// already took the slot.
func (vc *VoiceClient) stop() {
	vc.stopTimers()
	vc.node.registry.Remove(vc.guildID, vc)
}

// FetchState actively refreshes the cache from the node.
func (vc *VoiceClient) FetchState(ctx context.Context) (any, error) {
	return vc.Query(ctx, gateway.OpGetState, nil, "", 0)
}

// FetchQueue refreshes the queue cache, over the control channel by default
// or over REST when ws is false.
func (vc *VoiceClient) FetchQueue(ctx context.Context, ws bool) (*domain.Queue, error) {
	if ws {
		if _, err := vc.Query(ctx, gateway.OpGetQueue, nil, "", 0); err != nil {
			return nil, err
		}
		return vc.queue, nil
	}
	data, err := vc.rest.getQueue(ctx)
	if err != nil {
		return nil, err
	}
	if entries, ok := mapOf(data)["entries"].([]any); ok {
		vc.queue.Replace(entries)
	}
	return vc.queue, nil
}

// GetSource resolves a query to a single source.
func (vc *VoiceClient) GetSource(ctx context.Context, query string) (*domain.AudioData, error) {
	data, err := vc.rest.getSource(ctx, query)
	if err != nil {
		return nil, err
	}
	source, _ := mapOf(data)["source"].(*domain.AudioData)
	return source, nil
}

// SearchSources resolves a query to its search results.
func (vc *VoiceClient) SearchSources(ctx context.Context, query string) ([]*domain.AudioData, error) {
	data, err := vc.rest.searchSources(ctx, query)
	if err != nil {
		return nil, err
	}
	raw, _ := mapOf(data)["sources"].([]any)
	sources := make([]*domain.AudioData, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(*domain.AudioData); ok {
			sources = append(sources, s)
		}
	}
	return sources, nil
}

// LoadSource resolves a query and enqueues the result on the node. The node
// answers with one source or a whole playlist; the caller gets a slice either
// way.
func (vc *VoiceClient) LoadSource(ctx context.Context, query string) ([]*domain.AudioData, error) {
	data, err := vc.rest.loadSource(ctx, query)
	if err != nil {
		return nil, err
	}
	switch src := mapOf(data)["source"].(type) {
	case *domain.AudioData:
		return []*domain.AudioData{src}, nil
	case []any:
		out := make([]*domain.AudioData, 0, len(src))
		for _, v := range src {
			if s, ok := v.(*domain.AudioData); ok {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return nil, nil
}

// PutSource pushes an already-resolved snapshot (or a slice of them) into the
// node's queue.
func (vc *VoiceClient) PutSource(ctx context.Context, source any) (any, error) {
	data, err := vc.rest.putSource(ctx, source)
	if err != nil {
		return nil, err
	}
	return mapOf(data)["source"], nil
}

// GetOptions reads the player options from the node.
func (vc *VoiceClient) GetOptions(ctx context.Context) (any, error) {
	return vc.rest.getOptions(ctx)
}

// SetOptions updates the player options. The local cache is updated
// optimistically; the next authoritative push wins regardless.
func (vc *VoiceClient) SetOptions(ctx context.Context, opts domain.Options) error {
	vc.mu.Lock()
	if opts.Volume != nil {
		vc.volume = *opts.Volume
	}
	if opts.Crossfade != nil {
		vc.crossfade = *opts.Crossfade
	}
	if opts.Autoplay != nil {
		vc.autoplay = *opts.Autoplay
	}
	if opts.Filter != nil {
		vc.filter = opts.Filter
	}
	vc.mu.Unlock()

	_, err := vc.rest.setOptions(ctx, opts)
	return err
}

func (vc *VoiceClient) SetVolume(ctx context.Context, volume float64) error {
	return vc.SetOptions(ctx, domain.Options{Volume: &volume})
}

func (vc *VoiceClient) SetCrossfade(ctx context.Context, crossfade float64) error {
	return vc.SetOptions(ctx, domain.Options{Crossfade: &crossfade})
}

func (vc *VoiceClient) SetAutoplay(ctx context.Context, autoplay bool) error {
	return vc.SetOptions(ctx, domain.Options{Autoplay: &autoplay})
}

func (vc *VoiceClient) SetFilter(ctx context.Context, filter map[string]any) error {
	return vc.SetOptions(ctx, domain.Options{Filter: filter})
}

// FetchContext reads the session context from the node.
func (vc *VoiceClient) FetchContext(ctx context.Context) (map[string]any, error) {
	data, err := vc.rest.getContext(ctx)
	if err != nil {
		return nil, err
	}
	return vc.storeContext(data), nil
}

// SetContext replaces the session context on the node.
func (vc *VoiceClient) SetContext(ctx context.Context, value map[string]any) (map[string]any, error) {
	data, err := vc.rest.setContext(ctx, value)
	if err != nil {
		return nil, err
	}
	return vc.storeContext(data), nil
}

func (vc *VoiceClient) storeContext(data any) map[string]any {
	cx := mapOf(mapOf(data)["context"])
	if cx == nil {
		cx = map[string]any{}
	}
	vc.mu.Lock()
	vc.context = cx
	vc.mu.Unlock()
	return cx
}

// GetCurrent reads the playing source from the node.
func (vc *VoiceClient) GetCurrent(ctx context.Context) (*domain.AudioSource, error) {
	data, err := vc.rest.getCurrent(ctx)
	if err != nil {
		return nil, err
	}
	current, _ := data.(*domain.AudioSource)
	vc.mu.Lock()
	vc.current = current
	vc.mu.Unlock()
	return current, nil
}

func (vc *VoiceClient) Skip(ctx context.Context, offset int) error {
	_, err := vc.rest.skip(ctx, offset)
	return err
}

func (vc *VoiceClient) Seek(ctx context.Context, offset float64) error {
	_, err := vc.rest.seek(ctx, offset)
	return err
}

func (vc *VoiceClient) Pause(ctx context.Context) error {
	_, err := vc.rest.pause(ctx)
	return err
}

func (vc *VoiceClient) Resume(ctx context.Context) error {
	_, err := vc.rest.resume(ctx)
	return err
}

// Shuffle reorders the remote queue and refreshes the local cache from the
// response.
func (vc *VoiceClient) Shuffle(ctx context.Context) (*domain.Queue, error) {
	data, err := vc.rest.shuffle(ctx)
	if err != nil {
		return nil, err
	}
	if entries, ok := mapOf(data)["entries"].([]any); ok {
		vc.queue.Replace(entries)
	}
	return vc.queue, nil
}

// RequestSubtitle asks the node to stream subtitles by language or by
// explicit url.
func (vc *VoiceClient) RequestSubtitle(ctx context.Context, lang, url string) (any, error) {
	if lang == "" && url == "" {
		return nil, ErrSubtitleQuery
	}
	data := map[string]any{}
	if url != "" {
		data["url"] = url
	} else {
		data["lang"] = lang
	}
	return vc.Query(ctx, gateway.OpRequestSubtitle, data, "", 0)
}

// QueueSource reads one queue entry by its tag.
func (vc *VoiceClient) QueueSource(ctx context.Context, tag string) (any, error) {
	return vc.rest.getQueueSource(ctx, tag)
}

// MoveQueueSource reorders one queue entry to the given index.
func (vc *VoiceClient) MoveQueueSource(ctx context.Context, tag string, index int) error {
	_, err := vc.rest.setQueueSource(ctx, tag, map[string]any{"index": index})
	return err
}

// SeekQueueSource sets the position a queue entry will start playing from.
func (vc *VoiceClient) SeekQueueSource(ctx context.Context, tag string, startPosition float64) error {
	_, err := vc.rest.setQueueSource(ctx, tag, map[string]any{"start_position": startPosition})
	return err
}

// RemoveQueueSource drops one queue entry by its tag.
func (vc *VoiceClient) RemoveQueueSource(ctx context.Context, tag string) error {
	_, err := vc.rest.removeQueueSource(ctx, tag)
	return err
}

// SetSourceContext attaches caller data to a queue entry, or to the playing
// source when tag is empty.
func (vc *VoiceClient) SetSourceContext(ctx context.Context, tag string, value map[string]any) (map[string]any, error) {
	var data any
	var err error
	if tag == "" {
		data, err = vc.rest.setCurrent(ctx, map[string]any{"context": value})
	} else {
		data, err = vc.rest.setQueueSource(ctx, tag, map[string]any{"context": value})
	}
	if err != nil {
		return nil, err
	}
	return mapOf(mapOf(data)["context"]), nil
}

// SeekPosition reads the node-side seek position.
func (vc *VoiceClient) SeekPosition(ctx context.Context) (any, error) {
	return vc.rest.getSeek(ctx)
}

// MoveTo relocates this guild's session onto another node: connect the same
// channel there, then replicate options, context, the playing source and the
// queue. The session here is torn down by the old node's VC_DESTROYED, not by
// this call.
func (vc *VoiceClient) MoveTo(ctx context.Context, target *Node) (*VoiceClient, error) {
	if target == nil || target == vc.node {
		return nil, ErrAlreadyOnNode
	}
	channelID := vc.ChannelID()
	if channelID == "" || !vc.client.platform.ResolveChannel(channelID) {
		return nil, ErrChannelNotFound
	}

	if _, err := vc.FetchState(ctx); err != nil {
		return nil, fmt.Errorf("refresh state before move: %w", err)
	}

	next, err := vc.client.Connect(ctx, vc.guildID, channelID, target)
	if err != nil {
		return nil, err
	}

	volume, crossfade, autoplay := vc.Volume(), vc.Crossfade(), vc.Autoplay()
	err = next.SetOptions(ctx, domain.Options{
		Volume:    &volume,
		Crossfade: &crossfade,
		Autoplay:  &autoplay,
		Filter:    vc.Filter(),
	})
	if err != nil {
		return nil, fmt.Errorf("replicate options: %w", err)
	}

	if cx := vc.Context(); len(cx) > 0 {
		if _, err := next.SetContext(ctx, cx); err != nil {
			return nil, fmt.Errorf("replicate context: %w", err)
		}
	}
	if cur := vc.Current(); cur != nil {
		if _, err := next.PutSource(ctx, cur); err != nil {
			return nil, fmt.Errorf("replicate current source: %w", err)
		}
	}
	if entries := vc.queue.Snapshot(); len(entries) > 0 {
		if _, err := next.PutSource(ctx, entries); err != nil {
			return nil, fmt.Errorf("replicate queue: %w", err)
		}
	}
	return next, nil
}

// Destroy tears the session down on the node and waits for the confirmation.
// This is the only supported teardown: the remote must release its resources,
// so a local-only removal is never enough.
func (vc *VoiceClient) Destroy(ctx context.Context) error {
	_, err := vc.Query(ctx, gateway.OpVCDestroy, nil, gateway.OpVCDestroyed, 0)
	return err
}
