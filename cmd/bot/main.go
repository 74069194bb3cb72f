package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/discodo/client"
	"github.com/dkeye/discodo/discord"
	"github.com/dkeye/discodo/domain"
	"github.com/dkeye/discodo/internal/config"
)

const prefix = "!"

type bot struct {
	cl      *client.Client
	session *discordgo.Session
	cfg     *config.Config
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	b := &bot{session: session, cfg: cfg}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)

	if err := session.Open(); err != nil {
		log.Fatal().Err(err).Msg("failed to open session")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	for gid := range b.voiceClients() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.cl.Destroy(shutdownCtx, gid); err != nil {
			log.Warn().Err(err).Str("guild", gid).Msg("session teardown failed")
		}
		shutdownCancel()
	}
	if err := session.Close(); err != nil {
		log.Error().Err(err).Msg("session close failed")
	}
	log.Info().Msg("Bot exited gracefully")
}

func (b *bot) voiceClients() map[string]*client.VoiceClient {
	if b.cl == nil {
		return nil
	}
	return b.cl.VoiceClients()
}

// onReady wires the audio client once the bot user is known, then registers
// the configured node. Later READY dispatches are ignored.
func (b *bot) onReady(s *discordgo.Session, _ *discordgo.Ready) {
	if b.cl != nil {
		return
	}

	bridge := discord.NewBridge(s)
	b.cl = client.New(bridge)
	b.cl.On("SOURCE_START", b.announceSource)

	if _, err := bridge.Attach(b.cl); err != nil {
		log.Fatal().Err(err).Msg("failed to attach bridge")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := b.cl.RegisterNode(ctx, client.NodeOptions{
		Host:     b.cfg.Node.Host,
		Port:     b.cfg.Node.Port,
		Password: b.cfg.Node.Password,
		Region:   b.cfg.Node.Region,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register node")
	}
	log.Info().Str("user", s.State.User.Username).Msg("bot ready")
}

// announceSource posts now-playing messages to the channel the session was
// started from, kept in the voice client context.
func (b *bot) announceSource(vc *client.VoiceClient, data any) {
	textChannel, _ := vc.Context()["text_channel"].(string)
	if textChannel == "" {
		return
	}
	m, _ := data.(map[string]any)
	title := "unknown"
	if source, ok := m["source"].(*domain.AudioSource); ok && source.Title != "" {
		title = source.Title
	}
	_, _ = b.session.ChannelMessageSend(textChannel, "Now playing: "+title)
}

func (b *bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if b.cl == nil || m.Author.Bot || m.GuildID == "" || !strings.HasPrefix(m.Content, prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
	if len(fields) == 0 {
		return
	}
	command, args := fields[0], strings.Join(fields[1:], " ")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch command {
	case "join":
		err = b.join(ctx, s, m)
	case "play":
		err = b.play(ctx, s, m, args)
	case "skip":
		err = b.withVC(m.GuildID, func(vc *client.VoiceClient) error {
			return vc.Skip(ctx, 1)
		})
	case "pause":
		err = b.withVC(m.GuildID, func(vc *client.VoiceClient) error {
			return vc.Pause(ctx)
		})
	case "resume":
		err = b.withVC(m.GuildID, func(vc *client.VoiceClient) error {
			return vc.Resume(ctx)
		})
	case "np":
		err = b.nowPlaying(ctx, s, m)
	case "stop":
		err = b.cl.Destroy(ctx, m.GuildID)
	default:
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("command", command).Str("guild", m.GuildID).Msg("command failed")
		_, _ = s.ChannelMessageSend(m.ChannelID, "Error: "+err.Error())
	}
}

func (b *bot) withVC(guildID string, fn func(*client.VoiceClient) error) error {
	vc, ok := b.cl.GetVC(guildID)
	if !ok {
		return client.ErrVoiceClientNotFound
	}
	return fn(vc)
}

func (b *bot) join(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) error {
	voiceState, err := s.State.VoiceState(m.GuildID, m.Author.ID)
	if err != nil || voiceState.ChannelID == "" {
		_, _ = s.ChannelMessageSend(m.ChannelID, "Join a voice channel first.")
		return nil
	}

	vc, err := b.cl.Connect(ctx, m.GuildID, voiceState.ChannelID, nil)
	if err != nil {
		return err
	}
	if _, err := vc.SetContext(ctx, map[string]any{"text_channel": m.ChannelID}); err != nil {
		return err
	}
	_, _ = s.ChannelMessageSend(m.ChannelID, "Connected.")
	return nil
}

func (b *bot) play(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, query string) error {
	if query == "" {
		_, _ = s.ChannelMessageSend(m.ChannelID, "Usage: "+prefix+"play <url or search>")
		return nil
	}
	if _, ok := b.cl.GetVC(m.GuildID); !ok {
		if err := b.join(ctx, s, m); err != nil {
			return err
		}
	}

	return b.withVC(m.GuildID, func(vc *client.VoiceClient) error {
		sources, err := vc.LoadSource(ctx, query)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			_, _ = s.ChannelMessageSend(m.ChannelID, "Nothing found.")
			return nil
		}
		_, _ = s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Queued %d source(s).", len(sources)))
		return nil
	})
}

func (b *bot) nowPlaying(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) error {
	return b.withVC(m.GuildID, func(vc *client.VoiceClient) error {
		current, err := vc.GetCurrent(ctx)
		if err != nil {
			return err
		}
		if current == nil {
			_, _ = s.ChannelMessageSend(m.ChannelID, "Nothing is playing.")
			return nil
		}
		_, _ = s.ChannelMessageSend(m.ChannelID, fmt.Sprintf(
			"Now playing: %s [%s / %s]",
			current.Title,
			(time.Duration(current.Position())*time.Second).String(),
			(time.Duration(current.Duration)*time.Second).String(),
		))
		return nil
	})
}
