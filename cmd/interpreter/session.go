package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	capturedevice "github.com/satriahrh/arunika/interpreter/adapters/capture"
	"github.com/satriahrh/arunika/interpreter/adapters/memory"
	"github.com/satriahrh/arunika/interpreter/adapters/mongo"
	audioplayer "github.com/satriahrh/arunika/interpreter/adapters/playback"
	"github.com/satriahrh/arunika/interpreter/adapters/redis"
	"github.com/satriahrh/arunika/interpreter/adapters/tts"
	"github.com/satriahrh/arunika/interpreter/domain"
	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/domain/repositories"
	"github.com/satriahrh/arunika/interpreter/internal/auth"
	"github.com/satriahrh/arunika/interpreter/internal/capture"
	"github.com/satriahrh/arunika/interpreter/internal/config"
	"github.com/satriahrh/arunika/interpreter/internal/session"
	"github.com/satriahrh/arunika/interpreter/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run an interpreting session",
	Long: `Run an interpreting session against the translation service. Audio is
read from the capture source (stdin by default) and cut into segments.`,
	RunE: runSession,
}

func init() {
	sessionCmd.Flags().String("languages", "", "Language pair to request, e.g. en,es")
	sessionCmd.Flags().String("conversation", "", "Conversation ID to resume")
	sessionCmd.Flags().String("source", "", "Capture source file, - for stdin")
	sessionCmd.Flags().Duration("segment", 0, "Segment duration")
	sessionCmd.Flags().String("store", "", "Transcript store: memory, mongo or redis")
	sessionCmd.Flags().Bool("auto-play", false, "Play synthesized audio as it arrives")

	bindFlag(sessionCmd, "session.conversation_id", "conversation")
	bindFlag(sessionCmd, "capture.source", "source")
	bindFlag(sessionCmd, "session.segment_duration", "segment")
	bindFlag(sessionCmd, "transcripts.store", "store")
	bindFlag(sessionCmd, "session.auto_play", "auto-play")
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(v)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	conversationID := cfg.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	logger = logger.With(zap.String("conversationID", conversationID))

	source, err := openSource(cfg.CaptureSource)
	if err != nil {
		return err
	}
	defer source.Close()

	device, err := capturedevice.NewStreamDevice(source, cfg.CaptureDir, cfg.AudioFormat, logger)
	if err != nil {
		return err
	}
	player, err := audioplayer.NewCommandPlayer(cfg.PlaybackDir, cfg.PlaybackCommand, logger)
	if err != nil {
		return err
	}
	synthesizer, err := newSynthesizer(cfg, player, logger)
	if err != nil {
		return err
	}

	transcripts, err := newTranscriptStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := transcripts.Close(closeCtx); err != nil {
			logger.Warn("Failed to close transcript store", zap.Error(err))
		}
	}()

	options := []websocket.Option{
		websocket.WithThrottle(cfg.ReconnectThrottle),
		websocket.WithWatchdogInterval(cfg.WatchdogInterval),
	}
	provider, err := newTokenProvider(cfg)
	if err != nil {
		return err
	}
	if provider != nil {
		options = append(options, websocket.WithTokenProvider(provider))
	}
	client := websocket.NewClient(cfg.ServerURL, logger, options...)

	manager := session.NewManager(client, session.Dependencies{
		Device:      device,
		Segments:    capturedevice.FileStore{},
		Synthesizer: synthesizer,
		Player:      player,
		Transcripts: transcripts,
	}, session.Config{
		ConversationID:  conversationID,
		SegmentDuration: cfg.SegmentDuration,
		AudioFormat:     cfg.AudioFormat,
		PlaybackFormat:  cfg.PlaybackFormat,
		AutoPlay:        cfg.AutoPlay,
	}, logger)

	out := cmd.OutOrStdout()
	manager.OnUtterance(func(u entities.Utterance) {
		fmt.Fprintf(out, "[%d] person %d (%s): %s\n    (%s): %s\n",
			u.ArrivalOrder, u.Speaker, u.SourceLanguage, u.SourceText, u.TargetLanguage, u.TranslatedText)
	})

	if err := manager.Start(ctx); err != nil {
		return err
	}

	languages, _ := cmd.Flags().GetString("languages")
	if languages != "" {
		pair := strings.SplitN(languages, ",", 2)
		if len(pair) != 2 {
			return fmt.Errorf("languages must look like en,es, got %q", languages)
		}
		if err := manager.SetLanguages(ctx, pair[0], pair[1]); err != nil {
			logger.Error("Failed to request language pair", zap.Error(err))
		}
	}

	if err := manager.StartCapture(ctx); err != nil {
		manager.Stop(ctx)
		return err
	}
	logger.Info("Session running", zap.String("server", cfg.ServerURL))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

loop:
	for {
		select {
		case <-quit:
			break loop
		case alert := <-manager.Alerts():
			fmt.Fprintf(cmd.ErrOrStderr(), "! %v\n", alert)
			// a dead capture loop ends the run
			if errors.Is(alert, domain.ErrCapture) && manager.Snapshot().Capture == capture.StateIdle {
				break loop
			}
		}
	}

	logger.Info("Session is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Session stopped with errors", zap.Error(err))
	}
	logger.Info("Session exited", zap.Int("utterances", len(manager.Snapshot().Utterances)))
	return nil
}

func openSource(source string) (io.ReadCloser, error) {
	if source == "" || source == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	file, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture source: %w", err)
	}
	return file, nil
}

func newSynthesizer(cfg *config.Config, player repositories.AudioPlayer, logger *zap.Logger) (repositories.SpeechSynthesizer, error) {
	if !cfg.SpeechEnabled() {
		logger.Info("ElevenLabs not configured, speech is printed instead")
		return textSynthesizer{out: os.Stdout}, nil
	}
	eleven, err := tts.NewElevenLabsTTS(cfg.ElevenLabs, logger)
	if err != nil {
		return nil, err
	}
	return tts.NewSynthesizer(eleven, player, logger), nil
}

func newTranscriptStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.TranscriptStore, error) {
	switch cfg.TranscriptStore {
	case config.StoreMongo:
		client, err := mongo.NewClient(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		return mongo.NewTranscriptRepository(client, logger), nil
	case config.StoreRedis:
		client, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return redis.NewTranscriptStore(client, cfg.TranscriptTTL), nil
	default:
		return memory.NewTranscriptStore(), nil
	}
}

func newTokenProvider(cfg *config.Config) (repositories.TokenProvider, error) {
	switch {
	case cfg.AuthToken != "":
		return auth.StaticToken(cfg.AuthToken), nil
	case cfg.AuthSecret != "":
		signer, err := auth.NewSigner(cfg.AuthSecret, auth.DefaultTokenTTL)
		if err != nil {
			return nil, err
		}
		return auth.NewSignedTokenProvider(signer, cfg.ClientID), nil
	default:
		return nil, nil
	}
}

// textSynthesizer prints text instead of speaking it
type textSynthesizer struct {
	out io.Writer
}

func (s textSynthesizer) Speak(ctx context.Context, text, language string, done func(error)) error {
	fmt.Fprintf(s.out, "(speak %s) %s\n", language, text)
	go done(nil)
	return nil
}

func (textSynthesizer) Stop() error { return nil }
