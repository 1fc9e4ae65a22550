package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/adapters/llm"
	"github.com/satriahrh/arunika/interpreter/adapters/stt"
	"github.com/satriahrh/arunika/interpreter/adapters/tts"
	"github.com/satriahrh/arunika/interpreter/domain/repositories"
	"github.com/satriahrh/arunika/interpreter/internal/auth"
	"github.com/satriahrh/arunika/interpreter/internal/config"
	"github.com/satriahrh/arunika/interpreter/internal/devserver"
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local translation service",
	Long: `Run a local implementation of the translation service protocol. Without
Google Speech and Gemini credentials every clip is echoed back as its own
transcript.`,
	RunE: runDevserver,
}

func init() {
	devserverCmd.Flags().String("addr", "", "Listen address")
	bindFlag(devserverCmd, "server.addr", "addr")
}

func runDevserver(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(v)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interpreter, cleanup, err := newInterpreter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var signer *auth.Signer
	if cfg.AuthSecret != "" {
		signer, err = auth.NewSigner(cfg.AuthSecret, auth.DefaultTokenTTL)
		if err != nil {
			return err
		}
	}

	hub := devserver.NewHub(interpreter, devserver.DefaultCapabilities(), logger)
	go hub.Run(ctx)

	e := devserver.NewServer(hub, signer, logger)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Dev server started",
		zap.String("addr", cfg.ListenAddr),
		zap.Bool("authenticated", signer != nil),
		zap.Bool("pipeline", cfg.PipelineEnabled()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

func newInterpreter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (devserver.Interpreter, func(), error) {
	if !cfg.PipelineEnabled() {
		return devserver.EchoInterpreter{}, func() {}, nil
	}

	recognizer, err := stt.NewGoogleSpeechToText(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	translator, err := llm.NewGeminiTranslator(ctx, cfg.Gemini, logger)
	if err != nil {
		recognizer.Close()
		return nil, nil, err
	}

	var speech repositories.TextToSpeech
	if cfg.SpeechEnabled() {
		eleven, err := tts.NewElevenLabsTTS(cfg.ElevenLabs, logger)
		if err != nil {
			recognizer.Close()
			return nil, nil, err
		}
		speech = eleven
	}

	cleanup := func() {
		if err := recognizer.Close(); err != nil {
			logger.Warn("Failed to close speech client", zap.Error(err))
		}
	}
	return devserver.NewPipelineInterpreter(recognizer, translator, speech, cfg.STTSampleRate, logger), cleanup, nil
}
