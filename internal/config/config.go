// Package config loads settings for the interpreter binaries from a .env
// file, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/satriahrh/arunika/interpreter/adapters/llm"
	"github.com/satriahrh/arunika/interpreter/adapters/mongo"
	"github.com/satriahrh/arunika/interpreter/adapters/tts"
)

// EnvPrefix is prepended to every environment variable, e.g.
// INTERPRETER_SERVER_URL for server.url
const EnvPrefix = "INTERPRETER"

// Transcript store backends
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
)

// Config holds every setting of the session client and the dev server
type Config struct {
	ServerURL  string
	ListenAddr string

	AuthSecret string
	AuthToken  string
	ClientID   string

	ConversationID    string
	SegmentDuration   time.Duration
	AudioFormat       string
	AutoPlay          bool
	ReconnectThrottle time.Duration
	WatchdogInterval  time.Duration

	CaptureSource string
	CaptureDir    string

	PlaybackDir     string
	PlaybackCommand []string
	PlaybackFormat  string

	TranscriptStore string
	TranscriptTTL   time.Duration
	Mongo           mongo.Config
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	ElevenLabs    tts.ElevenLabsConfig
	Gemini        llm.GeminiConfig
	GoogleSTT     bool
	STTSampleRate int
}

// LoadDotEnv loads the given .env files, or ./.env when none are named.
// Missing files are ignored; variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the default of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "ws://localhost:8080/ws")
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.client_id", "interpreter-cli")

	v.SetDefault("session.conversation_id", "")
	v.SetDefault("session.segment_duration", 5*time.Second)
	v.SetDefault("session.audio_format", "aac")
	v.SetDefault("session.auto_play", false)
	v.SetDefault("connection.reconnect_throttle", 10*time.Second)
	v.SetDefault("connection.watchdog_interval", 10*time.Second)

	v.SetDefault("capture.source", "-")
	v.SetDefault("capture.dir", filepath.Join(os.TempDir(), "interpreter", "segments"))

	v.SetDefault("playback.dir", filepath.Join(os.TempDir(), "interpreter", "playback"))
	v.SetDefault("playback.command", []string{})
	v.SetDefault("playback.format", "mp3")

	v.SetDefault("transcripts.store", StoreMemory)
	v.SetDefault("transcripts.ttl", 7*24*time.Hour)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "interpreter")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("elevenlabs.api_key", "")
	v.SetDefault("elevenlabs.base_url", "")
	v.SetDefault("elevenlabs.voice_id", "")
	v.SetDefault("elevenlabs.model_id", "")
	v.SetDefault("elevenlabs.output_format", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "")
	v.SetDefault("google_stt.enabled", false)
	v.SetDefault("google_stt.sample_rate", 16000)
}

// Load reads every key from v and validates the result
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		ServerURL:  v.GetString("server.url"),
		ListenAddr: v.GetString("server.addr"),

		AuthSecret: v.GetString("auth.secret"),
		AuthToken:  v.GetString("auth.token"),
		ClientID:   v.GetString("auth.client_id"),

		ConversationID:    v.GetString("session.conversation_id"),
		SegmentDuration:   v.GetDuration("session.segment_duration"),
		AudioFormat:       strings.ToLower(v.GetString("session.audio_format")),
		AutoPlay:          v.GetBool("session.auto_play"),
		ReconnectThrottle: v.GetDuration("connection.reconnect_throttle"),
		WatchdogInterval:  v.GetDuration("connection.watchdog_interval"),

		CaptureSource: v.GetString("capture.source"),
		CaptureDir:    v.GetString("capture.dir"),

		PlaybackDir:     v.GetString("playback.dir"),
		PlaybackCommand: v.GetStringSlice("playback.command"),
		PlaybackFormat:  v.GetString("playback.format"),

		TranscriptStore: strings.ToLower(v.GetString("transcripts.store")),
		TranscriptTTL:   v.GetDuration("transcripts.ttl"),
		Mongo: mongo.Config{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		RedisAddr:     v.GetString("redis.addr"),
		RedisPassword: v.GetString("redis.password"),
		RedisDB:       v.GetInt("redis.db"),

		ElevenLabs: tts.ElevenLabsConfig{
			APIKey:       v.GetString("elevenlabs.api_key"),
			APIBaseURL:   v.GetString("elevenlabs.base_url"),
			VoiceID:      v.GetString("elevenlabs.voice_id"),
			ModelID:      v.GetString("elevenlabs.model_id"),
			OutputFormat: v.GetString("elevenlabs.output_format"),
		},
		Gemini: llm.GeminiConfig{
			APIKey: v.GetString("gemini.api_key"),
			Model:  v.GetString("gemini.model"),
		},
		GoogleSTT:     v.GetBool("google_stt.enabled"),
		STTSampleRate: v.GetInt("google_stt.sample_rate"),
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the settings that have no safe fallback
func (c *Config) Validate() error {
	var errs []error
	if c.SegmentDuration <= 0 {
		errs = append(errs, fmt.Errorf("segment duration must be positive, got %s", c.SegmentDuration))
	}
	if c.ReconnectThrottle < 0 {
		errs = append(errs, fmt.Errorf("reconnect throttle must not be negative, got %s", c.ReconnectThrottle))
	}
	if c.WatchdogInterval <= 0 {
		errs = append(errs, fmt.Errorf("watchdog interval must be positive, got %s", c.WatchdogInterval))
	}
	switch c.TranscriptStore {
	case StoreMemory, StoreMongo, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown transcript store %q", c.TranscriptStore))
	}
	if c.AudioFormat == "" {
		errs = append(errs, errors.New("audio format is required"))
	}
	return errors.Join(errs...)
}

// SpeechEnabled reports whether the ElevenLabs synthesizer is configured
func (c *Config) SpeechEnabled() bool {
	return c.ElevenLabs.APIKey != ""
}

// PipelineEnabled reports whether the dev server can run the real speech
// pipeline instead of echoing clips
func (c *Config) PipelineEnabled() bool {
	return c.GoogleSTT && c.Gemini.APIKey != ""
}
