package repositories

import "context"

// AudioClip is an encoded audio payload ready for an output device
type AudioClip struct {
	Data   []byte
	Format string
}

// AudioPlayer plays clips on the output device. Play returns once playback
// has started; done is called exactly once when it ends, fails or is stopped.
type AudioPlayer interface {
	Play(ctx context.Context, clip AudioClip, done func(error)) error
	Stop() error
}

// SpeechSynthesizer speaks text on the output device with the same
// start/done contract as AudioPlayer.
type SpeechSynthesizer interface {
	Speak(ctx context.Context, text, language string, done func(error)) error
	Stop() error
}
