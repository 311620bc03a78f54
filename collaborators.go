package ringlink

// AudioEngine is the capture/playback collaborator consumed by
// client.MediaManager. Concrete implementations (host device capture,
// Opus plumbing) live outside this module; the core only ever sees the
// raw frame bytes this interface hands it.
type AudioEngine interface {
	Start() error
	Stop() error
	Mute()
	Unmute()
	SetVolume(level float64)
	// OnFrame registers the callback invoked with one captured,
	// already-encoded audio frame at a time.
	OnFrame(func(frame []byte))
	// Play hands one decrypted, already-decoded remote frame to the
	// engine for output.
	Play(frame []byte) error
}

// VideoCapture is the screen/camera capture collaborator. Encoding
// (H.264 or otherwise) happens outside the core; frames arrive here
// already encoded.
type VideoCapture interface {
	Start() error
	Stop() error
	OnFrame(func(frame []byte))
}
