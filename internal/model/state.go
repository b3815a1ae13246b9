package model

// PlaybackState is the normalized transport state of a speaker.
type PlaybackState string

const (
	PlaybackPlaying      PlaybackState = "Playing"
	PlaybackPaused       PlaybackState = "Paused"
	PlaybackStopped      PlaybackState = "Stopped"
	PlaybackTransitioning PlaybackState = "Transitioning"
)

// ParsePlaybackState maps a raw UPnP TransportState value onto the closed
// PlaybackState enum. Unrecognized values map to PlaybackStopped, never an
// error - a malformed device string should never be fatal.
func ParsePlaybackState(raw string) PlaybackState {
	switch raw {
	case "PLAYING":
		return PlaybackPlaying
	case "PAUSED_PLAYBACK":
		return PlaybackPaused
	case "STOPPED":
		return PlaybackStopped
	case "TRANSITIONING":
		return PlaybackTransitioning
	default:
		return PlaybackStopped
	}
}

// TransportStatus mirrors the UPnP TransportStatus state variable.
type TransportStatus string

const (
	TransportOk            TransportStatus = "Ok"
	TransportErrorOccurred TransportStatus = "ErrorOccurred"
)

// ParseTransportStatus maps a raw UPnP TransportStatus value.
func ParseTransportStatus(raw string) TransportStatus {
	if raw == "ERROR_OCCURRED" {
		return TransportErrorOccurred
	}
	return TransportOk
}

// TrackInfo carries optional, uninterpreted track metadata.
type TrackInfo struct {
	Title      string
	Artist     string
	Album      string
	DurationMs *int64
	URI        string
}

// SpeakerState is the per-speaker row held by the state cache.
type SpeakerState struct {
	Speaker        Speaker
	PlaybackState  PlaybackState
	Volume         int // 0..100
	Muted          bool
	PositionMs     int64
	DurationMs     int64
	Track          TrackInfo
	IsCoordinator  bool
	GroupID        *GroupId
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// cache's lock - SpeakerState's only shared references are GroupID, the
// Track.DurationMs pointer and Speaker.SatelliteIDs, all copied here.
func (s SpeakerState) Clone() SpeakerState {
	out := s
	if s.GroupID != nil {
		g := *s.GroupID
		out.GroupID = &g
	}
	if s.Track.DurationMs != nil {
		d := *s.Track.DurationMs
		out.Track.DurationMs = &d
	}
	out.Speaker.SatelliteIDs = append([]SpeakerId(nil), s.Speaker.SatelliteIDs...)
	return out
}
