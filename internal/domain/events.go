package domain

import (
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// Event is one decoded remote event. The set of variants is closed; kinds
// this build does not understand decode to UnknownEvent so dispatch can be
// exhaustive.
type Event interface {
	isEvent()
}

// PlaybackEvent carries a playback-state snapshot (kinds "onStateChange"
// and "nowPlaying").
type PlaybackEvent struct {
	Playback PlaybackState
}

// AdStateEvent signals an ad-state transition on the device. AdState "0"
// means no ad is playing.
type AdStateEvent struct {
	AdState     string
	SkipEnabled bool
}

// AdPlayingEvent signals an ad break; ContentVideoID, when present, is the
// video that resumes after the break.
type AdPlayingEvent struct {
	ContentVideoID string
	SkipEnabled    bool
}

// VolumeEvent reports the device volume state. The remote protocol expects
// the current volume echoed back when unmuting.
type VolumeEvent struct {
	Volume int
	Muted  bool
}

// AutoplayUpNextEvent announces the queued autoplay video.
type AutoplayUpNextEvent struct {
	VideoID string
}

// LoungeStatusEvent carries the roster of downstream screens attached to
// the session.
type LoungeStatusEvent struct {
	ClientNames []string
}

// SubtitlesTrackChangedEvent fires after short-form playback re-attaches;
// it carries the id of the video now showing.
type SubtitlesTrackChangedEvent struct {
	VideoID string
}

// ScreenDisconnectedEvent signals the remote screen dropped the session.
type ScreenDisconnectedEvent struct {
	Reason string
}

// AutoplayModeChangedEvent signals the device changed its autoplay mode.
type AutoplayModeChangedEvent struct {
	Mode string
}

// UnknownEvent is the fallback for kinds outside the closed set.
type UnknownEvent struct {
	Kind string
}

func (PlaybackEvent) isEvent()              {}
func (AdStateEvent) isEvent()               {}
func (AdPlayingEvent) isEvent()             {}
func (VolumeEvent) isEvent()                {}
func (AutoplayUpNextEvent) isEvent()        {}
func (LoungeStatusEvent) isEvent()          {}
func (SubtitlesTrackChangedEvent) isEvent() {}
func (ScreenDisconnectedEvent) isEvent()    {}
func (AutoplayModeChangedEvent) isEvent()   {}
func (UnknownEvent) isEvent()               {}

// ParseEvent decodes one raw remote event into its tagged variant. The
// payload is the event's argument list as delivered on the wire: a JSON
// array whose first element is the event body. Missing fields decode to
// zero values; only a structurally unusable payload yields an error.
func ParseEvent(kind string, payload []byte) (Event, error) {
	switch kind {
	case "onStateChange", "nowPlaying":
		return parsePlaybackEvent(payload)
	case "onAdStateChange":
		state, _ := firstString(payload, "adState")
		return AdStateEvent{
			AdState:     state,
			SkipEnabled: wireBool(payload, "isSkipEnabled"),
		}, nil
	case "adPlaying":
		vid, _ := firstString(payload, "contentVideoId")
		return AdPlayingEvent{
			ContentVideoID: vid,
			SkipEnabled:    wireBool(payload, "isSkipEnabled"),
		}, nil
	case "onVolumeChanged":
		return parseVolumeEvent(payload)
	case "autoplayUpNext":
		vid, _ := firstString(payload, "videoId")
		return AutoplayUpNextEvent{VideoID: vid}, nil
	case "loungeStatus":
		return parseLoungeStatus(payload)
	case "onSubtitlesTrackChanged":
		vid, _ := firstString(payload, "videoId")
		return SubtitlesTrackChangedEvent{VideoID: vid}, nil
	case "loungeScreenDisconnected":
		reason, _ := firstString(payload, "reason")
		return ScreenDisconnectedEvent{Reason: reason}, nil
	case "onAutoplayModeChanged":
		mode, _ := firstString(payload, "autoplayMode")
		return AutoplayModeChangedEvent{Mode: mode}, nil
	default:
		return UnknownEvent{Kind: kind}, nil
	}
}

func parsePlaybackEvent(payload []byte) (Event, error) {
	body, _, _, err := jsonparser.Get(payload, "[0]")
	if err != nil {
		return nil, err
	}

	vid, _ := jsonparser.GetString(body, "videoId")
	state, _ := jsonparser.GetString(body, "state")
	position := 0.0
	if raw, err := jsonparser.GetString(body, "currentTime"); err == nil {
		if parsed, perr := strconv.ParseFloat(raw, 64); perr == nil {
			position = parsed
		}
	} else if f, ferr := jsonparser.GetFloat(body, "currentTime"); ferr == nil {
		position = f
	}

	return PlaybackEvent{Playback: PlaybackState{
		VideoID:  vid,
		State:    ParsePlayState(state),
		Position: position,
	}}, nil
}

func parseVolumeEvent(payload []byte) (Event, error) {
	body, _, _, err := jsonparser.Get(payload, "[0]")
	if err != nil {
		return nil, err
	}

	volume := 100
	if raw, err := jsonparser.GetString(body, "volume"); err == nil {
		if parsed, perr := strconv.Atoi(raw); perr == nil {
			volume = parsed
		}
	} else if n, nerr := jsonparser.GetInt(body, "volume"); nerr == nil {
		volume = int(n)
	}

	muted, _ := jsonparser.GetString(body, "muted")
	return VolumeEvent{Volume: volume, Muted: muted == "true"}, nil
}

// parseLoungeStatus unwraps the roster event: the body's "devices" field is
// a JSON-encoded string holding an array of device objects, each of which
// carries another JSON-encoded "deviceInfo" string with the client name.
func parseLoungeStatus(payload []byte) (Event, error) {
	devicesRaw, err := jsonparser.GetString(payload, "[0]", "devices")
	if err != nil {
		return nil, err
	}

	var names []string
	_, err = jsonparser.ArrayEach([]byte(devicesRaw), func(dev []byte, _ jsonparser.ValueType, _ int, _ error) {
		devType, _ := jsonparser.GetString(dev, "type")
		if devType != "LOUNGE_SCREEN" {
			return
		}
		info, infoErr := jsonparser.GetString(dev, "deviceInfo")
		if infoErr != nil {
			return
		}
		if name, nameErr := jsonparser.GetString([]byte(info), "clientName"); nameErr == nil && name != "" {
			names = append(names, name)
		}
	})
	if err != nil {
		return nil, err
	}
	return LoungeStatusEvent{ClientNames: names}, nil
}

func firstString(payload []byte, key string) (string, error) {
	return jsonparser.GetString(payload, "[0]", key)
}

// wireBool decodes the protocol's stringly-typed booleans.
func wireBool(payload []byte, key string) bool {
	raw, err := firstString(payload, key)
	if err != nil {
		return false
	}
	return strings.EqualFold(raw, "true")
}
