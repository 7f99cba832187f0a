package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ErrorCode is a failure code reported by the o!rdr API, either in an error
// envelope or in a render_fail_json event.
type ErrorCode int

const (
	ErrorCodeUnknown ErrorCode = iota
	ErrorCodeEmergencyStop
	ErrorCodeReplayParsing
	ErrorCodeReplayDownload
	ErrorCodeMirrorsUnavailable
	ErrorCodeReplayCorrupted
	ErrorCodeInvalidGamemode
	ErrorCodeReplayNoInput
	ErrorCodeBeatmapMissing
	ErrorCodeAudioUnavailable
	ErrorCodeOsuAPIUnreachable
	ErrorCodeAutoplayMod
	ErrorCodeInvalidReplayUsername
	ErrorCodeBeatmapTooLong
	ErrorCodePlayerBanned
	ErrorCodeBeatmapNotOnMirrors
	ErrorCodeIPBanned
	ErrorCodeUsernameBanned
	ErrorCodeRendererUnknown
	ErrorCodeRendererMapDownload
	ErrorCodeBeatmapVersionMismatch
	ErrorCodeReplayUnprocessable
	ErrorCodeVideoFinalize
	ErrorCodeRenderPrepare
	ErrorCodeBeatmapNoName
	ErrorCodeReplayMissingInput
	ErrorCodeIncompatibleMods
	ErrorCodeRendererUnstable
	ErrorCodeRendererReplayDownload
	ErrorCodeReplayAlreadyQueued
	ErrorCodeStarRatingTooHigh
	ErrorCodeMapperBlacklisted
	ErrorCodeBeatmapsetBlacklisted
	ErrorCodeReplayRecentlyErrored
	ErrorCodeInvalidReplayURL
	ErrorCodeMissingField
	ErrorCodeTooManyErrors

	errorCodeEnd
)

var errorCodeNames = [...]string{
	ErrorCodeUnknown:                "unknown error",
	ErrorCodeEmergencyStop:          "emergency stop",
	ErrorCodeReplayParsing:          "replay parsing error",
	ErrorCodeReplayDownload:         "replay download error",
	ErrorCodeMirrorsUnavailable:     "all beatmap mirrors are unavailable",
	ErrorCodeReplayCorrupted:        "replay file corrupted",
	ErrorCodeInvalidGamemode:        "invalid osu! gamemode",
	ErrorCodeReplayNoInput:          "replay has no input data",
	ErrorCodeBeatmapMissing:         "beatmap does not exist on osu!",
	ErrorCodeAudioUnavailable:       "audio for the map is unavailable",
	ErrorCodeOsuAPIUnreachable:      "cannot connect to osu! api",
	ErrorCodeAutoplayMod:            "replay has the autoplay mod",
	ErrorCodeInvalidReplayUsername:  "replay username has invalid characters",
	ErrorCodeBeatmapTooLong:         "beatmap is longer than 15 minutes",
	ErrorCodePlayerBanned:           "player is banned from o!rdr",
	ErrorCodeBeatmapNotOnMirrors:    "beatmap not found on any mirror",
	ErrorCodeIPBanned:               "IP is banned from o!rdr",
	ErrorCodeUsernameBanned:         "username is banned from o!rdr",
	ErrorCodeRendererUnknown:        "unknown error from the renderer",
	ErrorCodeRendererMapDownload:    "renderer cannot download the map",
	ErrorCodeBeatmapVersionMismatch: "beatmap version on the mirror differs from the replay",
	ErrorCodeReplayUnprocessable:    "replay is corrupted",
	ErrorCodeVideoFinalize:          "server-side problem while finalizing the video",
	ErrorCodeRenderPrepare:          "server-side problem while preparing the render",
	ErrorCodeBeatmapNoName:          "beatmap has no name",
	ErrorCodeReplayMissingInput:     "replay is missing input data",
	ErrorCodeIncompatibleMods:       "replay has incompatible mods",
	ErrorCodeRendererUnstable:       "renderer went wrong",
	ErrorCodeRendererReplayDownload: "renderer cannot download the replay",
	ErrorCodeReplayAlreadyQueued:    "replay is already rendering or in queue",
	ErrorCodeStarRatingTooHigh:      "star rating is greater than 20",
	ErrorCodeMapperBlacklisted:      "mapper is blacklisted",
	ErrorCodeBeatmapsetBlacklisted:  "beatmapset is blacklisted",
	ErrorCodeReplayRecentlyErrored:  "replay already errored less than an hour ago",
	ErrorCodeInvalidReplayURL:       "invalid replay URL",
	ErrorCodeMissingField:           "a required field is missing",
	ErrorCodeTooManyErrors:          "too many recent render errors",
}

// ParseErrorCode maps a raw integer to a known ErrorCode. Unknown values
// yield ErrorCodeUnknown.
func ParseErrorCode(v int) ErrorCode {
	code := ErrorCode(v)
	if !code.Known() {
		return ErrorCodeUnknown
	}
	return code
}

// Known reports whether c is part of the documented set.
func (c ErrorCode) Known() bool {
	return c >= ErrorCodeUnknown && c < errorCodeEnd
}

func (c ErrorCode) String() string {
	if !c.Known() {
		return errorCodeNames[ErrorCodeUnknown]
	}
	return errorCodeNames[c]
}

// UnmarshalJSON never fails: anything that is not a known integer code
// decodes to ErrorCodeUnknown.
func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 1 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			data = []byte(s)
		}
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		*c = ErrorCodeUnknown
		return nil
	}
	*c = ParseErrorCode(v)
	return nil
}
