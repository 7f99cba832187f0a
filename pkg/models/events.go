package models

import "encoding/json"

// Every field of a push event is required to be present; empty strings and
// zero numbers are valid values.

// RenderAddedEvent is pushed on render_added_json when a job enters the queue.
type RenderAddedEvent struct {
	RenderID int `json:"renderID" validate:"gte=0"`
}

func (e RenderAddedEvent) Validate() error { return validateStruct(e) }

func (e *RenderAddedEvent) UnmarshalJSON(data []byte) error {
	type plain RenderAddedEvent
	if err := requireFields(data, "renderID"); err != nil {
		return err
	}
	return json.Unmarshal(data, (*plain)(e))
}

// RenderProgressEvent is pushed on render_progress_json while a job runs.
type RenderProgressEvent struct {
	RenderID    int    `json:"renderID" validate:"gte=0"`
	Username    string `json:"username"`
	Progress    string `json:"progress"`
	Renderer    string `json:"renderer"`
	Description string `json:"description"`
}

func (e RenderProgressEvent) Validate() error { return validateStruct(e) }

func (e *RenderProgressEvent) UnmarshalJSON(data []byte) error {
	type plain RenderProgressEvent
	if err := requireFields(data, "renderID", "username", "progress", "renderer", "description"); err != nil {
		return err
	}
	return json.Unmarshal(data, (*plain)(e))
}

// RenderFailEvent is pushed on render_fail_json. Unrecognised codes decode
// to ErrorCodeUnknown.
type RenderFailEvent struct {
	RenderID     int       `json:"renderID" validate:"gte=0"`
	ErrorCode    ErrorCode `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage"`
	Removed      bool      `json:"removed"`
}

func (e RenderFailEvent) Validate() error { return validateStruct(e) }

func (e *RenderFailEvent) UnmarshalJSON(data []byte) error {
	type plain RenderFailEvent
	if err := requireFields(data, "renderID", "errorCode", "errorMessage", "removed"); err != nil {
		return err
	}
	return json.Unmarshal(data, (*plain)(e))
}

// RenderFinishEvent is pushed on render_finish_json once the video is uploaded.
type RenderFinishEvent struct {
	RenderID int    `json:"renderID" validate:"gte=0"`
	VideoURL string `json:"videoUrl"`
}

func (e RenderFinishEvent) Validate() error { return validateStruct(e) }

func (e *RenderFinishEvent) UnmarshalJSON(data []byte) error {
	type plain RenderFinishEvent
	if err := requireFields(data, "renderID", "videoUrl"); err != nil {
		return err
	}
	return json.Unmarshal(data, (*plain)(e))
}
