package models

import (
	"encoding/json"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Resolution is an output video size accepted by the renderer.
type Resolution string

const (
	Resolution480p  Resolution = "720x480"
	Resolution540p  Resolution = "960x540"
	Resolution720p  Resolution = "1280x720"
	Resolution1080p Resolution = "1920x1080"
)

// RenderOptions holds every tunable of a render job. Field tags carry the
// o!rdr wire names; DefaultRenderOptions returns the server-side defaults.
type RenderOptions struct {
	Resolution     Resolution `json:"resolution" validate:"oneof=720x480 960x540 1280x720 1920x1080"`
	GlobalVolume   int        `json:"globalVolume" validate:"min=0,max=100"`
	MusicVolume    int        `json:"musicVolume" validate:"min=0,max=100"`
	HitsoundVolume int        `json:"hitsoundVolume" validate:"min=0,max=100"`

	ShowHitErrorMeter bool `json:"showHitErrorMeter"`
	ShowUnstableRate  bool `json:"showUnstableRate"`
	ShowScore         bool `json:"showScore"`
	ShowHPBar         bool `json:"showHPBar"`
	ShowComboCounter  bool `json:"showComboCounter"`
	ShowPPCounter     bool `json:"showPPCounter"`
	ShowKeyOverlay    bool `json:"showKeyOverlay"`
	ShowScoreboard    bool `json:"showScoreboard"`
	ShowBorders       bool `json:"showBorders"`
	ShowMods          bool `json:"showMods"`
	ShowResultScreen  bool `json:"showResultScreen"`
	UseSkinCursor     bool `json:"useSkinCursor"`
	UseSkinHitsounds  bool `json:"useSkinHitsounds"`
	UseBeatmapColors  bool `json:"useBeatmapColors"`
	CursorScaleToCS   bool `json:"cursorScaleToCS"`
	CursorRainbow     bool `json:"cursorRainbow"`
	CursorTrailGlow   bool `json:"cursorTrailGlow"`
	DrawFollowPoints  bool `json:"drawFollowPoints"`
	DrawComboNumbers  bool `json:"drawComboNumbers"`

	CursorSize  float64 `json:"cursorSize" validate:"min=0.5,max=2"`
	CursorTrail bool    `json:"cursorTrail"`

	BeatScaling             bool `json:"scaleToTheBeat"`
	SliderMerge             bool `json:"sliderMerge"`
	ObjectsRainbow          bool `json:"objectsRainbow"`
	FlashObjects            bool `json:"objectsFlashToTheBeat"`
	UseSliderHitcircleColor bool `json:"useHitCircleColor"`
	SeizureWarning          bool `json:"seizureWarning"`
	LoadStoryboard          bool `json:"loadStoryboard"`
	LoadVideo               bool `json:"loadVideo"`

	IntroBGDim  int  `json:"introBGDim" validate:"min=0,max=100"`
	InGameBGDim int  `json:"inGameBGDim" validate:"min=0,max=100"`
	BreakBGDim  int  `json:"breakBGDim" validate:"min=0,max=100"`
	BGParallax  bool `json:"BGParallax"`

	ShowDanserLogo          bool `json:"showDanserLogo"`
	SkipIntro               bool `json:"skip"`
	CursorRipples           bool `json:"cursorRipples"`
	SliderSnakingIn         bool `json:"sliderSnakingIn"`
	SliderSnakingOut        bool `json:"sliderSnakingOut"`
	ShowHitCounter          bool `json:"showHitCounter"`
	ShowAvatarsOnScoreboard bool `json:"showAvatarsOnScoreboard"`
	ShowAimErrorMeter       bool `json:"showAimErrorMeter"`
	PlayNightcoreSamples    bool `json:"playNightcoreSamples"`
}

// DefaultRenderOptions returns the options the service applies when a field
// is not sent.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Resolution:              Resolution720p,
		GlobalVolume:            50,
		MusicVolume:             50,
		HitsoundVolume:          50,
		ShowHitErrorMeter:       true,
		ShowUnstableRate:        true,
		ShowScore:               true,
		ShowHPBar:               true,
		ShowComboCounter:        true,
		ShowPPCounter:           true,
		ShowKeyOverlay:          true,
		ShowScoreboard:          true,
		ShowBorders:             true,
		ShowMods:                true,
		ShowResultScreen:        true,
		UseSkinCursor:           true,
		UseSkinHitsounds:        true,
		UseBeatmapColors:        true,
		DrawFollowPoints:        true,
		DrawComboNumbers:        true,
		CursorSize:              1.0,
		CursorTrail:             true,
		UseSliderHitcircleColor: true,
		LoadStoryboard:          true,
		LoadVideo:               true,
		InGameBGDim:             75,
		BreakBGDim:              30,
		ShowDanserLogo:          true,
		SkipIntro:               true,
		SliderSnakingIn:         true,
		SliderSnakingOut:        true,
		PlayNightcoreSamples:    true,
	}
}

// Validate checks value ranges and the resolution enum.
func (o RenderOptions) Validate() error {
	return validateStruct(o)
}

// Form returns the options that differ from DefaultRenderOptions, keyed by
// wire name. Booleans are sent as "true"/"false".
func (o RenderOptions) Form() url.Values {
	values := url.Values{}
	defaults := reflect.ValueOf(DefaultRenderOptions())
	current := reflect.ValueOf(o)
	typ := current.Type()

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		v := current.Field(i)
		if v.Equal(defaults.Field(i)) {
			continue
		}
		values.Set(name, formatOption(v))
	}
	return values
}

func formatOption(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int64, reflect.Int32:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float64, reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	default:
		return v.String()
	}
}

// Render is a render job as listed by the API.
type Render struct {
	RenderOptions

	ID               int       `json:"renderID"`
	Date             Timestamp `json:"date"`
	Username         string    `json:"username"`
	Progress         string    `json:"progress"`
	Renderer         string    `json:"renderer"`
	Description      string    `json:"description"`
	Title            string    `json:"title"`
	ReadableDate     string    `json:"readableDate"`
	IsBot            bool      `json:"isBot"`
	IsVerified       bool      `json:"isVerified"`
	ReplayFilePath   string    `json:"replayFilePath"`
	VideoURL         string    `json:"videoUrl"`
	MapLink          string    `json:"mapLink"`
	MapTitle         string    `json:"mapTitle"`
	ReplayDifficulty string    `json:"replayDifficulty"`
	ReplayUsername   string    `json:"replayUsername"`
	MapID            int       `json:"mapID"`
	NeedToRedownload bool      `json:"needToRedownload"`
	Skin             string    `json:"skin"`
	HasCursorMiddle  bool      `json:"hasCursorMiddle"`
	MotionBlur       bool      `json:"motionBlur960fps"`
	RenderStartTime  Timestamp `json:"renderStartTime"`
	RenderEndTime    Timestamp `json:"renderEndTime"`
	UploadEndTime    Timestamp `json:"uploadEndTime"`
	RenderTotalTime  int       `json:"renderTotalTime"`
	UploadTotalTime  int       `json:"uploadTotalTime"`
	MapLength        int       `json:"mapLength"`
	ReplayMods       string    `json:"replayMods"`
	Removed          bool      `json:"removed"`
}

type renderAlias Render

// UnmarshalJSON keeps option defaults for fields absent from the payload.
func (r *Render) UnmarshalJSON(data []byte) error {
	alias := renderAlias{RenderOptions: DefaultRenderOptions()}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*r = Render(alias)
	return nil
}

// RenderDuration is the time the renderer spent on the job, or zero if it
// has not finished rendering.
func (r Render) RenderDuration() time.Duration {
	if r.RenderStartTime.IsZero() || r.RenderEndTime.IsZero() {
		return 0
	}
	return r.RenderEndTime.Sub(r.RenderStartTime.Time)
}

// UploadDuration is the time between the end of rendering and the end of
// the upload.
func (r Render) UploadDuration() time.Duration {
	if r.RenderEndTime.IsZero() || r.UploadEndTime.IsZero() {
		return 0
	}
	return r.UploadEndTime.Sub(r.RenderEndTime.Time)
}

// Done reports whether the video is available.
func (r Render) Done() bool {
	return r.VideoURL != ""
}

// RendersResponse is a page of the render listing.
type RendersResponse struct {
	Renders    []Render `json:"renders"`
	MaxRenders int      `json:"maxRenders"`
}

// RenderCreateResponse acknowledges a queued render.
type RenderCreateResponse struct {
	Message  string `json:"message"`
	RenderID int    `json:"renderID"`
}

func (r *RenderCreateResponse) UnmarshalJSON(data []byte) error {
	type plain RenderCreateResponse
	if err := requireFields(data, "message", "renderID"); err != nil {
		return err
	}
	return json.Unmarshal(data, (*plain)(r))
}
