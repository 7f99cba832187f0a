package models

// RenderServer is a renderer registered with o!rdr.
type RenderServer struct {
	Enabled                 bool          `json:"enabled,omitempty"`
	LastSeen                Timestamp     `json:"lastSeen,omitempty"`
	Name                    string        `json:"name,omitempty"`
	Priority                float64       `json:"priority,omitempty"`
	OldScore                float64       `json:"oldScore,omitempty"`
	AvgFPS                  int           `json:"avgFPS,omitempty"`
	Power                   string        `json:"power,omitempty"`
	Status                  string        `json:"status,omitempty"`
	Progress                string        `json:"progress,omitempty"`
	RenderingType           string        `json:"renderingType,omitempty"`
	CPU                     string        `json:"cpu,omitempty"`
	GPU                     string        `json:"gpu,omitempty"`
	MotionBlurCapable       bool          `json:"motionBlurCapable,omitempty"`
	UsingOsuAPI             bool          `json:"usingOsuApi,omitempty"`
	UHDCapable              bool          `json:"uhdCapable,omitempty"`
	AvgRenderTime           float64       `json:"avgRenderTime,omitempty"`
	AvgUploadTime           float64       `json:"avgUploadTime,omitempty"`
	TotalAvgTime            float64       `json:"totalAvgTime,omitempty"`
	TotalUploadedVideosSize int64         `json:"totalUploadedVideosSize,omitempty"`
	OwnerUserID             int           `json:"ownerUserId,omitempty"`
	OwnerUsername           string        `json:"ownerUsername,omitempty"`
	Customization           Customization `json:"customization,omitempty"`
}

// Customization is the renderer's display style on the o!rdr site.
type Customization struct {
	TextColor      string `json:"textColor,omitempty"`
	BackgroundType int    `json:"backgroundType,omitempty"`
}

// Online reports whether the server is currently accepting work.
func (s RenderServer) Online() bool {
	return s.Enabled && s.Status != "" && s.Status != "offline"
}

// ServersResponse wraps the server listing.
type ServersResponse struct {
	Servers []RenderServer `json:"servers"`
}
