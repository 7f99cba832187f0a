package models

// Skin is an entry of the public skin listing.
type Skin struct {
	ID               int    `json:"id"`
	Skin             string `json:"skin"`
	PresentationName string `json:"presentationName"`
	URL              string `json:"url"`
	HighResPreview   string `json:"highResPreview"`
	LowResPreview    string `json:"lowResPreview"`
	GridPreview      string `json:"gridPreview"`
	HasCursorMiddle  bool   `json:"hasCursorMiddle"`
	Author           string `json:"author"`
	Modified         bool   `json:"modified"`
	Version          string `json:"version"`
	AlphabeticalID   int    `json:"alphabeticalId"`
	TimesUsed        int    `json:"timesUsed"`
}

// SkinsResponse is a page of the skin listing.
type SkinsResponse struct {
	Found    bool   `json:"found"`
	Message  string `json:"message"`
	Skins    []Skin `json:"skins"`
	MaxSkins int    `json:"maxSkins"`
}

// SkinCompact describes a custom skin looked up by id.
type SkinCompact struct {
	Found        bool   `json:"found"`
	Removed      bool   `json:"removed"`
	Message      string `json:"message"`
	SkinName     string `json:"skinName"`
	SkinAuthor   string `json:"skinAuthor"`
	DownloadLink string `json:"downloadLink"`
}
