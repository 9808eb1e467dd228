package domain

// FetchRequest is what a worker hands to the extraction backend
type FetchRequest struct {
	JobID               string
	SourceReference     string
	OutputDirectory     string
	FormatSelector      string
	CredentialReference string
}

// Format describes one downloadable rendition of a media item
type Format struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	VCodec     string  `json:"vcodec,omitempty"`
	ACodec     string  `json:"acodec,omitempty"`
	Filesize   int64   `json:"filesize,omitempty"`
	TBR        float64 `json:"tbr,omitempty"`
	Note       string  `json:"format_note,omitempty"`
}

// MediaInfo is probe-only metadata about a source
type MediaInfo struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Uploader        string   `json:"uploader,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	Ext             string   `json:"ext,omitempty"`
	WebpageURL      string   `json:"webpage_url,omitempty"`
	Thumbnail       string   `json:"thumbnail,omitempty"`
	Description     string   `json:"description,omitempty"`
	Formats         []Format `json:"formats,omitempty"`
}
