package models

// TranscriptSegment is one aligned span of narration
type TranscriptSegment struct {
	Text    string  `json:"text"`
	StartMs int64   `json:"start_ms"`
	EndMs   int64   `json:"end_ms"`
	Conf    float64 `json:"conf,omitempty"`
}

// VisualSlot is one planned visual beat of the video
type VisualSlot struct {
	Index       int    `json:"index"`
	Prompt      string `json:"prompt"`
	StartMs     int64  `json:"start_ms"`
	EndMs       int64  `json:"end_ms"`
	CaptionText string `json:"caption_text,omitempty"`
}

// VisualPlan is the ordered set of visual slots for a job
type VisualPlan struct {
	Style string       `json:"style,omitempty"`
	Slots []VisualSlot `json:"slots"`
}

// TimelineEntry places one image on the narration timeline
type TimelineEntry struct {
	ImagePath string `json:"image_path"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
}

// Timeline is the render-ready assembly of images over narration
type Timeline struct {
	NarrationPath string          `json:"narration_path"`
	Entries       []TimelineEntry `json:"entries"`
	TotalMs       int64           `json:"total_ms"`
}

// Artifacts is the typed bag of stage outputs. Fields are optional and
// append-only during a run: a stage only ever sets the fields it produces,
// and nothing is ever removed. The zero value of each field means
// "not produced yet".
type Artifacts struct {
	Script              string              `json:"script,omitempty"`
	NarrationPath       string              `json:"narration_path,omitempty"`
	NarrationDurationMs int64               `json:"narration_duration_ms,omitempty"`
	WhisperSegments     []TranscriptSegment `json:"whisper_segments,omitempty"`
	VisualPlan          *VisualPlan         `json:"visual_plan,omitempty"`
	ImagePaths          []string            `json:"image_paths,omitempty"`
	Timeline            *Timeline           `json:"timeline,omitempty"`
	VideoPath           string              `json:"video_path,omitempty"`
	ThumbnailPath       string              `json:"thumbnail_path,omitempty"`
	ZipPath             string              `json:"zip_path,omitempty"`
}

// Merge folds a stage's output delta into the accumulated artifacts.
// Only fields the delta actually set are copied; nothing is cleared.
func (a *Artifacts) Merge(delta Artifacts) {
	if delta.Script != "" {
		a.Script = delta.Script
	}
	if delta.NarrationPath != "" {
		a.NarrationPath = delta.NarrationPath
	}
	if delta.NarrationDurationMs != 0 {
		a.NarrationDurationMs = delta.NarrationDurationMs
	}
	if len(delta.WhisperSegments) > 0 {
		a.WhisperSegments = delta.WhisperSegments
	}
	if delta.VisualPlan != nil {
		a.VisualPlan = delta.VisualPlan
	}
	if len(delta.ImagePaths) > 0 {
		a.ImagePaths = delta.ImagePaths
	}
	if delta.Timeline != nil {
		a.Timeline = delta.Timeline
	}
	if delta.VideoPath != "" {
		a.VideoPath = delta.VideoPath
	}
	if delta.ThumbnailPath != "" {
		a.ThumbnailPath = delta.ThumbnailPath
	}
	if delta.ZipPath != "" {
		a.ZipPath = delta.ZipPath
	}
}
