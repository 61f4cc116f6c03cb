// Package provider holds the adapters for external content fetch and scoring
// backends. Adapters return plain result records and never error for expected
// failure modes; errors are reserved for programmer mistakes.
package provider

// Attempt records one try against a provider, win or lose. The full attempt
// list rides along on the final result for observability.
type Attempt struct {
	Attempt    int    `json:"attempt"`
	OK         bool   `json:"ok"`
	HTTPStatus int    `json:"http_status,omitempty"`
	RunStatus  string `json:"run_status,omitempty"`
	Blocked    bool   `json:"blocked,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FetchResult is the structured outcome of one listing fetch. The same shape
// serves both the managed actor and the direct fetch path.
type FetchResult struct {
	ASIN     string `json:"asin"`
	URL      string `json:"url,omitempty"`
	OK       bool   `json:"ok"`
	Provider string `json:"provider,omitempty"`
	Cached   bool   `json:"cached,omitempty"` // served from the scrape cache

	HTTPStatus int    `json:"http_status,omitempty"`
	RunStatus  string `json:"run_status,omitempty"` // provider-reported run state
	RunID      string `json:"run_id,omitempty"`
	Blocked    bool   `json:"blocked,omitempty"` // hard bot/CAPTCHA block
	Error      string `json:"error,omitempty"`

	Title        string   `json:"title,omitempty"`
	Bullets      []string `json:"bullets,omitempty"`
	MainImageURL string   `json:"main_image_url,omitempty"`
	ImageURLs    []string `json:"image_urls,omitempty"`

	AttemptCount int       `json:"attempt_count,omitempty"`
	Attempts     []Attempt `json:"attempts,omitempty"`

	// Populated on the direct result when the actor path was tried first
	// and failed, so provenance of the fallback is auditable.
	ActorError    string    `json:"actor_error,omitempty"`
	ActorAttempts []Attempt `json:"actor_attempts,omitempty"`
}

// ImageMeta is the outcome of one size-limited image download.
type ImageMeta struct {
	URL             string `json:"url"`
	OK              bool   `json:"ok"`
	HTTPStatus      int    `json:"http_status,omitempty"`
	Error           string `json:"error,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	BytesDownloaded int    `json:"bytes_downloaded,omitempty"`
	Truncated       bool   `json:"truncated,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
}

func attemptFromResult(res FetchResult, n int) Attempt {
	return Attempt{
		Attempt:    n,
		OK:         res.OK,
		HTTPStatus: res.HTTPStatus,
		RunStatus:  res.RunStatus,
		Blocked:    res.Blocked,
		Error:      res.Error,
	}
}
