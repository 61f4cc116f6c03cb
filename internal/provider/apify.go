package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apifyBaseURL = "https://api.apify.com/v2"

// pageFunction is the extraction script shipped to the generic web-scraper
// actor. It pulls only the fields the pipeline consumes.
const pageFunction = `
async function pageFunction(context) {
  const { request } = context;
  const clean = (v) => (v || '').replace(/\s+/g, ' ').trim();
  const titleNode = document.querySelector('#productTitle');
  const title = clean(titleNode ? titleNode.textContent : '');

  const bullets = Array.from(
    document.querySelectorAll('#feature-bullets li span.a-list-item')
  ).map((el) => clean(el.textContent || '')).filter(Boolean).slice(0, 10);

  const landingImage = document.querySelector('#landingImage');
  const mainImage = landingImage ? landingImage.getAttribute('src') : null;

  const imageUrls = [];
  for (const el of Array.from(document.querySelectorAll('[data-old-hires]'))) {
    const v = clean(el.getAttribute('data-old-hires') || '');
    if (v && !imageUrls.includes(v)) imageUrls.push(v);
    if (imageUrls.length >= 15) break;
  }
  if (mainImage && !imageUrls.includes(mainImage)) imageUrls.unshift(mainImage);

  return {
    url: request.url,
    asin: (request.url.match(/\/dp\/([A-Z0-9]{10})/i) || [null, null])[1],
    title,
    bullets,
    main_image_url: mainImage,
    image_urls: imageUrls.slice(0, 15),
  };
}`

// ActorClient drives the managed scraping actor: start a run, poll its status
// until it reaches a terminal state, then read the default dataset.
type ActorClient struct {
	HTTP         *http.Client
	APIKey       string
	ActorID      string
	RunTimeout   time.Duration
	PollInterval time.Duration
}

func NewActorClient(apiKey, actorID string, runTimeout, pollInterval time.Duration) *ActorClient {
	return &ActorClient{
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		APIKey:       apiKey,
		ActorID:      actorID,
		RunTimeout:   runTimeout,
		PollInterval: pollInterval,
	}
}

func (c *ActorClient) Fetch(ctx context.Context, asin string) FetchResult {
	listingURL := "https://www.amazon.com/dp/" + asin
	res := FetchResult{ASIN: asin, URL: listingURL, Provider: "apify_actor"}

	payload := map[string]any{
		"startUrls":           []map[string]string{{"url": listingURL}},
		"maxPagesPerCrawl":    1,
		"maxRequestsPerCrawl": 1,
		"proxyConfiguration":  map[string]any{"useApifyProxy": true},
		"pageFunction":        strings.TrimSpace(pageFunction),
	}
	body, _ := json.Marshal(payload)

	startURL := fmt.Sprintf("%s/acts/%s/runs?token=%s", apifyBaseURL, url.PathEscape(c.ActorID), url.QueryEscape(c.APIKey))
	status, startBody, err := c.post(ctx, startURL, body)
	if err != nil {
		res.Error = "actor start run failed: " + err.Error()
		return res
	}
	if status != http.StatusOK && status != http.StatusCreated {
		res.HTTPStatus = status
		res.Error = fmt.Sprintf("actor start failed with HTTP %d", status)
		return res
	}

	var started struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(startBody, &started); err != nil || started.Data.ID == "" {
		res.Error = "actor start response missing run id"
		return res
	}
	res.RunID = started.Data.ID

	runStatus, datasetID, statusMessage, pollRes := c.pollRun(ctx, started.Data.ID)
	if pollRes != nil {
		pollRes.ASIN = asin
		pollRes.URL = listingURL
		pollRes.RunID = started.Data.ID
		return *pollRes
	}
	if runStatus != "SUCCEEDED" {
		res.RunStatus = runStatus
		res.Error = fmt.Sprintf("actor run did not succeed (status=%s)", runStatus)
		if statusMessage != "" {
			res.Error += " " + statusMessage
		}
		return res
	}
	if datasetID == "" {
		res.Error = "actor run succeeded but default dataset id is missing"
		return res
	}
	return c.fetchItems(ctx, res, datasetID)
}

func (c *ActorClient) pollRun(ctx context.Context, runID string) (status, datasetID, statusMessage string, fail *FetchResult) {
	status = "RUNNING"
	deadline := time.Now().Add(c.RunTimeout)
	for time.Now().Before(deadline) {
		runURL := fmt.Sprintf("%s/actor-runs/%s?token=%s", apifyBaseURL, url.PathEscape(runID), url.QueryEscape(c.APIKey))
		httpStatus, body, err := c.get(ctx, runURL)
		if err != nil {
			return "", "", "", &FetchResult{Provider: "apify_actor", Error: "actor run polling failed: " + err.Error()}
		}
		if httpStatus >= 400 {
			return "", "", "", &FetchResult{
				Provider:   "apify_actor",
				HTTPStatus: httpStatus,
				Error:      fmt.Sprintf("actor run polling returned HTTP %d", httpStatus),
			}
		}
		var run struct {
			Data struct {
				Status           string `json:"status"`
				StatusMessage    string `json:"statusMessage"`
				DefaultDatasetID string `json:"defaultDatasetId"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &run); err == nil {
			if run.Data.Status != "" {
				status = run.Data.Status
			}
			statusMessage = run.Data.StatusMessage
			if run.Data.DefaultDatasetID != "" {
				datasetID = run.Data.DefaultDatasetID
			}
		}
		switch status {
		case "SUCCEEDED", "FAILED", "ABORTED", "TIMED-OUT":
			return status, datasetID, statusMessage, nil
		}
		select {
		case <-ctx.Done():
			return "", "", "", &FetchResult{Provider: "apify_actor", Error: "actor run polling cancelled: " + ctx.Err().Error()}
		case <-time.After(c.PollInterval):
		}
	}
	return status, datasetID, statusMessage, nil
}

func (c *ActorClient) fetchItems(ctx context.Context, res FetchResult, datasetID string) FetchResult {
	itemsURL := fmt.Sprintf("%s/datasets/%s/items?token=%s&clean=true&format=json",
		apifyBaseURL, url.PathEscape(datasetID), url.QueryEscape(c.APIKey))
	httpStatus, body, err := c.get(ctx, itemsURL)
	if err != nil {
		res.Error = "actor dataset fetch failed: " + err.Error()
		return res
	}
	if httpStatus != http.StatusOK {
		res.HTTPStatus = httpStatus
		res.Error = fmt.Sprintf("actor dataset items failed with HTTP %d", httpStatus)
		return res
	}

	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil || len(items) == 0 {
		res.Error = "actor returned no dataset items"
		return res
	}
	item := items[0]

	res.Title, _ = item["title"].(string)
	if raw, ok := item["bullets"].([]any); ok {
		for _, b := range raw {
			if s, ok := b.(string); ok && s != "" {
				res.Bullets = append(res.Bullets, s)
			}
			if len(res.Bullets) >= 10 {
				break
			}
		}
	}
	res.ImageURLs = normalizeActorImageURLs(item)
	if u, ok := item["main_image_url"].(string); ok && u != "" {
		res.MainImageURL = u
	} else if len(res.ImageURLs) > 0 {
		res.MainImageURL = res.ImageURLs[0]
	}
	if u, ok := item["url"].(string); ok && u != "" {
		res.URL = u
	}

	res.OK = res.Title != "" && res.MainImageURL != ""
	if !res.OK {
		res.Error = "actor returned incomplete listing payload"
	}
	return res
}

// normalizeActorImageURLs tolerates the field spellings different actors use
// for gallery images.
func normalizeActorImageURLs(item map[string]any) []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		if u != "" && !seen[u] && len(out) < 15 {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, key := range []string{"image_urls", "images", "gallery", "galleryImages"} {
		list, ok := item[key].([]any)
		if !ok {
			continue
		}
		for _, v := range list {
			switch t := v.(type) {
			case string:
				add(t)
			case map[string]any:
				for _, k := range []string{"url", "src", "hiRes", "large"} {
					if u, ok := t[k].(string); ok && u != "" {
						add(u)
						break
					}
				}
			}
		}
	}
	for _, key := range []string{"main_image_url", "mainImage", "image", "imageUrl"} {
		if u, ok := item[key].(string); ok && u != "" && !seen[u] {
			out = append([]string{u}, out...)
			break
		}
	}
	if len(out) > 15 {
		out = out[:15]
	}
	return out
}

func (c *ActorClient) post(ctx context.Context, u string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *ActorClient) get(ctx context.Context, u string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	return c.do(req)
}

func (c *ActorClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
