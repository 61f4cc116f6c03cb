package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DirectClient fetches the listing page straight from the marketplace. It is
// the fallback when the managed actor is unavailable or failing.
type DirectClient struct {
	HTTP *http.Client
}

func NewDirectClient() *DirectClient {
	return &DirectClient{HTTP: &http.Client{Timeout: 25 * time.Second}}
}

var blockNeedles = []string{
	"enter the characters you see below",
	"type the characters you see in this image",
	"/captcha/",
	"captcha",
	"robot check",
}

// looksBlocked detects the marketplace's bot interstitial; a blocked response
// is a hard failure that must never be retried.
func looksBlocked(pageHTML string) bool {
	lowered := strings.ToLower(pageHTML)
	for _, n := range blockNeedles {
		if strings.Contains(lowered, n) {
			return true
		}
	}
	return false
}

func (c *DirectClient) Fetch(ctx context.Context, asin string) FetchResult {
	listingURL := "https://www.amazon.com/dp/" + asin
	res := FetchResult{ASIN: asin, URL: listingURL, Provider: "direct_html"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
	if err != nil {
		res.Error = "build request: " + err.Error()
		return res
	}
	req.Header.Set("User-Agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		res.Error = "listing fetch failed: " + err.Error()
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		res.HTTPStatus = resp.StatusCode
		res.Error = "read listing body: " + err.Error()
		return res
	}

	pageHTML := string(body)
	res.HTTPStatus = resp.StatusCode
	res.URL = resp.Request.URL.String()
	res.Blocked = looksBlocked(pageHTML)
	res.OK = resp.StatusCode == http.StatusOK && !res.Blocked

	if !res.OK {
		if res.Blocked {
			res.Error = "marketplace blocked the request (captcha/robot check)"
		} else {
			res.Error = fmt.Sprintf("HTTP %d fetching product page", resp.StatusCode)
		}
		return res
	}

	listing := parseListingHTML(pageHTML)
	res.Title = listing.Title
	res.Bullets = listing.Bullets
	res.MainImageURL = listing.MainImageURL
	res.ImageURLs = listing.ImageURLs
	return res
}
