package provider

import (
	"encoding/json"
	"html"
	"regexp"
	"sort"
	"strings"
)

// parsedListing is the subset of page content the pipeline consumes.
type parsedListing struct {
	Title        string
	Bullets      []string
	MainImageURL string
	ImageURLs    []string
}

var (
	titleRe     = regexp.MustCompile(`(?is)<span[^>]*id="productTitle"[^>]*>(.*?)</span>`)
	bulletsRe   = regexp.MustCompile(`(?is)<div[^>]*id="feature-bullets"[^>]*>(.*?)</div>`)
	listItemRe  = regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`)
	dynImageRe  = regexp.MustCompile(`(?is)data-a-dynamic-image="([^"]+)"`)
	landingRe   = regexp.MustCompile(`(?is)<img[^>]*id="landingImage"[^>]*src="([^"]+)"`)
	oldHiResRe  = regexp.MustCompile(`(?is)data-old-hires="([^"]+)"`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
	spaceRe     = regexp.MustCompile(`\s+`)
	wordRe      = regexp.MustCompile(`[A-Za-z0-9]+`)
)

func stripTags(raw string) string { return tagRe.ReplaceAllString(raw, "") }

func normalizeWS(raw string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(raw, " "))
}

// parseListingHTML extracts the title, feature bullets and the image set from
// raw page HTML. The dynamic-image map is preferred because it carries pixel
// dimensions; the largest rendition becomes the main image.
func parseListingHTML(pageHTML string) parsedListing {
	var out parsedListing

	if m := titleRe.FindStringSubmatch(pageHTML); m != nil {
		out.Title = normalizeWS(stripTags(html.UnescapeString(m[1])))
	}

	if fb := bulletsRe.FindStringSubmatch(pageHTML); fb != nil {
		for _, li := range listItemRe.FindAllStringSubmatch(fb[1], -1) {
			text := normalizeWS(stripTags(html.UnescapeString(li[1])))
			if text == "" || strings.HasPrefix(strings.ToLower(text), "make sure this fits") {
				continue
			}
			out.Bullets = append(out.Bullets, text)
			if len(out.Bullets) >= 10 {
				break
			}
		}
	}

	if dyn := dynImageRe.FindStringSubmatch(pageHTML); dyn != nil {
		var dimMap map[string][]int
		if err := json.Unmarshal([]byte(html.UnescapeString(dyn[1])), &dimMap); err == nil {
			type rendition struct {
				area int
				url  string
			}
			items := make([]rendition, 0, len(dimMap))
			for u, dims := range dimMap {
				if len(dims) == 2 && dims[0] > 0 && dims[1] > 0 {
					items = append(items, rendition{area: dims[0] * dims[1], url: u})
				}
			}
			sort.Slice(items, func(i, j int) bool {
				if items[i].area != items[j].area {
					return items[i].area > items[j].area
				}
				return items[i].url > items[j].url
			})
			for i, it := range items {
				if i == 0 {
					out.MainImageURL = it.url
				}
				if i < 15 {
					out.ImageURLs = append(out.ImageURLs, it.url)
				}
			}
		}
	}

	if out.MainImageURL == "" {
		if m := landingRe.FindStringSubmatch(pageHTML); m != nil {
			out.MainImageURL = html.UnescapeString(m[1])
		}
	}
	if len(out.ImageURLs) == 0 && out.MainImageURL != "" {
		out.ImageURLs = []string{out.MainImageURL}
	}

	if len(out.ImageURLs) < 2 {
		for _, m := range oldHiResRe.FindAllStringSubmatch(pageHTML, -1) {
			u := strings.TrimSpace(html.UnescapeString(m[1]))
			if u != "" && !contains(out.ImageURLs, u) {
				out.ImageURLs = append(out.ImageURLs, u)
			}
			if len(out.ImageURLs) >= 15 {
				break
			}
		}
	}
	if out.MainImageURL == "" && len(out.ImageURLs) > 0 {
		out.MainImageURL = out.ImageURLs[0]
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SafeWords tokenizes marketing copy into lowercase alphanumeric words of at
// least 3 chars, dropping stopwords. Shared by the text heuristics.
func SafeWords(text string) []string {
	stop := map[string]bool{
		"the": true, "and": true, "for": true, "with": true, "your": true,
		"you": true, "from": true, "this": true, "that": true, "are": true,
		"not": true, "was": true, "were": true, "has": true, "have": true,
		"all": true, "new": true, "best": true, "amazon": true, "com": true,
	}
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) >= 3 && !stop[w] {
			out = append(out, w)
		}
	}
	return out
}
