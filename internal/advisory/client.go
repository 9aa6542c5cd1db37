// Package advisory fetches third-party content-advisory reports for a title
// and caches them in the database. Reports contribute a text signal to
// confidence aggregation; their markers carry no timestamps and must be
// verified against visual evidence before anything is cut.
package advisory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"

	"github.com/purecut/purecut/internal/content"
	"github.com/purecut/purecut/internal/errs"
)

// Item is one descriptive advisory marker.
type Item struct {
	Category    content.Category `json:"category"`
	Severity    content.Severity `json:"severity"`
	Description string           `json:"description"`
}

// Report is the advisory view of a title.
type Report struct {
	Title      string                                `json:"title"`
	Categories map[content.Category]content.Severity `json:"categories"`
	Items      []Item                                `json:"items"`
	FetchedAt  time.Time                             `json:"fetched_at"`
}

// MaxSeverityFor returns the report's severity for a category, or none.
func (r *Report) MaxSeverityFor(cat content.Category) content.Severity {
	if r == nil {
		return content.SeverityNone
	}
	return r.Categories[cat]
}

// Client talks to the advisory provider's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     hclog.Logger
}

// NewClient creates an advisory API client.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger hclog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Fetch retrieves the advisory report for a title. A 404 means the provider
// has no entry and returns a nil report without error; other failures are
// external service errors.
func (c *Client) Fetch(ctx context.Context, title string) (*Report, error) {
	if c.baseURL == "" {
		return nil, nil
	}

	reqURL := fmt.Sprintf("%s/advisories?title=%s", c.baseURL, url.QueryEscape(title))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errs.NewExternalServiceError("advisory", false, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewExternalServiceError("advisory", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("no advisory entry for title", "title", title)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, errs.NewExternalServiceError("advisory", retryable,
			fmt.Errorf("advisory API returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewExternalServiceError("advisory", true, err)
	}

	report := ParseReport(body)
	report.Title = title
	report.FetchedAt = time.Now()

	c.logger.Info("fetched advisory report", "title", title,
		"categories", len(report.Categories), "items", len(report.Items))
	return report, nil
}

// ParseReport converts the provider's JSON payload into a Report.
func ParseReport(body []byte) *Report {
	report := &Report{
		Categories: make(map[content.Category]content.Severity),
	}

	gjson.GetBytes(body, "categories").ForEach(func(_, section gjson.Result) bool {
		cat, ok := mapCategoryName(section.Get("name").String())
		if !ok {
			return true
		}
		sev := content.ParseSeverity(section.Get("severity").String())
		report.Categories[cat] = content.MaxSeverity(report.Categories[cat], sev)

		section.Get("items").ForEach(func(_, item gjson.Result) bool {
			itemSev := content.ParseSeverity(item.Get("severity").String())
			if itemSev == content.SeverityNone {
				itemSev = sev
			}
			report.Items = append(report.Items, Item{
				Category:    cat,
				Severity:    itemSev,
				Description: item.Get("description").String(),
			})
			return true
		})
		return true
	})

	return report
}

// mapCategoryName translates provider section names to internal categories.
func mapCategoryName(name string) (content.Category, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sex & nudity", "sex and nudity", "sexual content", "sex":
		return content.CategorySexualContent, true
	case "nudity":
		return content.CategoryNudity, true
	case "kissing", "romance":
		return content.CategoryKissing, true
	case "immodesty", "immodest clothing", "revealing clothing":
		return content.CategoryImmodesty, true
	case "violence & gore", "violence and gore", "violence":
		return content.CategoryViolence, true
	case "gore":
		return content.CategoryGore, true
	case "profanity", "language":
		return content.CategoryProfanity, true
	case "alcohol, drugs & smoking", "substance use", "drugs", "alcohol":
		return content.CategorySubstanceUse, true
	default:
		return "", false
	}
}
