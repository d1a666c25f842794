// Package detector decides whether a domain runs WordPress and estimates its
// plugins and theme from public HTML.
package detector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/ratelimit"
	"github.com/wprank/backend/pkg/config"
	"github.com/wprank/backend/pkg/logger"
)

// Status tags the outcome of an analysis.
type Status string

const (
	// StatusAnalyzed means the homepage was fetched and classified, whatever
	// the classification.
	StatusAnalyzed Status = "analyzed"
	// StatusSkipped means policy forbade crawling the site.
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Error codes carried by skipped and failed results.
const (
	ErrCodeRobotsDisallowed = "robots_txt_disallowed"
	ErrCodeFetchFailed      = "fetch_failed"
	ErrCodeAnalysisFailed   = "analysis_failed"
)

type Result struct {
	Status         Status
	IsWordPress    bool
	RESTConfirmed  bool
	Signatures     []string
	ThemeName      string
	PluginCount    int
	Plugins        []string
	PluginEvidence []string
	WPVersion      string
	// Error is empty for analyzed results.
	Error          string
}

var (
	schemes       = []string{"https", "http"}
	restEndpoints = []string{"/wp-json/", "/wp-json/wp/v2/"}
)

type Detector struct {
	client  *http.Client
	limiter ratelimit.DomainLimiter
	cfg     config.CrawlerConfig
}

// NewHTTPClient builds the crawling client. Certificate errors are tolerated
// when configured since arbitrary sites often serve broken chains.
func NewHTTPClient(cfg config.CrawlerConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec
	transport.MaxIdleConnsPerHost = 2

	return &http.Client{
		Timeout:   cfg.HomepageTimeout,
		Transport: transport,
	}
}

// New returns a detector. A nil client gets NewHTTPClient(cfg).
func New(cfg config.CrawlerConfig, limiter ratelimit.DomainLimiter, client *http.Client) *Detector {
	if client == nil {
		client = NewHTTPClient(cfg)
	}
	if limiter == nil {
		limiter = ratelimit.NewLocal(cfg.MinDomainInterval())
	}
	return &Detector{client: client, limiter: limiter, cfg: cfg}
}

// Analyze runs the robots check, REST probe, homepage fetch and HTML
// heuristics for domain. It never returns an error: every failure is a
// tagged Result.
func (d *Detector) Analyze(ctx context.Context, domain string) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Result{Status: StatusFailed, Error: fmt.Sprintf("%s: %v", ErrCodeAnalysisFailed, r)}
		}
		logger.FromContext(ctx).Debug("Domain analyzed",
			zap.String("status", string(result.Status)),
			zap.Bool("is_wordpress", result.IsWordPress),
			zap.Int("plugin_count", result.PluginCount),
			zap.String("error", result.Error),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	disallowed, err := d.robotsDisallowed(ctx, domain)
	if err != nil {
		return failed(err)
	}
	if disallowed {
		return Result{Status: StatusSkipped, Error: ErrCodeRobotsDisallowed}
	}

	restConfirmed, err := d.probeREST(ctx, domain)
	if err != nil {
		return failed(err)
	}

	html, err := d.fetchHomepage(ctx, domain)
	if err != nil {
		if ctx.Err() != nil {
			return failed(ctx.Err())
		}
		logger.FromContext(ctx).Debug("Homepage fetch failed", zap.Error(err))
		return Result{Status: StatusFailed, Error: ErrCodeFetchFailed}
	}

	return d.classify(html, restConfirmed)
}

// classify applies the HTML heuristics to a fetched homepage.
func (d *Detector) classify(html string, restConfirmed bool) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return failed(fmt.Errorf("parse homepage: %w", err))
	}

	res := Result{Status: StatusAnalyzed, RESTConfirmed: restConfirmed}
	if restConfirmed {
		res.IsWordPress = true
	} else {
		ev := MatchSignatures(doc)
		res.Signatures = ev.Names
		res.IsWordPress = ev.Independent >= minSignatures
	}

	if !res.IsWordPress {
		return res
	}

	res.Plugins, res.PluginEvidence = estimatePlugins(html, d.cfg.PluginEvidenceCap)
	res.PluginCount = len(res.Plugins)
	res.ThemeName = detectTheme(html)
	res.WPVersion = wordPressVersion(doc)
	return res
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Error: fmt.Sprintf("%s: %v", ErrCodeAnalysisFailed, err)}
}

// robotsDisallowed reads robots.txt over HTTPS, falling back to HTTP when the
// HTTPS request cannot be made. Missing or unreadable files allow crawling.
func (d *Detector) robotsDisallowed(ctx context.Context, domain string) (bool, error) {
	for _, scheme := range schemes {
		resp, err := d.get(ctx, domain, scheme+"://"+domain+"/robots.txt")
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}

		body, readErr := d.readBody(resp)
		if readErr != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return false, nil
		}
		return robotsDisallowsAll(body), nil
	}
	return false, nil
}

// probeREST looks for the WordPress REST index. Any 200 JSON object with a
// name, description or namespaces key confirms WordPress.
func (d *Detector) probeREST(ctx context.Context, domain string) (bool, error) {
	for _, scheme := range schemes {
		for _, path := range restEndpoints {
			resp, err := d.get(ctx, domain, scheme+"://"+domain+path)
			if err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				continue
			}

			body, err := d.readBody(resp)
			if err != nil || resp.StatusCode != http.StatusOK {
				continue
			}
			if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "json") {
				continue
			}
			if isRESTIndex(body) {
				return true, nil
			}
		}
	}
	return false, nil
}

func isRESTIndex(body string) bool {
	if !gjson.Valid(body) {
		return false
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return false
	}
	for _, key := range []string{"name", "description", "namespaces"} {
		if doc.Get(key).Exists() {
			return true
		}
	}
	return false
}

var errBadStatus = errors.New("unacceptable status")

// fetchHomepage returns the first homepage body served with a status in
// [200,400), trying HTTPS before HTTP.
func (d *Detector) fetchHomepage(ctx context.Context, domain string) (string, error) {
	var lastErr error
	for _, scheme := range schemes {
		resp, err := d.get(ctx, domain, scheme+"://"+domain+"/")
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		body, err := d.readBody(resp)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("%w: %d from %s", errBadStatus, resp.StatusCode, scheme)
			continue
		}
		return body, nil
	}
	return "", lastErr
}

// get waits for the domain's rate-limit slot and issues a GET.
func (d *Detector) get(ctx context.Context, domain, url string) (*http.Response, error) {
	if err := d.limiter.Wait(ctx, domain); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	return d.client.Do(req)
}

func (d *Detector) readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()

	limit := d.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 5 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(data), nil
}
