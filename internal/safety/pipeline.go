// Package safety classifies outbound drafts as safe or blocked using a local
// denylist and an optional remote reputation provider.
package safety

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/ephemera/internal/crypto"
	"github.com/eldtechnologies/ephemera/internal/metrics"
	"github.com/eldtechnologies/ephemera/internal/models"
	"github.com/eldtechnologies/ephemera/internal/store"
)

// Options configures a Pipeline.
type Options struct {
	Scanner         Scanner
	Denylist        *Denylist
	Cache           store.VerdictCache
	CacheTTL        time.Duration
	FileScanTimeout time.Duration
	URLScanTimeout  time.Duration
	Logger          zerolog.Logger
}

// Pipeline is the content safety pipeline.
type Pipeline struct {
	scanner     Scanner
	denylist    *Denylist
	cache       store.VerdictCache
	cacheTTL    time.Duration
	fileTimeout time.Duration
	urlTimeout  time.Duration
	logger      zerolog.Logger
}

// NewPipeline creates a pipeline. A nil scanner becomes NopScanner and a
// nil denylist becomes the default one.
func NewPipeline(opts Options) *Pipeline {
	if opts.Scanner == nil {
		opts.Scanner = NopScanner{}
	}
	if opts.Denylist == nil {
		opts.Denylist = NewDenylist()
	}
	if opts.Cache == nil {
		opts.Cache = store.NewMemoryCache(1024)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.FileScanTimeout <= 0 {
		opts.FileScanTimeout = 45 * time.Second
	}
	if opts.URLScanTimeout <= 0 {
		opts.URLScanTimeout = 10 * time.Second
	}
	return &Pipeline{
		scanner:     opts.Scanner,
		denylist:    opts.Denylist,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		fileTimeout: opts.FileScanTimeout,
		urlTimeout:  opts.URLScanTimeout,
		logger:      opts.Logger.With().Str("component", "safety").Logger(),
	}
}

// Scanner returns the remote scanner in use.
func (p *Pipeline) Scanner() Scanner { return p.scanner }

// Denylist returns the local matcher in use.
func (p *Pipeline) Denylist() *Denylist { return p.denylist }

// Evaluate classifies a draft. It may block for as long as the remote scan
// timeout and must not be called while holding shared locks.
func (p *Pipeline) Evaluate(ctx context.Context, d *models.Draft) models.Assessment {
	var a models.Assessment

	if d.Kind.IsTextual() {
		if u, ok := FirstURL(d.Content); ok {
			a.Remote, a.Cached = p.checkURL(ctx, u)
		}
	} else {
		a.Remote, a.Cached = p.scanFile(ctx, d)
	}
	a.RemoteScanned = a.Remote != nil

	subject := d.Filename
	if subject == "" && d.Kind.IsTextual() {
		subject = d.Content
	}
	a.Threats = p.denylist.Match(subject)
	for _, tok := range a.Threats {
		metrics.PatternHits.WithLabelValues(tok).Inc()
	}

	a.Blocked = len(a.Threats) > 0 || (a.Remote != nil && !a.Remote.Safe())
	return a
}

func (p *Pipeline) scanFile(ctx context.Context, d *models.Draft) (*models.ScanResult, bool) {
	data, err := DecodeContent(d.Content)
	if err != nil {
		p.logger.Debug().Str("kind", string(d.Kind)).Msg("file content not decodable, skipping remote scan")
		return nil, false
	}
	key := "file:" + crypto.Fingerprint(data)

	return p.remote(ctx, "file", key, p.fileTimeout, func(ctx context.Context) (*models.ScanResult, error) {
		return p.scanner.ScanFile(ctx, d.Filename, data)
	})
}

func (p *Pipeline) checkURL(ctx context.Context, rawURL string) (*models.ScanResult, bool) {
	host := HostOf(rawURL)
	if host == "" {
		return nil, false
	}
	return p.remote(ctx, "url", "host:"+host, p.urlTimeout, func(ctx context.Context) (*models.ScanResult, error) {
		return p.scanner.CheckURL(ctx, rawURL)
	})
}

// remote runs one provider call with a deadline and caches the result.
// Failures are logged and reported as an absent result. The second return
// value is true when the result was served from the cache.
func (p *Pipeline) remote(ctx context.Context, typ, key string, timeout time.Duration, call func(context.Context) (*models.ScanResult, error)) (*models.ScanResult, bool) {
	if cached, ok := p.cache.GetVerdict(ctx, key); ok {
		metrics.ScansTotal.WithLabelValues(typ, "cached").Inc()
		return cached, true
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := call(ctx)
	if err == nil && result == nil {
		return nil, false
	}
	metrics.ScanLatency.WithLabelValues(typ).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ScansTotal.WithLabelValues(typ, "error").Inc()
		evt := p.logger.Warn()
		if errors.Is(err, context.Canceled) {
			evt = p.logger.Debug()
		}
		evt.Err(err).Str("type", typ).Str("scanner", p.scanner.Name()).Msg("remote scan failed, using pattern scan only")
		return nil, false
	}
	outcome := "safe"
	if !result.Safe() {
		outcome = "unsafe"
	}
	metrics.ScansTotal.WithLabelValues(typ, outcome).Inc()
	p.logger.Info().
		Str("type", typ).
		Int("malicious", result.Malicious).
		Int("suspicious", result.Suspicious).
		Int("harmless", result.Harmless).
		Dur("latency", time.Since(start)).
		Msg("remote scan completed")

	if err := p.cache.PutVerdict(context.WithoutCancel(ctx), key, result, p.cacheTTL); err != nil {
		p.logger.Warn().Err(err).Msg("cache verdict")
	}
	return result, false
}
