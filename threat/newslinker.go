package threat

import (
	"context"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dlclark/regexp2"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/metrics"
)

const (
	maxDomainMatches    = 10
	defaultMatchTimeout = 100 * time.Millisecond

	bloomMinCapacity   = 1024
	bloomFalsePositive = 0.001
)

const (
	ipExtractPattern     = `\b(?:\d{1,3}\.){3}\d{1,3}\b`
	domainExtractPattern = `\b[a-z0-9-]+\.[a-z]{2,}\b`
)

// indicatorExtractor pulls candidate IPs and domains out of lower-cased
// article text. Matching is bounded by a timeout per pattern.
type indicatorExtractor struct {
	ip     *regexp2.Regexp
	domain *regexp2.Regexp
}

func newIndicatorExtractor(timeout time.Duration) *indicatorExtractor {
	if timeout <= 0 {
		timeout = defaultMatchTimeout
	}
	ip := regexp2.MustCompile(ipExtractPattern, regexp2.None)
	ip.MatchTimeout = timeout
	domain := regexp2.MustCompile(domainExtractPattern, regexp2.None)
	domain.MatchTimeout = timeout
	return &indicatorExtractor{ip: ip, domain: domain}
}

// extract returns matches in text order, at most limit when limit > 0. A
// match timeout ends the scan with what was found so far.
func extract(re *regexp2.Regexp, text string, limit int) ([]string, error) {
	var out []string
	m, err := re.FindStringMatch(text)
	for m != nil && (limit <= 0 || len(out) < limit) {
		out = append(out, m.String())
		m, err = re.FindNextMatch(m)
	}
	return out, err
}

// IPs returns every IPv4-looking token of text
func (x *indicatorExtractor) IPs(text string) ([]string, error) {
	return extract(x.ip, text, 0)
}

// Domains returns the first maxDomainMatches domain-looking tokens of text
func (x *indicatorExtractor) Domains(text string) ([]string, error) {
	return extract(x.domain, text, maxDomainMatches)
}

// =============================================================================
// News Linking
// =============================================================================

// LinkNewsToIOCs links recent articles to the known ip and domain IOCs they
// mention. It never creates IOCs. A failure on one article is logged and the
// pass continues.
func (c *Correlator) LinkNewsToIOCs(ctx context.Context) (*NewsLinkStats, error) {
	start := time.Now()
	defer func() {
		metrics.PassDuration.WithLabelValues("news_link").Observe(time.Since(start).Seconds())
	}()

	now := c.now().UTC()
	stats := &NewsLinkStats{Timestamp: now}
	if c.news == nil {
		return stats, nil
	}

	articles, err := c.news.ListArticlesCreatedSince(ctx, now.Add(-c.newsWindow))
	if err != nil {
		return stats, fmt.Errorf("failed to list recent articles: %w", err)
	}
	if len(articles) == 0 {
		return stats, nil
	}

	known, err := c.knownIndicators(ctx)
	if err != nil {
		return stats, err
	}

	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.ArticlesProcessed++

		ids, err := c.linkArticle(ctx, article, known)
		if err != nil {
			c.logger.Warnw("Failed to link news article",
				"article_id", article.ID,
				"url", article.URL,
				"error", err)
			continue
		}
		stats.LinksCreated += ids
	}

	c.logger.Infow("News linking pass complete",
		"articles_processed", stats.ArticlesProcessed,
		"links_created", stats.LinksCreated,
		"duration", time.Since(start))
	return stats, nil
}

// knownIndicators loads every ip and domain indicator into a bloom filter
func (c *Correlator) knownIndicators(ctx context.Context) (*bloom.BloomFilter, error) {
	indicators, err := c.iocs.ListIndicators(ctx, core.IOCTypeIP, core.IOCTypeDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to list known indicators: %w", err)
	}

	capacity := uint(len(indicators))
	if capacity < bloomMinCapacity {
		capacity = bloomMinCapacity
	}
	filter := bloom.NewWithEstimates(capacity, bloomFalsePositive)
	for _, ind := range indicators {
		filter.AddString(ind)
	}
	return filter, nil
}

// linkArticle stores the IOC ids mentioned by article and returns how many
func (c *Correlator) linkArticle(ctx context.Context, article *core.NewsArticle, known *bloom.BloomFilter) (int, error) {
	text := article.SearchText()

	ips, err := c.extractor.IPs(text)
	if err != nil {
		c.logger.Debugw("IP extraction stopped early", "article_id", article.ID, "error", err)
	}
	domains, err := c.extractor.Domains(text)
	if err != nil {
		c.logger.Debugw("Domain extraction stopped early", "article_id", article.ID, "error", err)
	}

	var ids []string
	seen := make(map[string]struct{})
	for _, group := range []struct {
		iocType core.IOCType
		values  []string
	}{
		{core.IOCTypeIP, mightBeKnown(known, ips)},
		{core.IOCTypeDomain, mightBeKnown(known, domains)},
	} {
		if len(group.values) == 0 {
			continue
		}
		matches, err := c.iocs.FindIOCsByIndicators(ctx, group.iocType, group.values)
		if err != nil {
			return 0, fmt.Errorf("failed to look up %s indicators: %w", group.iocType, err)
		}
		for _, m := range matches {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			ids = append(ids, m.ID)
		}
	}

	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.news.SetRelatedIOCs(ctx, article.ID, ids); err != nil {
		return 0, err
	}
	metrics.NewsLinks.Add(float64(len(ids)))
	return len(ids), nil
}

func mightBeKnown(filter *bloom.BloomFilter, values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		if filter.TestString(v) {
			out = append(out, v)
		}
	}
	return out
}
