package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/solatis/crawlgate/internal/types"
)

// shape is the rule-relevant summary of a request. High-cardinality fields
// (URL, IP, user agent) are deliberately absent.
type shape struct {
	Domain      string
	BotID       string
	ContentType string
	Bucket      int64
	RuleSet     []string
}

// Fingerprint derives the cache key for a request. Domain and bot id are
// lower-cased because every operator compares them case-insensitively.
// ruleSet identifies the eligible rule versions so rule edits and validity
// boundaries inside a bucket never serve stale results.
func Fingerprint(publisher types.PublisherID, req *types.CrawlerRequest, ts time.Time, bucket time.Duration, ruleSet []string) (string, error) {
	if bucket <= 0 {
		bucket = time.Minute
	}
	h, err := hashstructure.Hash(shape{
		Domain:      strings.ToLower(strings.TrimSpace(req.Domain)),
		BotID:       strings.ToLower(req.BotID),
		ContentType: req.ContentType(),
		Bucket:      ts.UTC().Truncate(bucket).Unix(),
		RuleSet:     ruleSet,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", errors.Wrap(err, "fingerprint")
	}
	return string(publisher) + ":" + strconv.FormatUint(h, 16), nil
}
