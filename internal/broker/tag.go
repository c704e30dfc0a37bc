package broker

import (
	"strings"

	"github.com/jxskiss/base62"
)

const tagPrefix = "g"

// Tag encodes a magic number into the compact identifier attached to orders
// (client order id on Binance, comment on the bridge). Client order ids are
// length-limited, hence base62 instead of decimal.
func Tag(magic int64) string {
	return tagPrefix + string(base62.FormatInt(magic))
}

// ParseTag recovers the magic number from a tag produced by Tag. Trailing
// suffixes after a '-' (per-order nonces) are ignored.
func ParseTag(tag string) (int64, bool) {
	if !strings.HasPrefix(tag, tagPrefix) {
		return 0, false
	}
	body := tag[len(tagPrefix):]
	if i := strings.IndexByte(body, '-'); i >= 0 {
		body = body[:i]
	}
	magic, err := base62.ParseInt([]byte(body))
	if err != nil || magic <= 0 {
		return 0, false
	}
	return magic, true
}
