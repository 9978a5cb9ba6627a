// Package xid builds readable identifiers such as bill numbers. Uniqueness is
// best effort: a nanosecond timestamp followed by random bits.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

func New(prefix string) string {
	return At(prefix, time.Now())
}

// At stamps the identifier with t so ids sort by creation time.
func At(prefix string, t time.Time) string {
	stamp := strconv.FormatInt(t.UTC().UnixNano(), 10)
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return prefix + "-" + stamp
	}
	return prefix + "-" + stamp + "-" + strings.ToUpper(hex.EncodeToString(buf))
}
