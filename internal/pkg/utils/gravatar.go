package utils

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultAvatarSize = 200
	maxGravatarSize   = 2048
)

// GravatarURL returns the Gravatar image for email, falling back to an
// identicon for addresses without one. size is clamped to 1..2048.
func GravatarURL(email string, size int) string {
	switch {
	case size <= 0:
		size = DefaultAvatarSize
	case size > maxGravatarSize:
		size = maxGravatarSize
	}
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	q := url.Values{"s": {strconv.Itoa(size)}, "d": {"identicon"}}
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?" + q.Encode()
}
