package livestream

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// video ids and bare stream keys; YouTube ids are 11 characters but
// test and legacy links carry shorter ones
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// path prefixes that carry the video id as the next segment
var idPathPrefixes = []string{"embed", "live", "shorts", "v", "e"}

// ParseStreamID extracts the video id from a watch, short, embed, live or
// shorts URL. A bare id is returned as-is. The extracted id only has to be
// a non-empty run of URL-safe characters.
func ParseStreamID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if idPattern.MatchString(s) {
		return s, nil
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	var id string
	switch host {
	case "youtu.be":
		if len(segs) > 0 {
			id = segs[0]
		}
	case "youtube.com", "youtube-nocookie.com", "music.youtube.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		for i := 0; i+1 < len(segs); i++ {
			if slices.Contains(idPathPrefixes, segs[i]) {
				id = segs[i+1]
				break
			}
		}
	default:
		return "", fmt.Errorf("%w: unsupported host %q", ErrInvalidURL, u.Hostname())
	}

	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return id, nil
}

