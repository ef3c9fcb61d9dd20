package shared

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const MaxLoggedBodyLen = 512
const maxUsernameLen = 64

func GetHostName(userUrl string) (string, error) {
	var parsedUrl *url.URL
	var urlError error
	parsedUrl, urlError = url.Parse(userUrl)
	if urlError != nil {
		return "", fmt.Errorf("Failed to parse user URL '%s': %v", userUrl, urlError)
	}
	if parsedUrl.Hostname() == "" {
		return "", fmt.Errorf("user URL has no host: '%s'", userUrl)
	}
	return parsedUrl.Hostname(), nil
}

func MakeFullMoniker(hostName, handle string) string {
	return "@" + handle + "@" + hostName
}

// StripFragment returns the URI without its #fragment; key IDs are usually actor#main-key.
func StripFragment(uri string) string {
	if ix := strings.IndexByte(uri, '#'); ix != -1 {
		return uri[:ix]
	}
	return uri
}

func TruncateWithEllipsis(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	// https://stackoverflow.com/a/73939904/7479498
	lastSpaceIx := maxLen
	len := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			lastSpaceIx = i
		}
		len++
		if len > maxLen {
			return text[:lastSpaceIx] + "…"
		}
	}
	// If here, string is shorter or equal to maxLen
	return text
}

// ValidateUsername checks a local actor's username before it becomes part of its immutable URI.
func ValidateUsername(user string) error {
	if len(user) == 0 {
		return errors.New("username cannot be empty")
	}
	if len(user) > maxUsernameLen {
		return fmt.Errorf("username cannot be longer than %d characters", maxUsernameLen)
	}
	for _, c := range user {
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '.' || c == '-' {
			continue
		}
		if unicode.IsUpper(c) {
			return errors.New("username must not have upper-case letters")
		}
		return fmt.Errorf("username contains invalid character '%c'", c)
	}
	if user[0] == '.' || user[len(user)-1] == '.' {
		return errors.New("username cannot start or end with a dot")
	}
	return nil
}
