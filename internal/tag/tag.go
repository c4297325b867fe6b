// Package tag derives verification tags embedded in story captions so that
// publication can be confirmed out of band.
package tag

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"regexp"
	"strings"
)

const (
	prefix    = "#pw"
	hashChars = 8
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var tagPattern = regexp.MustCompile(`#pw[a-z2-7]{8}`)

// Generate derives the verification tag for a post id. The derivation is
// deterministic: the same post id always yields the same tag.
func Generate(postID string) (string, error) {
	if strings.TrimSpace(postID) == "" {
		return "", fmt.Errorf("post id is required")
	}

	sum := sha256.Sum256([]byte(postID))
	encoded := strings.ToLower(encoding.EncodeToString(sum[:]))
	return prefix + encoded[:hashChars], nil
}

// Append returns the caption with the tag attached on its own trailing line.
func Append(caption, tag string) string {
	caption = strings.TrimRight(caption, " \n")
	if caption == "" {
		return tag
	}
	return caption + "\n" + tag
}

// Detect reports the first verification tag found in the text, if any.
func Detect(text string) (string, bool) {
	match := tagPattern.FindString(text)
	return match, match != ""
}

// Strip removes all verification tags from the text, tidying the whitespace
// Append introduced. Text without a tag is returned unchanged.
func Strip(text string) string {
	if !tagPattern.MatchString(text) {
		return text
	}
	stripped := tagPattern.ReplaceAllString(text, "")
	return strings.TrimRight(stripped, " \n")
}
