package agent

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	codeBlockRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]+`")
	labelLinkRe  = regexp.MustCompile(`<[^|>]+\|([^>]+)>`)
	bareLinkRe   = regexp.MustCompile(`<([^|>]+)>`)

	// Wrappers only count at word boundaries so ids like auth0|abc_123 survive.
	emphasisRe = []*regexp.Regexp{
		regexp.MustCompile(`(^|[^\p{L}\p{N}])_([^_\n]+)_([^\p{L}\p{N}]|$)`),
		regexp.MustCompile(`(^|[^\p{L}\p{N}])\*([^*\n]+)\*([^\p{L}\p{N}]|$)`),
		regexp.MustCompile(`(^|[^\p{L}\p{N}])~([^~\n]+)~([^\p{L}\p{N}]|$)`),
	}
)

// Sanitize strips Slack mrkdwn from an incoming message. Code spans and
// blocks are kept verbatim; links collapse to their label, or their target
// when unlabeled.
func Sanitize(text string) string {
	var blocks, spans []string
	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		blocks = append(blocks, m)
		return fmt.Sprintf("\x00%d\x00", len(blocks)-1)
	})
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		spans = append(spans, m)
		return fmt.Sprintf("\x01%d\x01", len(spans)-1)
	})

	for _, re := range emphasisRe {
		// Adjacent matches share a boundary character, so repeat until stable.
		for {
			next := re.ReplaceAllString(text, "${1}${2}${3}")
			if next == text {
				break
			}
			text = next
		}
	}

	text = labelLinkRe.ReplaceAllString(text, "$1")
	text = bareLinkRe.ReplaceAllString(text, "$1")

	for i, s := range spans {
		text = strings.Replace(text, fmt.Sprintf("\x01%d\x01", i), s, 1)
	}
	for i, b := range blocks {
		text = strings.Replace(text, fmt.Sprintf("\x00%d\x00", i), b, 1)
	}
	return text
}
