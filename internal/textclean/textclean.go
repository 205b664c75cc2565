// Package textclean derives cleaned text from raw message bodies.
package textclean

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MinTrainingLen is the shortest training text kept; anything at or
// below it is mostly signature or tracking residue.
const MinTrainingLen = 30

var (
	whitespace = regexp.MustCompile(`\s+`)
	urls       = regexp.MustCompile(`https?://\S+`)

	// Reply markers cut everything after them; that is the quoted thread.
	replyMarkers = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\bOn\s+[^\n]*?\s+wrote:.*`),
		regexp.MustCompile(`(?is)-+\s*Original Message\s*-+.*`),
		regexp.MustCompile(`(?ism)^[ \t]*(?:From|Sent):\s.*`),
	}
	quotedLine = regexp.MustCompile(`(?m)^[ \t]*>.*$`)

	boilerplate = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Please do not reply to this email\.?`),
		regexp.MustCompile(`(?i)This is an unattended mailbox\.?`),
		regexp.MustCompile(`(?i)Replies will not be read\.?`),
		regexp.MustCompile(`(?i)You can find more information here`),
		regexp.MustCompile(`(?i)Follow us on .*`),
		regexp.MustCompile(`(?i)Visit our Newsroom .*`),
	}
)

// Clean strips HTML, quoted replies and redundant whitespace.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	text := raw
	if looksLikeHTML(text) {
		if plain, err := stripHTML(text); err == nil {
			text = plain
		}
	}
	text = quotedLine.ReplaceAllString(text, "")
	for _, re := range replyMarkers {
		text = re.ReplaceAllString(text, "")
	}
	return collapse(text)
}

// Final removes links and mailer boilerplate from already cleaned text.
func Final(text string) string {
	text = urls.ReplaceAllString(text, "")
	for _, re := range boilerplate {
		text = re.ReplaceAllString(text, "")
	}
	return collapse(text)
}

// TrainingText is the text a labelled message contributes to the
// dataset. ok is false when it is too short to learn from.
func TrainingText(subject, body string) (text string, ok bool) {
	text = Final(subject + " " + Clean(body))
	return text, len(text) > MinTrainingLen
}

// ClassificationText is what the classifier scores for a message.
func ClassificationText(subject, body string) string {
	return Final(subject + " " + Clean(body))
}

func looksLikeHTML(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "<html") || strings.Contains(l, "<div") ||
		strings.Contains(l, "<body") || strings.Contains(l, "<p>") || strings.Contains(l, "<br")
}

func stripHTML(s string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, head").Each(func(_ int, sel *goquery.Selection) {
		sel.Remove()
	})

	var parts []string
	var walk func(sel *goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := c.Text(); strings.TrimSpace(t) != "" {
					parts = append(parts, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(doc.Selection)
	return strings.Join(parts, " "), nil
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
