package gpt

import (
	"regexp"
	"strconv"
	"strings"
)

// The digest role instructs the model to emit candidate replies as
// "[0.9:username] text" lines, one per chat line worth answering.
var weightedLineRe = regexp.MustCompile(`\[(\d\.\d):([a-z0-9_]+)](.+)`)

// WeightedMessage is one parsed candidate reply line.
type WeightedMessage struct {
	Probability float64
	UserName    string
	Text        string
}

// ExtractWeighted parses a single response line. The second return is false
// when the line has no bracketed weight prefix.
func ExtractWeighted(line string) (WeightedMessage, bool) {
	m := weightedLineRe.FindStringSubmatch(line)
	if m == nil {
		return WeightedMessage{}, false
	}
	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return WeightedMessage{}, false
	}
	return WeightedMessage{
		Probability: p,
		UserName:    m[2],
		Text:        strings.Trim(m[3], " :"),
	}, true
}

// SelectWeighted parses every line of a digest response and returns the
// highest-weight candidate with a non-empty user and text. The second return
// is false when no line qualifies.
func SelectWeighted(response string) (WeightedMessage, bool) {
	var best WeightedMessage
	found := false
	for _, line := range strings.Split(response, "\n") {
		wm, ok := ExtractWeighted(strings.TrimSpace(line))
		if !ok || wm.UserName == "" || wm.Text == "" {
			continue
		}
		if !found || wm.Probability > best.Probability {
			best = wm
			found = true
		}
	}
	return best, found
}
