package dice

import (
	"regexp"
	"strconv"
	"strings"
)

// RollMessage is the extract of a third-party dice bot message.
type RollMessage struct {
	Result   int
	DieTypes []int
	Text     string
}

var (
	dieTermRe = regexp.MustCompile(`\d*[dD](\d+)`)
	// The bot bolds or prefixes the final total. Accept either form.
	resultRe = regexp.MustCompile(`(?:\*\*\s*(-?\d+)\s*\*\*|(?:=|[Rr]esultado:?|[Rr]esult:?)\s*(-?\d+))`)
)

// ParseRollMessage extracts the numeric result, the die types involved and
// any free text from a dice bot message. The second return value is false
// when the message is not a roll.
func ParseRollMessage(content string) (RollMessage, bool) {
	var out RollMessage

	m := resultRe.FindStringSubmatch(content)
	if m == nil {
		return out, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return out, false
	}
	out.Result = n

	for _, term := range dieTermRe.FindAllStringSubmatch(content, -1) {
		sides, err := strconv.Atoi(term[1])
		if err != nil || sides <= 0 {
			continue
		}
		out.DieTypes = append(out.DieTypes, sides)
	}
	if len(out.DieTypes) == 0 {
		return RollMessage{}, false
	}

	// Free text: whatever trails the last recognized token, commonly the
	// roll's label.
	if idx := strings.LastIndex(content, "#"); idx >= 0 {
		out.Text = strings.TrimSpace(content[idx+1:])
	}
	return out, true
}
