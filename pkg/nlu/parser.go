package nlu

import (
	"regexp"
	"strings"
)

// annotationPattern matches one [span](EntityName) annotation inside a raw
// training utterance.
var annotationPattern = regexp.MustCompile(`\[([^\[\]]+?)\]\(([A-Za-z0-9_.@-]+)\)`)

// Label is one entity span inside the cleaned utterance text.
type Label struct {
	Type  string
	Text  string
	Start int
	End   int // exclusive, byte offset in the cleaned text
}

// ParsedUtterance is a training sentence with its annotations lifted out.
type ParsedUtterance struct {
	Text   string
	Labels []Label
}

// ParseUtterance extracts the canonical annotation spans from a raw training
// utterance, returning the plain text and the label positions within it.
// Positions refer to the cleaned text, not the raw one.
func ParseUtterance(raw string) ParsedUtterance {
	matches := annotationPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return ParsedUtterance{Text: raw}
	}

	var (
		sb     strings.Builder
		labels []Label
		cursor int
	)

	for _, m := range matches {
		// m: [fullStart fullEnd spanStart spanEnd nameStart nameEnd]
		sb.WriteString(raw[cursor:m[0]])
		span := raw[m[2]:m[3]]
		start := sb.Len()
		sb.WriteString(span)

		labels = append(labels, Label{
			Type:  raw[m[4]:m[5]],
			Text:  span,
			Start: start,
			End:   sb.Len(),
		})
		cursor = m[1]
	}
	sb.WriteString(raw[cursor:])

	return ParsedUtterance{Text: sb.String(), Labels: labels}
}
