package assessment

import "strings"

// EscapeKind identifies the universal escape options. Its string value is
// also the option value sent to clients.
type EscapeKind string

const (
	EscapeNone        EscapeKind = ""
	EscapeNoneOfAbove EscapeKind = "none_of_above"
	EscapeUnknown     EscapeKind = "unknown"
)

var (
	noneOfAboveLabel = Text{ZH: "以上都不是", EN: "None of the above"}
	noneOfAboveDesc  = Text{ZH: "点击输入您的实际情况", EN: "Click to describe your situation"}
	unknownLabel     = Text{ZH: "我不知道", EN: "I don't know"}
)

// escapeLabelMarkers are lower-cased label fragments that identify an escape
// option in generated text, in every supported locale.
var escapeLabelMarkers = []struct {
	marker string
	kind   EscapeKind
}{
	{"不知道", EscapeUnknown},
	{"don't know", EscapeUnknown},
	{"do not know", EscapeUnknown},
	{"以上都不是", EscapeNoneOfAbove},
	{"none of the above", EscapeNoneOfAbove},
}

// ClassifyEscape reports which escape option o represents, judging by its
// value first and its label second. It is meant for options whose origin is
// free text, such as model output; locally authored options set Escape
// directly.
func ClassifyEscape(o Option) EscapeKind {
	switch EscapeKind(strings.ToLower(strings.TrimSpace(o.Value))) {
	case EscapeUnknown:
		return EscapeUnknown
	case EscapeNoneOfAbove, "none_of_the_above":
		return EscapeNoneOfAbove
	}
	label := strings.ToLower(strings.ReplaceAll(o.Label, "’", "'"))
	for _, m := range escapeLabelMarkers {
		if strings.Contains(label, m.marker) {
			return m.kind
		}
	}
	return EscapeNone
}

// NoneOfAboveOption returns the localized "none of the above" choice.
func NoneOfAboveOption(l Locale) Option {
	return Option{
		Value:       string(EscapeNoneOfAbove),
		Label:       noneOfAboveLabel.In(l),
		Description: noneOfAboveDesc.In(l),
		Escape:      EscapeNoneOfAbove,
	}
}

// UnknownOption returns the localized "I don't know" choice.
func UnknownOption(l Locale) Option {
	return Option{
		Value:  string(EscapeUnknown),
		Label:  unknownLabel.In(l),
		Escape: EscapeUnknown,
	}
}

// NormalizeOptions drops every escape option from opts and appends fresh
// "none of the above" and "I don't know" options, in that order. An empty
// list is returned unchanged. The input slice is not modified.
func NormalizeOptions(opts []Option, l Locale) []Option {
	if len(opts) == 0 {
		return opts
	}
	out := make([]Option, 0, len(opts)+2)
	for _, o := range opts {
		if o.Escape != EscapeNone {
			continue
		}
		out = append(out, o)
	}
	return append(out, NoneOfAboveOption(l), UnknownOption(l))
}

// Normalize applies NormalizeOptions to choice questions and returns q.
func (q Question) Normalize(l Locale) Question {
	if q.Type.IsChoice() {
		q.Options = NormalizeOptions(q.Options, l)
	}
	return q
}
