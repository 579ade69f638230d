package assessment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AnswerKind discriminates AnswerValue.
type AnswerKind string

const (
	KindText        AnswerKind = "text"
	KindChoice      AnswerKind = "choice"
	KindMultiChoice AnswerKind = "multi_choice"
	KindBoolean     AnswerKind = "boolean"
	KindNumber      AnswerKind = "number"
)

// CustomPrefix marks a free-text answer typed after picking "none of the above".
const CustomPrefix = "custom:"

// AnswerValue is a user's answer. Exactly one payload field is meaningful,
// selected by Kind. On the wire it is the bare JSON value (string, array,
// bool or number); the kind comes from the question it answers.
type AnswerValue struct {
	Kind    AnswerKind
	Text    string
	Choices []string
	Bool    bool
	Number  float64
}

var ErrInvalidAnswer = errors.New("invalid answer")

func TextAnswer(s string) AnswerValue { return AnswerValue{Kind: KindText, Text: s} }
func ChoiceAnswer(v string) AnswerValue { return AnswerValue{Kind: KindChoice, Text: v} }
func MultiAnswer(vs ...string) AnswerValue { return AnswerValue{Kind: KindMultiChoice, Choices: vs} }
func BoolAnswer(b bool) AnswerValue { return AnswerValue{Kind: KindBoolean, Bool: b} }
func NumberAnswer(n float64) AnswerValue { return AnswerValue{Kind: KindNumber, Number: n} }

// DecodeAnswer binds a raw JSON answer to the type of the question it
// answers. A nil question means the pending question is unknown and the kind
// is inferred from the JSON shape.
func DecodeAnswer(raw json.RawMessage, q *Question) (AnswerValue, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return AnswerValue{}, fmt.Errorf("%w: value is required", ErrInvalidAnswer)
	}
	if q == nil {
		return inferAnswer(raw)
	}

	switch q.Type {
	case TypeText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return AnswerValue{}, fmt.Errorf("%w: %s expects a string", ErrInvalidAnswer, q.Type)
		}
		if strings.TrimSpace(s) == "" {
			return AnswerValue{}, fmt.Errorf("%w: empty text", ErrInvalidAnswer)
		}
		return TextAnswer(strings.TrimSpace(s)), nil

	case TypeSingleChoice:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return AnswerValue{}, fmt.Errorf("%w: %s expects a string", ErrInvalidAnswer, q.Type)
		}
		if strings.TrimSpace(s) == "" {
			return AnswerValue{}, fmt.Errorf("%w: empty choice", ErrInvalidAnswer)
		}
		return ChoiceAnswer(strings.TrimSpace(s)), nil

	case TypeMultipleChoice:
		var vs []string
		if err := json.Unmarshal(raw, &vs); err != nil {
			var s string
			if json.Unmarshal(raw, &s) != nil {
				return AnswerValue{}, fmt.Errorf("%w: %s expects an array of strings", ErrInvalidAnswer, q.Type)
			}
			vs = []string{s}
		}
		out := vs[:0]
		for _, v := range vs {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			return AnswerValue{}, fmt.Errorf("%w: no choices selected", ErrInvalidAnswer)
		}
		return MultiAnswer(out...), nil

	case TypeBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return AnswerValue{}, fmt.Errorf("%w: %s expects true or false", ErrInvalidAnswer, q.Type)
		}
		return BoolAnswer(b), nil

	case TypeScale:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return AnswerValue{}, fmt.Errorf("%w: %s expects a number", ErrInvalidAnswer, q.Type)
		}
		if q.Min != nil && n < float64(*q.Min) || q.Max != nil && n > float64(*q.Max) {
			return AnswerValue{}, fmt.Errorf("%w: %v is outside the scale", ErrInvalidAnswer, n)
		}
		return NumberAnswer(n), nil
	}
	return inferAnswer(raw)
}

func inferAnswer(raw json.RawMessage) (AnswerValue, error) {
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return AnswerValue{}, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		return TextAnswer(s), nil
	case '[':
		var vs []string
		if err := json.Unmarshal(raw, &vs); err != nil {
			return AnswerValue{}, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		return MultiAnswer(vs...), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return AnswerValue{}, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		return BoolAnswer(b), nil
	default:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return AnswerValue{}, fmt.Errorf("%w: unsupported value %s", ErrInvalidAnswer, raw)
		}
		return NumberAnswer(n), nil
	}
}

// Strings returns the textual payload of the answer: the text, the chosen
// value, or every chosen value. Booleans and numbers have none.
func (a AnswerValue) Strings() []string {
	switch a.Kind {
	case KindText, KindChoice:
		return []string{a.Text}
	case KindMultiChoice:
		return a.Choices
	}
	return nil
}

// IsEscape reports whether the user declined the offered options, either by
// picking an escape option or by typing a custom answer.
func (a AnswerValue) IsEscape() bool {
	for _, s := range a.Strings() {
		if EscapeKind(s) == EscapeNoneOfAbove || EscapeKind(s) == EscapeUnknown ||
			strings.HasPrefix(strings.ToLower(s), CustomPrefix) {
			return true
		}
	}
	return false
}

func (a AnswerValue) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case KindText, KindChoice:
		return json.Marshal(a.Text)
	case KindMultiChoice:
		if a.Choices == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Choices)
	case KindBoolean:
		return json.Marshal(a.Bool)
	case KindNumber:
		return json.Marshal(a.Number)
	}
	return []byte("null"), nil
}

// UnmarshalJSON infers the kind from the JSON shape. Stored history records
// carry their kind separately and restore it after decoding.
func (a *AnswerValue) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*a = AnswerValue{}
		return nil
	}
	v, err := inferAnswer(bytes.TrimSpace(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a AnswerValue) String() string {
	switch a.Kind {
	case KindText, KindChoice:
		return a.Text
	case KindMultiChoice:
		return strings.Join(a.Choices, ", ")
	case KindBoolean:
		return strconv.FormatBool(a.Bool)
	case KindNumber:
		return strconv.FormatFloat(a.Number, 'f', -1, 64)
	}
	return ""
}

type answerRecordJSON struct {
	QuestionID   string      `json:"question_id"`
	QuestionText string      `json:"question_text"`
	Value        AnswerValue `json:"value"`
	ValueKind    AnswerKind  `json:"value_kind"`
	InputMethod  InputMethod `json:"input_method,omitempty"`
	AnsweredAt   string      `json:"answered_at"`
}

// MarshalJSON keeps the answer kind next to the bare value so a stored
// history decodes back into the same union member.
func (r AnswerRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(answerRecordJSON{
		QuestionID:   r.QuestionID,
		QuestionText: r.QuestionText,
		Value:        r.Value,
		ValueKind:    r.Value.Kind,
		InputMethod:  r.InputMethod,
		AnsweredAt:   r.AnsweredAt.UTC().Format(timeLayout),
	})
}

func (r *AnswerRecord) UnmarshalJSON(b []byte) error {
	var aux answerRecordJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	v := aux.Value
	if aux.ValueKind == KindChoice && v.Kind == KindText {
		v.Kind = KindChoice
	}
	r.QuestionID = aux.QuestionID
	r.QuestionText = aux.QuestionText
	r.Value = v
	r.InputMethod = aux.InputMethod
	r.AnsweredAt, _ = parseTime(aux.AnsweredAt)
	return nil
}
