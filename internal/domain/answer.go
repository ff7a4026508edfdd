package domain

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// QuestionID identifies a question. Backends send it either as a JSON string
// or as a number; both decode to the same textual id.
type QuestionID string

// UnmarshalJSON accepts string and numeric ids.
func (id *QuestionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*id = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode question id: %w", err)
		}
		*id = QuestionID(s)
		return nil
	default:
		if _, err := strconv.ParseFloat(string(b), 64); err != nil {
			return fmt.Errorf("decode question id %q: %w", b, err)
		}
		*id = QuestionID(b)
		return nil
	}
}

// Answer is a Likert answer in [AnswerMin, AnswerMax].
type Answer int

const (
	AnswerMin Answer = -2
	AnswerMax Answer = 2
)

// ErrInvalidAnswer is returned for answers outside the Likert scale.
var ErrInvalidAnswer = errors.New("invalid answer")

// LikertOptions are the labels shown for each answer, lowest first.
var LikertOptions = []string{"Совсем нет", "Скорее нет", "Не знаю", "Скорее да", "Да"}

var likertLabels = map[string]Answer{
	"совсем нет": -2, "нет": -2, "неа": -2, "no": -2, "n": -2,
	"strongly disagree": -2, "disagree": -2,
	"скорее нет": -1, "rather no": -1, "somewhat no": -1,
	"не знаю": 0, "пропустить": 0, "скип": 0, "skip": 0, "не уверен": 0, "может быть": 0,
	"neutral": 0, "idk": 0, "unknown": 0, "n/a": 0, "maybe": 0, "?": 0,
	"скорее да": 1, "rather yes": 1, "somewhat yes": 1,
	"да": 2, "ага": 2, "yes": 2, "y": 2, "agree": 2, "strongly agree": 2,
}

// Valid reports whether a is on the scale.
func (a Answer) Valid() bool {
	return a >= AnswerMin && a <= AnswerMax
}

// ParseAnswer converts a decoded JSON value into an Answer. Integers must be
// on the scale. Floats are clamped to the scale and rounded, whether or not
// they are integral. A json.Number keeps the literal form: 3 is an integer,
// 3.0 is a float. Strings are matched against the Likert labels
// (case-insensitive) or read as numbers.
func ParseAnswer(v any) (Answer, error) {
	switch t := v.(type) {
	case Answer:
		if !t.Valid() {
			return 0, fmt.Errorf("%w: %d out of range", ErrInvalidAnswer, t)
		}
		return t, nil
	case int:
		return ParseAnswer(Answer(t))
	case int64:
		if t < int64(AnswerMin) || t > int64(AnswerMax) {
			return 0, fmt.Errorf("%w: %d out of range", ErrInvalidAnswer, t)
		}
		return Answer(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidAnswer, t)
		}
		r := math.Round(math.Max(float64(AnswerMin), math.Min(float64(AnswerMax), t)))
		return Answer(int(r)), nil
	case json.Number:
		if strings.ContainsAny(t.String(), ".eE") {
			f, err := t.Float64()
			if err != nil {
				return 0, fmt.Errorf("%w: %q", ErrInvalidAnswer, t.String())
			}
			return ParseAnswer(f)
		}
		i, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAnswer, t.String())
		}
		return ParseAnswer(i)
	case string:
		key := strings.ToLower(strings.TrimSpace(t))
		if a, ok := likertLabels[key]; ok {
			return a, nil
		}
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			return ParseAnswer(json.Number(key))
		}
		return 0, fmt.Errorf("%w: unsupported label %q", ErrInvalidAnswer, t)
	case nil:
		return 0, fmt.Errorf("%w: missing", ErrInvalidAnswer)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidAnswer, v)
	}
}
