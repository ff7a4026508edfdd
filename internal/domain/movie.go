package domain

import (
	"strings"
)

// Movie is a candidate record as returned by the recommender backend.
type Movie struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Year        int     `json:"year,omitempty"`
	Genre       string  `json:"genre,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	Duration    int     `json:"duration,omitempty"`
	Votes       string  `json:"votes,omitempty"`
	Description string  `json:"description,omitempty"`
	Poster      string  `json:"poster,omitempty"`
	Score       float64 `json:"score,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// DescriptiveText joins title, category and description. It is the input of
// the pseudo-embedding, so the field order must stay stable.
func (m Movie) DescriptiveText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{m.Title, m.Genre, m.Description} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Question is a single Q&A prompt served by the backend.
type Question struct {
	ID      QuestionID `json:"id"`
	Text    string     `json:"text"`
	Options []string   `json:"options,omitempty"`
}
