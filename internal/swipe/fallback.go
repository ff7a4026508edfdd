package swipe

import "github.com/okkolab/okkonator/internal/domain"

// FallbackMovies is the built-in candidate set used when the swipe backend
// cannot start a session. A fresh copy is returned on every call.
func FallbackMovies() []domain.Movie {
	return []domain.Movie{
		{
			ID:          1,
			Title:       "Интерстеллар",
			Description: "Эпическая космическая драма о путешествии через червоточину",
			Poster:      "https://images.unsplash.com/photo-1440404653325-ab127d49abc1?w=400&h=600&fit=crop",
			Year:        2014,
			Genre:       "Фантастика",
			Rating:      8.6,
		},
		{
			ID:          2,
			Title:       "Дюна",
			Description: "Эпическая фантастическая сага о пустынной планете Арракис",
			Poster:      "https://images.unsplash.com/photo-1518709268805-4e9042af2176?w=400&h=600&fit=crop",
			Year:        2021,
			Genre:       "Фантастика",
			Rating:      8.0,
		},
		{
			ID:          3,
			Title:       "Топ Ган: Мэверик",
			Description: "Продолжение культового фильма о пилотах-истребителях",
			Poster:      "https://images.unsplash.com/photo-1556075798-4825dfaaf498?w=400&h=600&fit=crop",
			Year:        2022,
			Genre:       "Боевик",
			Rating:      8.3,
		},
	}
}
