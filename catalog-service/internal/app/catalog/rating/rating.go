// Package rating поддерживает сводный рейтинг товара согласованным с набором отзывов.
//
// Преобразования набора отзывов - чистые функции: входной срез не меняется,
// результат всегда пересчитывается целиком. Запись в хранилище выполняет Aggregator.
package rating

import (
	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/pkg/apperror"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Summary - новый набор отзывов вместе с агрегатами, которые записываются одной операцией
type Summary struct {
	Reviews      []entity.Review
	NumOfReviews int
	Ratings      float64
}

// ValidateRating не приводит значение к диапазону, а отклоняет его
func ValidateRating(value int) error {
	if value < MinRating || value > MaxRating {
		return apperror.Validation("rating must be between %d and %d, got %d", MinRating, MaxRating, value)
	}
	return nil
}

// Upsert заменяет оценку и комментарий существующего отзыва пользователя или добавляет новый.
// Второе значение true, если отзыв добавлен
func Upsert(reviews []entity.Review, review entity.Review) ([]entity.Review, bool) {
	out := make([]entity.Review, 0, len(reviews)+1)
	found := false

	for _, r := range reviews {
		if r.UserID == review.UserID {
			if found {
				// Дубликаты от старых записей схлопываются в один отзыв
				continue
			}
			r.Rating = review.Rating
			r.Comment = review.Comment
			found = true
		}
		out = append(out, r)
	}

	if !found {
		out = append(out, review)
	}
	return out, !found
}

// Remove убирает все отзывы пользователя и возвращает число удаленных
func Remove(reviews []entity.Review, userID string) ([]entity.Review, int) {
	out := make([]entity.Review, 0, len(reviews))
	for _, r := range reviews {
		if r.UserID != userID {
			out = append(out, r)
		}
	}
	return out, len(reviews) - len(out)
}

// Summarize пересчитывает среднюю оценку по всему набору. Для пустого набора Ratings = 0
func Summarize(reviews []entity.Review) Summary {
	if reviews == nil {
		reviews = []entity.Review{}
	}

	summary := Summary{
		Reviews:      reviews,
		NumOfReviews: len(reviews),
	}
	if len(reviews) == 0 {
		return summary
	}

	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	summary.Ratings = float64(sum) / float64(len(reviews))
	return summary
}
