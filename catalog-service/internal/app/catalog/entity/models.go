package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Product - документ товара в MongoDB.
// Отзывы и ссылки на изображения хранятся внутри документа, поэтому
// агрегат рейтинга обновляется одной атомарной записью
type Product struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name         string             `json:"name" bson:"name"`
	Price        float64            `json:"price" bson:"price"`
	Description  string             `json:"description" bson:"description"`
	Category     string             `json:"category" bson:"category"` // Всегда в нижнем регистре
	Brand        string             `json:"brand" bson:"brand"`
	Stock        int                `json:"stock" bson:"stock"`
	Photos       []AssetRef         `json:"photos" bson:"photos"` // Порядок совпадает с порядком загрузки
	Ratings      float64            `json:"ratings" bson:"ratings"`
	NumOfReviews int                `json:"numOfReviews" bson:"num_of_reviews"`
	Reviews      []Review           `json:"reviews" bson:"reviews"`
	CreatedBy    string             `json:"createdBy" bson:"created_by"`
	Version      int64              `json:"-" bson:"version"` // Счетчик оптимистичной блокировки
	CreatedAt    time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updated_at"`
}

// Review - отзыв пользователя. На один товар не больше одного отзыва от пользователя
type Review struct {
	UserID  string `json:"user" bson:"user_id"`
	Name    string `json:"name" bson:"name"` // Имя пользователя на момент отзыва
	Rating  int    `json:"rating" bson:"rating"`
	Comment string `json:"comment" bson:"comment"`
}

// AssetRef - ссылка на изображение в удаленном хранилище
type AssetRef struct {
	AssetID string `json:"id" bson:"asset_id"` // Непрозрачный идентификатор хранилища
	URL     string `json:"secure_url" bson:"url"`
}

// ProductUpdate - частичное обновление товара. nil поля не меняются
type ProductUpdate struct {
	Name        *string
	Price       *float64
	Description *string
	Category    *string
	Brand       *string
	Stock       *int
	Photos      []AssetRef // nil - набор изображений не меняется
}

// Empty сообщает, что обновлять нечего
func (u *ProductUpdate) Empty() bool {
	return u.Name == nil && u.Price == nil && u.Description == nil &&
		u.Category == nil && u.Brand == nil && u.Stock == nil && u.Photos == nil
}

// Типы событий для Kafka
const (
	EventProductCreated = "PRODUCT_CREATED"
	EventProductUpdated = "PRODUCT_UPDATED"
	EventProductDeleted = "PRODUCT_DELETED"
	EventReviewUpserted = "REVIEW_UPSERTED"
	EventReviewDeleted  = "REVIEW_DELETED"
)

// ProductEvent - событие изменения товара для Kafka
type ProductEvent struct {
	EventType    string    `json:"event_type"`
	ProductID    string    `json:"product_id"`
	Name         string    `json:"name,omitempty"`
	Price        float64   `json:"price,omitempty"`
	Category     string    `json:"category,omitempty"`
	Ratings      float64   `json:"ratings"`
	NumOfReviews int       `json:"num_of_reviews"`
	UserID       string    `json:"user_id,omitempty"` // Автор изменения
	Timestamp    time.Time `json:"timestamp"`
}
