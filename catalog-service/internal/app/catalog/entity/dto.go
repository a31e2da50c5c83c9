package entity

// CreateProductRequest приходит как multipart/form-data вместе с файлами photos
type CreateProductRequest struct {
	Name        string  `form:"name" validate:"required,min=2,max=120"`
	Price       float64 `form:"price" validate:"required,gt=0"`
	Description string  `form:"description" validate:"required,max=4000"`
	Category    string  `form:"category" validate:"required,max=60"`
	Brand       string  `form:"brand" validate:"omitempty,max=60"`
	Stock       int     `form:"stock" validate:"gte=0"`
}

// UpdateProductRequest - все поля опциональны; photos заменяют весь набор изображений
type UpdateProductRequest struct {
	Name        *string  `form:"name" validate:"omitempty,min=2,max=120"`
	Price       *float64 `form:"price" validate:"omitempty,gt=0"`
	Description *string  `form:"description" validate:"omitempty,min=1,max=4000"`
	Category    *string  `form:"category" validate:"omitempty,min=1,max=60"`
	Brand       *string  `form:"brand" validate:"omitempty,max=60"`
	Stock       *int     `form:"stock" validate:"omitempty,gte=0"`
}

type ReviewRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Comment   string `json:"comment" validate:"required,max=2000"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ProductListResponse - ответ листинга.
// filteredProductNumber считается по всему отфильтрованному набору, а не по странице
type ProductListResponse struct {
	Success               bool      `json:"success"`
	Products              []Product `json:"products"`
	FilteredProductNumber int64     `json:"filteredProductNumber"`
	TotalProductCount     int64     `json:"totalProductCount"`
}

type ProductResponse struct {
	Success bool     `json:"success"`
	Product *Product `json:"product"`
}

type ProductsResponse struct {
	Success  bool      `json:"success"`
	Products []Product `json:"products"`
}

type ReviewsResponse struct {
	Success bool     `json:"success"`
	Reviews []Review `json:"reviews"`
}

// ReviewSummaryResponse возвращается после изменения отзыва
type ReviewSummaryResponse struct {
	Success      bool    `json:"success"`
	Ratings      float64 `json:"ratings"`
	NumOfReviews int     `json:"numOfReviews"`
}

// DeleteProductResponse - pendingAssets содержит изображения, поставленные в очередь на повторное удаление
type DeleteProductResponse struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	PendingAssets []string `json:"pendingAssets,omitempty"`
}

// ListResult - результат листинга на уровне сервиса
type ListResult struct {
	Products              []Product
	FilteredProductNumber int64
	TotalProductCount     int64
}
