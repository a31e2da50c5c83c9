package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"storefront/catalog-service/internal/app/catalog/asset"
	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/catalog-service/internal/app/catalog/service"
	"storefront/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const (
	photosField   = "photos"
	maxPhotos     = 10
	maxPhotoBytes = 10 << 20
)

// CatalogHandler обрабатывает HTTP запросы для каталога и отзывов
type CatalogHandler struct {
	catalogService service.CatalogServiceInterface
	validator      *validator.Validate
}

// NewCatalogHandler создает новый обработчик каталога
func NewCatalogHandler(catalogService service.CatalogServiceInterface) *CatalogHandler {
	return &CatalogHandler{
		catalogService: catalogService,
		validator:      validator.New(),
	}
}

// === PRODUCTS HANDLERS ===

// ListProducts обрабатывает GET /products?keyword=&page=&limit=&sort=&<field>[_op]=
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	params := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	result, err := h.catalogService.ListProducts(c.Request.Context(), params)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entity.ProductListResponse{
		Success:               true,
		Products:              result.Products,
		FilteredProductNumber: result.FilteredProductNumber,
		TotalProductCount:     result.TotalProductCount,
	})
}

// GetProduct обрабатывает GET /products/:id
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	product, err := h.catalogService.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entity.ProductResponse{Success: true, Product: product})
}

// AdminListProducts обрабатывает GET /admin/products
func (h *CatalogHandler) AdminListProducts(c *gin.Context) {
	products, err := h.catalogService.AdminListProducts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entity.ProductsResponse{Success: true, Products: products})
}

// CreateProduct обрабатывает POST /admin/products (multipart/form-data, файлы в photos)
func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req entity.CreateProductRequest
	if err := c.ShouldBind(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		abort(c, http.StatusBadRequest, formatValidationError(err))
		return
	}

	images, err := readPhotos(c)
	if err != nil {
		writeError(c, err)
		return
	}

	product, err := h.catalogService.CreateProduct(c.Request.Context(), actor, &req, images)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entity.ProductResponse{Success: true, Product: product})
}

// UpdateProduct обрабатывает PUT /admin/products/:id.
// Если переданы photos, весь набор изображений заменяется
func (h *CatalogHandler) UpdateProduct(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req entity.UpdateProductRequest
	if err := c.ShouldBind(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		abort(c, http.StatusBadRequest, formatValidationError(err))
		return
	}

	images, err := readPhotos(c)
	if err != nil {
		writeError(c, err)
		return
	}

	product, err := h.catalogService.UpdateProduct(c.Request.Context(), actor, c.Param("id"), &req, images)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entity.ProductResponse{Success: true, Product: product})
}

// DeleteProduct обрабатывает DELETE /admin/products/:id
func (h *CatalogHandler) DeleteProduct(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	pending, err := h.catalogService.DeleteProduct(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entity.DeleteProductResponse{
		Success:       true,
		Message:       "Product deleted",
		PendingAssets: pending,
	})
}

// readPhotos читает файлы photos из multipart формы. Запрос без формы или без файлов - пустой набор
func readPhotos(c *gin.Context) ([]asset.Image, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, apperror.Validation("invalid multipart form")
	}

	files := form.File[photosField]
	if len(files) > maxPhotos {
		return nil, apperror.Validation("too many photos: %d, at most %d allowed", len(files), maxPhotos)
	}

	images := make([]asset.Image, 0, len(files))
	for _, fh := range files {
		img, err := readPhoto(fh)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func readPhoto(fh *multipart.FileHeader) (asset.Image, error) {
	if fh.Size > maxPhotoBytes {
		return asset.Image{}, apperror.Validation("photo %q is larger than %d bytes", fh.Filename, maxPhotoBytes)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return asset.Image{}, apperror.Validation("photo %q is not an image", fh.Filename)
	}

	f, err := fh.Open()
	if err != nil {
		return asset.Image{}, fmt.Errorf("failed to open photo %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes+1))
	if err != nil {
		return asset.Image{}, fmt.Errorf("failed to read photo %q: %w", fh.Filename, err)
	}
	if len(data) > maxPhotoBytes {
		return asset.Image{}, apperror.Validation("photo %q is larger than %d bytes", fh.Filename, maxPhotoBytes)
	}
	if len(data) == 0 {
		return asset.Image{}, apperror.Validation("photo %q is empty", fh.Filename)
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return asset.Image{Filename: fh.Filename, ContentType: contentType, Data: data}, nil
}
