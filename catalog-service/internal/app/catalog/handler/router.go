package handler

import (
	"net/http"

	"storefront/pkg/logger"
	"storefront/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MediaSource отдает объекты хранилища изображений в памяти.
// Нужен только для ASSETS_BACKEND=memory
type MediaSource interface {
	Object(key string) ([]byte, string, bool)
}

type RouterConfig struct {
	CORSOrigins []string
	Media       MediaSource // nil - маршрут /media не регистрируется
}

// SetupRoutes настраивает все маршруты Catalog Service с использованием Gin
func SetupRoutes(catalogHandler *CatalogHandler, authMiddleware *AuthMiddleware, cfg RouterConfig) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())

	// JSON logging middleware для HTTP-запросов (ELK Stack)
	router.Use(logger.GinLoggerMiddleware())

	router.Use(metrics.GinPrometheusMiddleware("catalog-service"))

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", logger.RequestIDHeader},
			ExposeHeaders:    []string{logger.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "catalog-service",
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Media != nil {
		router.GET("/media/*key", mediaHandler(cfg.Media))
	}

	api := router.Group("/api/v1")
	{
		// Публичные эндпоинты
		api.GET("/products", catalogHandler.ListProducts)
		api.GET("/products/:id", catalogHandler.GetProduct)
		api.GET("/reviews", catalogHandler.GetReviews)

		// Отзывы оставляет только аутентифицированный пользователь
		reviews := api.Group("/review")
		reviews.Use(authMiddleware.Authenticate())
		{
			reviews.PUT("", catalogHandler.PutReview)
			reviews.DELETE("", catalogHandler.DeleteReview)
		}

		admin := api.Group("/admin")
		admin.Use(authMiddleware.Authenticate(), authMiddleware.RequireRole("admin"))
		{
			admin.GET("/products", catalogHandler.AdminListProducts)
			admin.POST("/products", catalogHandler.CreateProduct)
			admin.PUT("/products/:id", catalogHandler.UpdateProduct)
			admin.DELETE("/products/:id", catalogHandler.DeleteProduct)
		}
	}

	return router
}

func mediaHandler(media MediaSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		if len(key) > 0 && key[0] == '/' {
			key = key[1:]
		}

		data, contentType, ok := media.Object(key)
		if !ok {
			abort(c, http.StatusNotFound, "Media not found")
			return
		}

		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		c.Data(http.StatusOK, contentType, data)
	}
}
