package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/notification-service/internal/api/handlers/notification"
	"github.com/aliskhannn/notification-service/internal/api/middlewares"
	"github.com/aliskhannn/notification-service/internal/model"
)

func New(handler *notification.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api/notify")
	{
		api.POST("/", handler.Create)
		api.GET("/", handler.GetAll)
		api.GET("/:id", handler.GetStatus)
		api.POST("/:id/delivered", handler.MarkDelivered)

		for _, ch := range model.Channels {
			api.POST("/"+ch.String(), handler.CreateFor(ch))
		}
	}

	return e
}
