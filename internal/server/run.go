package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/anchorwatch/sidetree-oracle/internal/logging"
)

func NewRouter(api *ApiHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: true,
	}))

	router.GET("/version", api.GetVersion)
	router.GET("/info", api.GetInfo)
	router.GET("/time", api.GetTime)
	router.GET("/time/:hash", api.GetTime)
	router.GET("/transactions", api.GetTransactions)
	router.POST("/transactions/first-valid", api.PostFirstValid)
	router.GET("/fee/:blockheight", ParseBlockHeightMiddleware, api.GetFee)

	router.POST("/anchor", api.PostAnchor)

	return router
}

func RunServer(host string, api *ApiHandler) {
	router := NewRouter(api)
	if err := router.Run(host); err != nil {
		logging.L.Err(err).Msg("could not run server")
	}
}
