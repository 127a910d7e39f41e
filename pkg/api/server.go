package api

import (
	"strconv"

	"com.aviebrantz.vision-router/pkg/config"
	"com.aviebrantz.vision-router/pkg/core/store/deviceconfig"
	"github.com/apex/log"
	"github.com/gofiber/fiber"
)

type ApiServer struct {
	configStore deviceconfig.Store
	config      config.APIServerConfig
	app         *fiber.App
	logger      *log.Entry
}

func NewServer(
	configStore deviceconfig.Store,
	config config.APIServerConfig,
) *ApiServer {
	as := &ApiServer{
		configStore: configStore,
		config:      config,
		app:         fiber.New(),
		logger:      log.WithField("module", "api-server"),
	}

	as.app.Get("/healthz", as.health)
	as.app.Get("/devices/:deviceID/config", as.getDeviceConfig)
	as.app.Get("/devices/:deviceID/keys", as.getImageKeys)

	return as
}

func (as *ApiServer) health(ctx *fiber.Ctx) {
	ctx.JSON(fiber.Map{"status": "ok"})
}

func (as *ApiServer) Start() {
	as.logger.Infof("Starting API server on port %d...", as.config.Port)
	err := as.app.Listen(":" + strconv.Itoa(as.config.Port))
	if err != nil {
		as.logger.Errorf("api server stopped: %v", err)
	}
}

func (as *ApiServer) Shutdown() error {
	return as.app.Shutdown()
}
