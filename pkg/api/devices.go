package api

import (
	"time"

	"com.aviebrantz.vision-router/pkg/core/store/images"
	"github.com/gofiber/fiber"
)

func (as *ApiServer) getDeviceConfig(ctx *fiber.Ctx) {
	deviceID := ctx.Params("deviceID")

	cfg, err := as.configStore.GetLatest(ctx.Context(), deviceID)
	if err != nil {
		ctx.Status(fiber.StatusBadGateway)
		ctx.JSON(fiber.Map{"message": err.Error()})
		return
	}

	if cfg.Version == 0 && cfg.UpdatedAt.IsZero() {
		ctx.Status(fiber.StatusNotFound)
		ctx.JSON(fiber.Map{"message": "not found"})
		return
	}

	fields, err := cfg.Fields()
	if err != nil {
		as.logger.WithError(err).Errorf("invalid config of %s", deviceID)
		ctx.Status(fiber.StatusInternalServerError)
		ctx.JSON(fiber.Map{"message": err.Error()})
		return
	}

	ctx.JSON(fiber.Map{
		"deviceID":      deviceID,
		"version":       cfg.Version,
		"updated":       cfg.UpdatedAt,
		"dashboard_url": cfg.DashboardURL,
		"config":        fields,
	})
}

func (as *ApiServer) getImageKeys(ctx *fiber.Ctx) {
	deviceID := ctx.Params("deviceID")

	published, err := time.Parse(time.RFC3339Nano, ctx.Query("time"))
	if err != nil {
		ctx.
			Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"message": "time must be an RFC 3339 timestamp"})
		return
	}

	keys := images.ObjectKeys(deviceID, published)
	ctx.JSON(fiber.Map{
		"original":  keys.Original,
		"annotated": keys.Annotated,
	})
}
