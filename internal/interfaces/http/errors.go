package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/domain"
)

// writeError traduce la taxonomía de errores del motor a un código HTTP.
func writeError(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "INTERNAL"
	switch domain.KindOf(err) {
	case "connectivity":
		status, code = fiber.StatusServiceUnavailable, "REMOTE_UNAVAILABLE"
	case "authorization":
		status, code = fiber.StatusForbidden, "NOT_CLOSING_OPERATOR"
	case "forbidden":
		status, code = fiber.StatusForbidden, "FORBIDDEN"
	case "state_conflict":
		status, code = fiber.StatusConflict, "STATE_CONFLICT"
	case "conflict":
		status, code = fiber.StatusConflict, "CONFLICT"
	case "integrity":
		status, code = fiber.StatusUnprocessableEntity, "INTEGRITY"
	case "partial_sync":
		status, code = fiber.StatusUnprocessableEntity, "PARTIAL_SYNC"
	case "not_found":
		status, code = fiber.StatusNotFound, "NOT_FOUND"
	case "validation":
		status, code = fiber.StatusBadRequest, "VALIDATION"
	default:
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status, code = fiber.StatusServiceUnavailable, "TIMEOUT"
		}
	}
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: err.Error()})
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
}
