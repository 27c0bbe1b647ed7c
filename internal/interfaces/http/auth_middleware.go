package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/pkg/jwt"
)

// Locals keys para el operador y la sucursal de la sesión en Fiber.
const (
	LocalOperator = "operator"
	LocalBranch   = "branch"
)

// AuthMiddleware valida el Bearer Token JWT y deja operador y sucursal en c.Locals.
func AuthMiddleware(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "MISSING_TOKEN", Message: "Authorization header requerido"})
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "INVALID_TOKEN", Message: "formato: Bearer <token>"})
		}
		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "MISSING_TOKEN", Message: "token vacío"})
		}
		operator, branch, err := jwt.Parse(jwtSecret, tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "INVALID_TOKEN", Message: "token inválido o expirado"})
		}
		c.Locals(LocalOperator, operator)
		c.Locals(LocalBranch, branch)
		return c.Next()
	}
}

// GetSession devuelve la sesión del operador (después del middleware de auth).
func GetSession(c *fiber.Ctx) entity.Session {
	op, _ := c.Locals(LocalOperator).(string)
	branch, _ := c.Locals(LocalBranch).(int64)
	return entity.Session{Operator: op, Branch: branch}
}
