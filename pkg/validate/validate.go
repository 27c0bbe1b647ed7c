// Package validate envuelve go-playground/validator y traduce sus errores a domain.ErrInvalidInput.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jhoicas/toma-inventario/internal/domain"
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	// Nombres de campo tal como llegan en JSON.
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return val
}

// Struct valida s y devuelve un *domain.Error de tipo ErrInvalidInput con los campos fallidos.
func Struct(op string, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Wrap(domain.ErrInvalidInput, op, err)
	}
	fields := Fields(verrs)
	parts := make([]string, 0, len(fields))
	for f, tag := range fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f, tag))
	}
	sort.Strings(parts)
	return &domain.Error{Kind: domain.ErrInvalidInput, Op: op, Msg: "campos inválidos: " + strings.Join(parts, ", "), Err: err}
}

// Fields campo → regla incumplida.
func Fields(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()[strings.Index(fe.Namespace(), ".")+1:]] = fe.Tag()
	}
	return out
}
