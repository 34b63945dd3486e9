// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/library-system/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct проверяет структуру по тегам validate и возвращает ошибку, оборачивающую model.ErrValidation.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", model.ErrValidation, err)
}

// PageRequest нормализует и проверяет параметры постраничной выборки.
func PageRequest(p model.PageRequest) (model.PageRequest, error) {
	p = p.Normalize()
	p.Search = strings.TrimSpace(p.Search)
	if err := Struct(p); err != nil {
		return model.PageRequest{}, err
	}
	return p, nil
}

// ID проверяет, что идентификатор положителен.
func ID(name string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", model.ErrValidation, name, id)
	}
	return nil
}

// ParseID разбирает идентификатор из строки.
func ParseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", model.ErrValidation, name, raw)
	}
	if err := ID(name, id); err != nil {
		return 0, err
	}
	return id, nil
}
