// Пакет openapi — встроенный OpenAPI контракт HTTP API.
// Документ загружается и валидируется при старте сервера;
// расхождение контракта с кодом проверяется контрактными тестами.
package openapi

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

// Spec возвращает исходный YAML контракта.
func Spec() []byte {
	return specYAML
}

// Load разбирает и валидирует встроенный контракт.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора OpenAPI контракта: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("OpenAPI контракт невалиден: %w", err)
	}
	return doc, nil
}
