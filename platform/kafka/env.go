package kafka

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// LoadEnv заполняет cfg из переменных окружения поверх уже выставленных значений.
// Использует пакет caarlos0/env/v10 для парсинга env-тегов.
func LoadEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse kafka env: %w", err)
	}
	return nil
}
