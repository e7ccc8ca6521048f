package logger

import (
	"go.uber.org/zap"
)

// New builds the process-wide zap logger. Dev gets the console encoder,
// everything else logs JSON at info level.
func New(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
