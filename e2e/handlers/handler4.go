//go:build ignore

package main

import (
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/examples/lambdafn"
	"github.com/trufnetwork/lambda-e2e/lib/logging"
)

func main() {
	settings, settingsErr := lambdafn.LoadSettings(lambdafn.SettingsPath)

	logger, err := logging.New(settings.Level)
	if err != nil {
		logger, _ = logging.New("info")
		logger.Warn("invalid level in layer settings", zap.Error(err))
	}
	defer logger.Sync()
	if settingsErr != nil {
		logger.Warn("using default layer settings", zap.Error(settingsErr))
	}
	logger = logger.With(zap.String("service", settings.Service))

	lambdafn.Start(lambdafn.LoggedReply(logger, "fourth lambda"))
}
