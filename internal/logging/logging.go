// Package logging constructs the process-wide zap.Logger, grounded on
// the zap.NewDevelopment/zap.NewProduction split used for the ICE agent
// logger elsewhere in the corpus.
package logging

import "go.uber.org/zap"

// New builds a *zap.Logger: human-readable console encoding in dev mode,
// JSON in production. Panics only on a malformed static zap config,
// which indicates a programming error, not a runtime condition.
func New(dev bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("logging: failed to build zap logger: " + err.Error())
	}
	return logger
}
