package logger

import "go.uber.org/zap"

var Log = zap.NewNop()

// Init builds the process logger. Production gets JSON output, everything
// else the console encoder at debug level.
func Init(env string) (*zap.Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if env == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	Log = l
	return l, nil
}
