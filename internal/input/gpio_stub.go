//go:build !linux || (!arm && !arm64)

package input

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func OpenButtons(cfg ButtonsConfig, log *zap.SugaredLogger) (*Buttons, error) {
	return nil, errors.New("input: gpio buttons unsupported on this platform")
}
