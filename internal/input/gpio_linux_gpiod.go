//go:build linux && (arm || arm64)

package input

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"

	"hoverhold/internal/vehicle"
)

// OpenButtons requests one falling-edge input line per configured button.
func OpenButtons(cfg ButtonsConfig, log *zap.SugaredLogger) (*Buttons, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	debounce := time.Duration(cfg.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 20 * time.Millisecond
	}

	b := &Buttons{}
	for pin, ev := range cfg.pins() {
		l, err := requestButton(pin, ev, debounce, b, log)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.lines = append(b.lines, l)
	}
	return b, nil
}

type buttonLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (l *buttonLine) Close() error {
	err := l.line.Close()
	_ = l.chip.Close()
	return err
}

func requestButton(pin int, ev vehicle.Event, debounce time.Duration, b *Buttons, log *zap.SugaredLogger) (*buttonLine, error) {
	lineName := fmt.Sprintf("GPIO%d", pin)

	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", e.Name()))
		}
	}

	handler := func(le gpiocdev.LineEvent) {
		if le.Type != gpiocdev.LineEventFallingEdge {
			return
		}
		log.Debugw("gpio button", "pin", pin, "event", ev.String())
		b.press(ev)
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithDebounce(debounce),
			gpiocdev.WithEventHandler(handler),
			gpiocdev.WithConsumer("hoverhold-"+ev.String()),
		)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &buttonLine{chip: chip, line: line}, nil
	}
	return nil, errors.Errorf("input: gpio line %q not found (or busy)", lineName)
}
