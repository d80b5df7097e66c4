package progress

import (
	"github.com/rs/zerolog"
)

// ConsoleHandler is the default Handler the engine registers automatically
// (spec §4.4 Construction), logging each event through zerolog — the
// teacher's logging library throughout.
type ConsoleHandler struct {
	logger zerolog.Logger
}

// NewConsoleHandler wraps logger for use as a progress Handler.
func NewConsoleHandler(logger zerolog.Logger) *ConsoleHandler {
	return &ConsoleHandler{logger: logger.With().Str("component", "console-progress").Logger()}
}

// Handle implements Handler.
func (c *ConsoleHandler) Handle(e Event) {
	evt := c.logger.Info()
	if e.Type == EventError {
		evt = c.logger.Error()
	}
	evt.
		Str("event", string(e.Type)).
		Float64("progress", e.Progress).
		Int64("current", e.Current).
		Int64("total", e.Total).
		Float64("speed_bps", e.Speed).
		Dur("eta", e.ETA).
		Msg(e.Message)
}

var _ Handler = (*ConsoleHandler)(nil)
