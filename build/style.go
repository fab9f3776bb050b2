package build

import (
	"fmt"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/jedib0t/go-pretty/v6/text"
)

// levelColors maps each log level to the colors of its console tag.
var levelColors = map[btclogv1.Level]text.Colors{
	btclogv1.LevelTrace:    {text.FgHiBlack},
	btclogv1.LevelDebug:    {text.FgCyan},
	btclogv1.LevelInfo:     {text.FgGreen},
	btclogv1.LevelWarn:     {text.FgYellow},
	btclogv1.LevelError:    {text.FgRed},
	btclogv1.LevelCritical: {text.FgHiRed, text.Bold},
}

// styleLevel renders the bracketed level tag in the level's color.
func styleLevel(level btclogv1.Level) string {
	tag := "[" + level.String() + "]"

	colors, ok := levelColors[level]
	if !ok {
		return tag
	}

	return colors.Sprint(tag)
}

// styleCallSite renders the call site faint.
func styleCallSite(file string, line int) string {
	return text.Colors{text.Faint}.Sprint(fmt.Sprintf("%s:%d", file, line))
}

// styleKey renders attribute keys in bold.
func styleKey(key string) string {
	return text.Colors{text.Bold}.Sprint(key)
}
