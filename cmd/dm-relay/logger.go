// ABOUTME: slog setup for the CLI: JSON output or a colorized human-readable handler
// ABOUTME: The text handler lifts the component attr into an aligned column ahead of the message

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/dm-relay/internal/config"
)

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = newRelayTextHandler(out, level)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

var (
	levelTags = map[slog.Level]string{
		slog.LevelDebug: color.MagentaString("DBG"),
		slog.LevelInfo:  color.CyanString("INF"),
		slog.LevelWarn:  color.YellowString("WRN"),
		slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("ERR"),
	}
	componentColor = color.New(color.FgBlue)
	keyColor       = color.New(color.FgHiBlack)
	errorColor     = color.New(color.FgRed)
)

// componentWidth pads the component column; "broadcaster" is the longest name.
const componentWidth = 11

// relayTextHandler writes one colorized line per record:
//
//	15:04:05 INF [hub        ] session connected session_id=... user_id=alice
//
// Attributes bound through WithAttrs are rendered once, when bound.
type relayTextHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     slog.Level
	component string
	bound     string // pre-rendered WithAttrs output
	group     string // dotted prefix from WithGroup
}

func newRelayTextHandler(out io.Writer, level slog.Level) *relayTextHandler {
	return &relayTextHandler{mu: &sync.Mutex{}, out: out, level: level}
}

func (h *relayTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *relayTextHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(keyColor.Sprint(r.Time.Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	if h.component != "" {
		b.WriteString(componentColor.Sprintf(" [%-*s]", componentWidth, h.component))
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.bound)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprint(h.out, b.String())
	return err
}

func (h *relayTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.bound)
	for _, a := range attrs {
		if a.Key == "component" && h.group == "" {
			next.component = a.Value.String()
			continue
		}
		appendAttr(&b, h.group, a)
	}
	next.bound = b.String()
	return &next
}

func (h *relayTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.group + name + "."
	return &next
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return levelTags[slog.LevelError]
	case l >= slog.LevelWarn:
		return levelTags[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return levelTags[slog.LevelInfo]
	default:
		return levelTags[slog.LevelDebug]
	}
}

// appendAttr writes " prefix.key=value", flattening nested groups.
func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, prefix, ga)
		}
		return
	}

	b.WriteString(keyColor.Sprint(" " + prefix + a.Key + "="))
	val := a.Value.String()
	if strings.ContainsAny(val, " \t\n\"") {
		val = fmt.Sprintf("%q", val)
	}
	if a.Key == "error" {
		val = errorColor.Sprint(val)
	}
	b.WriteString(val)
}
