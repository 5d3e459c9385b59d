package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// prettyHandler writes one human-oriented line per record:
//
//	15:04:05.000 WARN  ws.reconnect.scheduled attempt=2 delay=200ms (manager.go:412)
//
// Attributes bound with WithAttrs are rendered once, under the groups open
// at the time they were bound.
type prettyHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	source bool
	color  bool

	prefix string // open groups, dot-joined with a trailing dot
	bound  string // pre-rendered WithAttrs output
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, mu: &sync.Mutex{}, level: slog.LevelInfo, color: color}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(h.paint(ts.Format("15:04:05.000"), ansiDim))
	b.WriteByte(' ')
	tag, code := levelStyle(r.Level)
	b.WriteString(h.paint(tag, code))
	b.WriteByte(' ')
	b.WriteString(h.paint(stripEscapes(r.Message), ansiBright))

	b.WriteString(h.bound)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a, h.prefix)
		return true
	})

	if h.source && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" " + h.paint("("+filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line)+")", ansiDim))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.bound)
	for _, a := range attrs {
		h.writeAttr(&b, a, h.prefix)
	}
	cp := *h
	cp.bound = b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) writeAttr(b *strings.Builder, a slog.Attr, prefix string) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		// Inline an unnamed group.
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, ga, prefix)
		}
		return
	}
	if key == "" || a.Equal(slog.Attr{}) {
		return
	}

	val := ""
	if st, ok := keyStyles[key]; ok {
		if st.label != "" {
			key = st.label
		}
		val = st.format(h, a.Value)
	} else {
		val = quoteIfNeeded(valueText(a.Value))
	}
	b.WriteByte(' ')
	b.WriteString(prefix + key)
	b.WriteByte('=')
	b.WriteString(val)
}

func (h *prettyHandler) paint(s, code string) string {
	if !h.color || s == "" {
		return s
	}
	return code + s + ansiReset
}

// keyStyle renders a well-known attribute. label replaces the key when set.
type keyStyle struct {
	label  string
	format func(h *prettyHandler, v slog.Value) string
}

var keyStyles = map[string]keyStyle{
	"method":          {format: formatMethod},
	"path":            {format: formatLink},
	"url":             {format: formatLink},
	"status":          {format: formatStatus},
	"status_class":    {label: "class", format: formatStatusClass},
	"duration_ms":     {label: "duration", format: formatMillis(250, 1000)},
	"delay_ms":        {label: "delay", format: formatMillis(1000, 4000)},
	"result":          {format: formatResult},
	"state":           {format: formatState},
	"from":            {format: formatState},
	"to":              {format: formatState},
	"code":            {format: formatCloseCode},
	"err":             {format: formatErr},
	"refresh_capable": {format: formatFlag},
	"backend":         {format: formatLink},
}

func formatMethod(h *prettyHandler, v slog.Value) string {
	m := strings.ToUpper(strings.TrimSpace(v.String()))
	switch m {
	case http.MethodGet:
		return h.paint(m, ansiBlue)
	case http.MethodPost:
		return h.paint(m, ansiGreen)
	default:
		return h.paint(m, ansiMagenta)
	}
}

func formatLink(h *prettyHandler, v slog.Value) string {
	return h.paint(quoteIfNeeded(strings.TrimSpace(valueText(v))), ansiCyan)
}

func formatStatus(h *prettyHandler, v slog.Value) string {
	n, ok := intValue(v)
	if !ok {
		return quoteIfNeeded(valueText(v))
	}
	return h.paint(strconv.FormatInt(n, 10), statusColor(n/100))
}

func formatStatusClass(h *prettyHandler, v slog.Value) string {
	class := strings.TrimSpace(v.String())
	if len(class) != 3 || class[0] < '1' || class[0] > '5' {
		return quoteIfNeeded(class)
	}
	return h.paint(class, statusColor(int64(class[0]-'0')))
}

func statusColor(hundreds int64) string {
	switch hundreds {
	case 5:
		return ansiRed
	case 4:
		return ansiYellow
	case 3:
		return ansiCyan
	default:
		return ansiGreen
	}
}

// formatMillis renders a millisecond count, yellow from warn and red from bad.
func formatMillis(warn, bad int64) func(*prettyHandler, slog.Value) string {
	return func(h *prettyHandler, v slog.Value) string {
		ms, ok := intValue(v)
		if !ok {
			return quoteIfNeeded(valueText(v))
		}
		s := (time.Duration(ms) * time.Millisecond).String()
		switch {
		case ms >= bad:
			return h.paint(s, ansiRed)
		case ms >= warn:
			return h.paint(s, ansiYellow)
		default:
			return h.paint(s, ansiDim)
		}
	}
}

func formatResult(h *prettyHandler, v slog.Value) string {
	r := strings.ToLower(strings.TrimSpace(v.String()))
	switch r {
	case "success", "redirect", "refreshed":
		return h.paint(r, ansiGreen)
	case "client_error", "rejected":
		return h.paint(r, ansiYellow)
	case "server_error", "failed":
		return h.paint(r, ansiRed)
	default:
		return quoteIfNeeded(r)
	}
}

func formatState(h *prettyHandler, v slog.Value) string {
	s := strings.ToLower(strings.TrimSpace(v.String()))
	switch s {
	case "connected", "authenticated":
		return h.paint(s, ansiGreen)
	case "connecting", "reconnecting":
		return h.paint(s, ansiYellow)
	case "disconnected", "unauthenticated", "logged_out":
		return h.paint(s, ansiDim)
	default:
		return quoteIfNeeded(s)
	}
}

// formatCloseCode renders a websocket close code; only 1000 is clean.
func formatCloseCode(h *prettyHandler, v slog.Value) string {
	n, ok := intValue(v)
	if !ok {
		return quoteIfNeeded(valueText(v))
	}
	s := strconv.FormatInt(n, 10)
	if n == 1000 {
		return h.paint(s, ansiGreen)
	}
	return h.paint(s, ansiYellow)
}

func formatErr(h *prettyHandler, v slog.Value) string {
	return h.paint(quoteIfNeeded(stripEscapes(valueText(v))), ansiRed)
}

func formatFlag(h *prettyHandler, v slog.Value) string {
	if v.Kind() != slog.KindBool {
		return quoteIfNeeded(valueText(v))
	}
	if v.Bool() {
		return h.paint("yes", ansiGreen)
	}
	return h.paint("no", ansiDim)
}

func levelStyle(l slog.Level) (tag, code string) {
	switch {
	case l >= slog.LevelError:
		return "ERROR", ansiRed
	case l >= slog.LevelWarn:
		return "WARN ", ansiYellow
	case l >= slog.LevelInfo:
		return "INFO ", ansiBlue
	default:
		return "DEBUG", ansiMagenta
	}
}

func valueText(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return stripEscapes(v.String())
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return v.String()
	}
}

func intValue(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindDuration:
		return v.Duration().Milliseconds(), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.IndexFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '"' || r == '=' || !unicode.IsPrint(r) }) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

// stripEscapes drops SGR sequences, which server-supplied close reasons and
// error texts could otherwise smuggle into a terminal.
func stripEscapes(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)
