// Package linesource turns text input, from a stream or a followed file, into
// log lines ready to be handed to a slog.Logger.
package linesource

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/valyala/fastjson"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/event"
)

// MaxLineSize bounds a single input line.
const MaxLineSize = 1 << 20

// Line is one parsed input line.
type Line struct {
	Message string
	Level   slog.Level
	// Logger is set when a JSON line names its logger.
	Logger string
	Attrs  []slog.Attr
}

// Parser converts raw lines. Lines holding a JSON object are decoded field by
// field; anything else is taken verbatim as the message. Parser is safe for
// concurrent use.
type Parser struct {
	// Level applies to lines that carry no level of their own.
	Level slog.Level

	pool fastjson.ParserPool
}

// Parse converts one line. Trailing CR/LF is ignored.
func (p *Parser) Parse(raw []byte) Line {
	raw = bytes.TrimRight(raw, "\r\n")
	line := Line{Level: p.Level}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		line.Message = string(raw)
		return line
	}

	jp := p.pool.Get()
	defer p.pool.Put(jp)

	v, err := jp.ParseBytes(trimmed)
	if err != nil || v.Type() != fastjson.TypeObject {
		line.Message = string(raw)
		return line
	}
	obj, _ := v.Object()

	obj.Visit(func(key []byte, val *fastjson.Value) {
		name := string(key)
		switch name {
		case "msg", "message":
			if line.Message == "" || name == "msg" {
				line.Message = scalarString(val)
			}
			return
		case "level", "severity":
			if lvl, ok := parseLevel(val); ok {
				line.Level = lvl
			}
			return
		case "logger":
			line.Logger = scalarString(val)
			return
		}
		if a, ok := scalarAttr(name, val); ok {
			line.Attrs = append(line.Attrs, a)
		}
	})
	return line
}

// Scan reads r line by line and calls fn with each non-blank parsed line. It
// stops at EOF, on the first error from fn, or when ctx is done.
func (p *Parser) Scan(ctx context.Context, r io.Reader, fn func(Line) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		if err := fn(p.Parse(sc.Bytes())); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("linesource: read: %w", err)
	}
	return nil
}

// Log writes line through logger, switching logger names when the line
// carries one. The parsed keys are listed under event.TagNamesKey so they
// become tags of the event.
func Log(ctx context.Context, logger *slog.Logger, line Line, loggerKey string) {
	attrs := make([]slog.Attr, 0, len(line.Attrs)+2)
	attrs = append(attrs, line.Attrs...)
	if len(line.Attrs) > 0 {
		names := make([]string, len(line.Attrs))
		for i, a := range line.Attrs {
			names[i] = a.Key
		}
		attrs = append(attrs, slog.Any(event.TagNamesKey, names))
	}
	if line.Logger != "" && loggerKey != "" {
		attrs = append(attrs, slog.String(loggerKey, line.Logger))
	}
	logger.LogAttrs(ctx, line.Level, line.Message, attrs...)
}

func parseLevel(v *fastjson.Value) (slog.Level, bool) {
	switch v.Type() {
	case fastjson.TypeString:
		return event.ParseSeverity(string(v.GetStringBytes()))
	case fastjson.TypeNumber:
		n, err := v.Int()
		if err != nil {
			return 0, false
		}
		return slog.Level(n), true
	}
	return 0, false
}

// scalarAttr keeps strings, numbers and booleans. Nested values and nulls are
// dropped.
func scalarAttr(name string, v *fastjson.Value) (slog.Attr, bool) {
	switch v.Type() {
	case fastjson.TypeString:
		return slog.String(name, string(v.GetStringBytes())), true
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return slog.Int64(name, n), true
		}
		f, _ := v.Float64()
		return slog.Float64(name, f), true
	case fastjson.TypeTrue:
		return slog.Bool(name, true), true
	case fastjson.TypeFalse:
		return slog.Bool(name, false), true
	}
	return slog.Attr{}, false
}

func scalarString(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return v.String()
}
