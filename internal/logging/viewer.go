package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// maxLineSize bounds a single log line read by the viewer.
const maxLineSize = 1 << 20

// Entry is one parsed log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	// Raw is the original line, printed as is when it is not JSON.
	Raw   string
	Valid bool
}

// ViewerConfig filters and styles viewer output.
type ViewerConfig struct {
	Level   string         // minimum level, empty for all
	Pattern *regexp.Regexp // matched against the raw line
	NoColor bool
}

// Viewer reads JSON log files written by Setup.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer creates a viewer that prints to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// Tail returns the matching entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring := make([]string, 0, n)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		if len(ring) < n {
			ring = append(ring, sc.Text())
			continue
		}
		ring[next] = sc.Text()
		next = (next + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	lines := append(ring[next:len(ring):len(ring)], ring[:next]...)
	var entries []Entry
	for _, line := range lines {
		if e := parseLine(line); v.matches(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Follow sends entries appended to path after the call until ctx ends.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- Entry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				chunk, err := reader.ReadString('\n')
				partial += chunk
				if err != nil {
					break
				}
				line := strings.TrimSuffix(partial, "\n")
				partial = ""
				if line == "" {
					continue
				}
				if e := parseLine(line); v.matches(e) {
					select {
					case entries <- e:
					case <-ctx.Done():
						return nil
					}
				}
			}
		}
	}
}

// Print writes entries to the viewer output.
func (v *Viewer) Print(entries []Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.Format(e))
	}
}

// Format renders one entry as "15:04:05.000 LEVEL msg k=v ...", attributes
// sorted by key.
func (v *Viewer) Format(e Entry) string {
	if !e.Valid {
		return e.Raw
	}

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(e.Time.Format("15:04:05.000"))
	sb.WriteByte(' ')
	sb.WriteString(v.formatLevel(e.Level))
	sb.WriteByte(' ')
	sb.WriteString(e.Msg)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}

func parseLine(line string) Entry {
	e := Entry{Raw: line}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return e
	}
	e.Valid = true

	if t, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			e.Time = parsed
		}
	}
	e.Level, _ = data["level"].(string)
	e.Msg, _ = data["msg"].(string)

	e.Attrs = make(map[string]any, len(data))
	for k, val := range data {
		switch k {
		case "time", "level", "msg":
		default:
			e.Attrs[k] = val
		}
	}
	return e
}

func (v *Viewer) matches(e Entry) bool {
	if v.config.Level != "" && e.Valid {
		if parseLevel(e.Level) < parseLevel(v.config.Level) {
			return false
		}
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

func (v *Viewer) formatLevel(level string) string {
	s := strings.ToUpper(level)
	if len(s) > 5 {
		s = s[:5]
	}
	s = fmt.Sprintf("%-5s", s)
	if v.config.NoColor {
		return s
	}

	switch strings.ToLower(level) {
	case "debug":
		return "\033[90m" + s + "\033[0m"
	case "info":
		return "\033[32m" + s + "\033[0m"
	case "warn", "warning":
		return "\033[33m" + s + "\033[0m"
	case "error":
		return "\033[31m" + s + "\033[0m"
	default:
		return s
	}
}
