package logging

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// DefaultBufferLines is the per-category line cap.
const DefaultBufferLines = 3000

const fallbackCategory = "APP"

// Buffers is a zerolog-compatible writer that keeps the most recent lines of
// each category in memory. The category is the upper-cased "component" field.
type Buffers struct {
	mu    sync.Mutex
	limit int
	lines map[string][]string
}

// NewBuffers returns buffers keeping at most limit lines per category.
func NewBuffers(limit int) *Buffers {
	if limit <= 0 {
		limit = DefaultBufferLines
	}
	return &Buffers{limit: limit, lines: make(map[string][]string)}
}

// Write implements io.Writer. Each call carries one JSON-encoded event.
func (b *Buffers) Write(p []byte) (int, error) {
	line := string(bytes.TrimRight(p, "\n"))
	tag := fallbackCategory

	var fields struct {
		Component string `json:"component"`
	}
	if err := json.Unmarshal(p, &fields); err == nil && fields.Component != "" {
		tag = strings.ToUpper(fields.Component)
	}

	b.mu.Lock()
	buf := append(b.lines[tag], line)
	if over := len(buf) - b.limit; over > 0 {
		buf = append([]string(nil), buf[over:]...)
	}
	b.lines[tag] = buf
	b.mu.Unlock()

	return len(p), nil
}

// Lines returns a copy of the buffered lines for a category, oldest first.
func (b *Buffers) Lines(tag string) []string {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if tag == "" {
		tag = fallbackCategory
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines[tag]...)
}

// Tags lists the categories that have received at least one line.
func (b *Buffers) Tags() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tags := make([]string, 0, len(b.lines))
	for tag := range b.lines {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
