package models

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Kind is the media type of a watchlist entry.
type Kind string

const (
	KindMovie Kind = "movie"
	KindShow  Kind = "show"
)

// ParseKind maps the type strings used by both providers onto a Kind.
// Anything that is not recognisably a show is treated as a movie.
func ParseKind(raw string) Kind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "show", "shows", "tv", "series", "tv_shows", "2":
		return KindShow
	default:
		return KindMovie
	}
}

// Plural returns the payload bucket name used by bulk write APIs.
func (k Kind) Plural() string {
	if k == KindShow {
		return "shows"
	}
	return "movies"
}

// Namespace identifies an external id space.
type Namespace string

const (
	NamespaceIMDB Namespace = "imdb"
	NamespaceTMDB Namespace = "tmdb"
	NamespaceTVDB Namespace = "tvdb"
	NamespaceSlug Namespace = "slug"
)

// KeyPrecedence is the order in which namespaces are tried when choosing a canonical key.
var KeyPrecedence = []Namespace{NamespaceIMDB, NamespaceTMDB, NamespaceTVDB, NamespaceSlug}

// ParseNamespace normalises a namespace label. "thetvdb" is folded into tvdb.
func ParseNamespace(raw string) (Namespace, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "imdb":
		return NamespaceIMDB, true
	case "tmdb", "themoviedb":
		return NamespaceTMDB, true
	case "tvdb", "thetvdb":
		return NamespaceTVDB, true
	case "slug":
		return NamespaceSlug, true
	default:
		return "", false
	}
}

// IDs holds the external identifiers of an item. Values are kept as strings.
type IDs struct {
	IMDB string `json:"imdb,omitempty"`
	TMDB string `json:"tmdb,omitempty"`
	TVDB string `json:"tvdb,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// Get returns the id stored for a namespace.
func (ids IDs) Get(ns Namespace) string {
	switch ns {
	case NamespaceIMDB:
		return ids.IMDB
	case NamespaceTMDB:
		return ids.TMDB
	case NamespaceTVDB:
		return ids.TVDB
	case NamespaceSlug:
		return ids.Slug
	}
	return ""
}

// Set stores a value for a namespace; empty values are ignored.
func (ids *IDs) Set(ns Namespace, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	switch ns {
	case NamespaceIMDB:
		ids.IMDB = value
	case NamespaceTMDB:
		ids.TMDB = value
	case NamespaceTVDB:
		ids.TVDB = value
	case NamespaceSlug:
		ids.Slug = value
	}
}

// Merge fills empty namespaces from other.
func (ids *IDs) Merge(other IDs) {
	for _, ns := range KeyPrecedence {
		if ids.Get(ns) == "" {
			ids.Set(ns, other.Get(ns))
		}
	}
}

// Empty reports whether no namespace is populated.
func (ids IDs) Empty() bool {
	return ids.IMDB == "" && ids.TMDB == "" && ids.TVDB == "" && ids.Slug == ""
}

// Matches reports whether any of imdb/tmdb/tvdb agree between the two sets.
func (ids IDs) Matches(other IDs) bool {
	for _, ns := range []Namespace{NamespaceIMDB, NamespaceTMDB, NamespaceTVDB} {
		if v := ids.Get(ns); v != "" && v == other.Get(ns) {
			return true
		}
	}
	return false
}

// Canonical picks the highest-precedence populated namespace.
func (ids IDs) Canonical() (Key, bool) {
	for _, ns := range KeyPrecedence {
		if v := ids.Get(ns); v != "" {
			return Key{Namespace: ns, Value: v}, true
		}
	}
	return Key{}, false
}

// ErrInvalidKey is returned when a serialized key cannot be parsed.
var ErrInvalidKey = errors.New("invalid canonical key")

// Key is the canonical identity of an item: a namespace and a raw value.
type Key struct {
	Namespace Namespace
	Value     string
}

// String serializes the key as "{ns}:{value}".
func (k Key) String() string {
	return string(k.Namespace) + ":" + k.Value
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k.Namespace == "" && k.Value == ""
}

// ParseKey parses "{ns}:{value}". The value is taken verbatim after the first colon.
func ParseKey(s string) (Key, error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	ns := Namespace(s[:idx])
	valid := false
	for _, known := range KeyPrecedence {
		if ns == known {
			valid = true
			break
		}
	}
	if !valid {
		return Key{}, fmt.Errorf("%w: unknown namespace %q", ErrInvalidKey, s[:idx])
	}
	return Key{Namespace: ns, Value: s[idx+1:]}, nil
}

// MarshalText lets keys be used as JSON object keys.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a serialized key.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Item is one watchlist entry as seen on a provider.
type Item struct {
	Kind    Kind   `json:"type"`
	Title   string `json:"title,omitempty"`
	Year    int    `json:"year,omitempty"`
	IDs     IDs    `json:"ids"`
	AddedAt string `json:"added_at,omitempty"`

	// Extra carries fields this program does not interpret so they survive a rewrite.
	Extra map[string]json.RawMessage `json:"-"`
}

var itemFields = map[string]struct{}{"type": {}, "kind": {}, "title": {}, "year": {}, "ids": {}, "added_at": {}}

// Key returns the canonical key of the item.
func (i Item) Key() (Key, bool) {
	return i.IDs.Canonical()
}

// AddedEpoch parses AddedAt, returning 0 when absent or malformed.
func (i Item) AddedEpoch() int64 {
	return ParseTimestamp(i.AddedAt)
}

// Label is a short human description used in logs and warnings.
func (i Item) Label() string {
	title := i.Title
	if title == "" {
		title = "untitled"
	}
	if i.Year > 0 {
		return fmt.Sprintf("%s (%d)", title, i.Year)
	}
	return title
}

type itemAlias struct {
	Kind    Kind   `json:"type"`
	Title   string `json:"title,omitempty"`
	Year    int    `json:"year,omitempty"`
	IDs     IDs    `json:"ids"`
	AddedAt string `json:"added_at,omitempty"`
}

// MarshalJSON writes the known fields and any preserved extras.
func (i Item) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(itemAlias{Kind: i.Kind, Title: i.Title, Year: i.Year, IDs: i.IDs, AddedAt: i.AddedAt})
	if err != nil {
		return nil, err
	}
	if len(i.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(i.Extra)+5)
	for k, v := range i.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON accepts "type" or "kind", tolerates numeric ids and keeps unknown fields.
func (i *Item) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var out Item
	kindRaw := fields["type"]
	if len(kindRaw) == 0 {
		kindRaw = fields["kind"]
	}
	if len(kindRaw) > 0 {
		var s string
		if err := json.Unmarshal(kindRaw, &s); err == nil {
			out.Kind = ParseKind(s)
		}
	}
	if out.Kind == "" {
		out.Kind = KindMovie
	}
	if raw, ok := fields["title"]; ok {
		_ = json.Unmarshal(raw, &out.Title)
	}
	if raw, ok := fields["year"]; ok {
		out.Year = CoerceYear(rawScalar(raw))
	}
	if raw, ok := fields["added_at"]; ok {
		_ = json.Unmarshal(raw, &out.AddedAt)
	}
	if raw, ok := fields["ids"]; ok {
		var ids map[string]json.RawMessage
		if err := json.Unmarshal(raw, &ids); err == nil {
			for name, v := range ids {
				if ns, ok := ParseNamespace(name); ok {
					out.IDs.Set(ns, rawScalar(v))
				}
			}
		}
	}

	for k, v := range fields {
		if _, known := itemFields[k]; known {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}

	*i = out
	return nil
}

// rawScalar renders a JSON string or number as a plain string.
func rawScalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// CoerceYear converts a textual year to an int; non-numeric input yields 0.
func CoerceYear(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
		return int(f)
	}
	return 0
}

// ParseTimestamp accepts RFC 3339 (with or without zone) and unix seconds.
func ParseTimestamp(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Unix()
		}
	}
	return 0
}

// Index is a provider's watchlist keyed by canonical key.
type Index map[Key]Item

// Keys returns the index keys in serialized order.
func (idx Index) Keys() []Key {
	keys := make([]Key, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Clone returns a shallow copy of the index.
func (idx Index) Clone() Index {
	out := make(Index, len(idx))
	for k, v := range idx {
		out[k] = v
	}
	return out
}

// CountKind returns the number of entries of one kind.
func (idx Index) CountKind(kind Kind) int {
	n := 0
	for _, item := range idx {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

// SortKeys orders keys by their serialized form.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
