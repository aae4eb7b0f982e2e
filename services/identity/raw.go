package identity

import (
	"regexp"
	"strings"

	"watchsync/models"
)

// RawItem is an item as read from one provider, before normalization.
// The concrete variants are PlexRaw and SimklRaw.
type RawItem interface {
	// ExtractIDs returns every external id the payload carries.
	ExtractIDs() models.IDs
	// Base returns the fields shared by every variant.
	Base() RawBase
	isRawItem()
}

// RawBase holds the descriptive fields common to both variants.
type RawBase struct {
	Kind    string
	Title   string
	Year    string
	AddedAt string
}

// PlexRaw is a watchlist entry from the Plex discover API.
type PlexRaw struct {
	RatingKey string
	Type      string
	Title     string
	Year      string
	AddedAt   string
	// GUID is the primary guid, e.g. "plex://movie/5d77..." or a legacy agent guid.
	GUID string
	// GUIDs are the entries of the Guid array, e.g. "imdb://tt0133093".
	GUIDs []string
}

func (PlexRaw) isRawItem() {}

func (p PlexRaw) Base() RawBase {
	return RawBase{Kind: p.Type, Title: p.Title, Year: p.Year, AddedAt: p.AddedAt}
}

// ExtractIDs parses the primary guid and the Guid array.
func (p PlexRaw) ExtractIDs() models.IDs {
	var ids models.IDs
	for _, guid := range p.GUIDs {
		ids.Merge(ParseGUID(guid))
	}
	ids.Merge(ParseGUID(p.GUID))
	return ids
}

// SimklRaw is a plan-to-watch entry from the SIMKL sync API.
type SimklRaw struct {
	Kind    string
	Title   string
	Year    string
	AddedAt string
	// IDs is the "ids" object with values rendered as strings.
	IDs map[string]string
}

func (SimklRaw) isRawItem() {}

func (s SimklRaw) Base() RawBase {
	return RawBase{Kind: s.Kind, Title: s.Title, Year: s.Year, AddedAt: s.AddedAt}
}

// ExtractIDs keeps the namespaces the engine understands and drops the rest
// (simkl, mal, anidb, ...).
func (s SimklRaw) ExtractIDs() models.IDs {
	var ids models.IDs
	for name, value := range s.IDs {
		ns, ok := models.ParseNamespace(name)
		if !ok {
			continue
		}
		if ns == models.NamespaceIMDB {
			value = normalizeIMDB(value)
		}
		ids.Set(ns, value)
	}
	return ids
}

var (
	imdbGUID  = regexp.MustCompile(`^imdb://(tt\d+)`)
	tmdbGUID  = regexp.MustCompile(`^tmdb://(\d+)`)
	tvdbGUID  = regexp.MustCompile(`^(?:the)?tvdb://(\d+)`)
	agentGUID = regexp.MustCompile(`^com\.plexapp\.agents\.([a-z]+)://([^/?]+)`)
	imdbID    = regexp.MustCompile(`^tt\d+$`)
)

// ParseGUID extracts ids from one guid string. Query strings are ignored and
// the "thetvdb" namespace folds into tvdb.
func ParseGUID(guid string) models.IDs {
	var ids models.IDs
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return ids
	}
	if i := strings.IndexByte(guid, '?'); i >= 0 {
		guid = guid[:i]
	}
	lower := strings.ToLower(guid)

	if m := imdbGUID.FindStringSubmatch(lower); m != nil {
		ids.Set(models.NamespaceIMDB, m[1])
		return ids
	}
	if m := tmdbGUID.FindStringSubmatch(lower); m != nil {
		ids.Set(models.NamespaceTMDB, m[1])
		return ids
	}
	if m := tvdbGUID.FindStringSubmatch(lower); m != nil {
		ids.Set(models.NamespaceTVDB, m[1])
		return ids
	}
	if m := agentGUID.FindStringSubmatch(lower); m != nil {
		agent := m[1]
		value := m[2]
		switch agent {
		case "imdb":
			ids.Set(models.NamespaceIMDB, normalizeIMDB(value))
		case "themoviedb", "tmdb":
			ids.Set(models.NamespaceTMDB, value)
		case "thetvdb", "tvdb":
			ids.Set(models.NamespaceTVDB, value)
		}
	}
	return ids
}

// normalizeIMDB lowercases the "tt" prefix and drops values that are not imdb ids.
func normalizeIMDB(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if !imdbID.MatchString(value) {
		return ""
	}
	return value
}
