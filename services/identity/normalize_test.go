package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchsync/models"
)

func TestParseGUID(t *testing.T) {
	tests := []struct {
		guid string
		want models.IDs
	}{
		{"imdb://tt0133093", models.IDs{IMDB: "tt0133093"}},
		{"tmdb://603", models.IDs{TMDB: "603"}},
		{"tvdb://81189", models.IDs{TVDB: "81189"}},
		{"thetvdb://81189", models.IDs{TVDB: "81189"}},
		{"com.plexapp.agents.imdb://tt0133093?lang=en", models.IDs{IMDB: "tt0133093"}},
		{"com.plexapp.agents.themoviedb://603?lang=en", models.IDs{TMDB: "603"}},
		{"com.plexapp.agents.thetvdb://81189/1/1?lang=en", models.IDs{TVDB: "81189"}},
		{"plex://movie/5d7768ba96b655001fdc0408", models.IDs{}},
		{"imdb://nm12345", models.IDs{}},
		{"", models.IDs{}},
	}
	for _, tt := range tests {
		t.Run(tt.guid, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseGUID(tt.guid))
		})
	}
}

func TestNormalize_PlexPrecedence(t *testing.T) {
	raw := PlexRaw{
		RatingKey: "5d77",
		Type:      "movie",
		Title:     "The Matrix",
		Year:      "1999",
		GUID:      "plex://movie/5d77",
		GUIDs:     []string{"tmdb://603", "imdb://tt0133093", "tvdb://169"},
	}

	key, item, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, models.Key{Namespace: models.NamespaceIMDB, Value: "tt0133093"}, key)
	assert.Equal(t, models.KindMovie, item.Kind)
	assert.Equal(t, 1999, item.Year)
	assert.Equal(t, "603", item.IDs.TMDB)
	assert.Equal(t, "169", item.IDs.TVDB)
}

func TestNormalize_SimklDropsUnknownNamespacesAndBadYear(t *testing.T) {
	raw := SimklRaw{
		Kind:  "show",
		Title: "Breaking Bad",
		Year:  "unknown",
		IDs:   map[string]string{"simkl": "11121", "tvdb": "81189", "slug": "breaking-bad"},
	}

	key, item, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, "tvdb:81189", key.String())
	assert.Equal(t, models.KindShow, item.Kind)
	assert.Zero(t, item.Year)
	assert.Equal(t, "breaking-bad", item.IDs.Slug)
}

func TestNormalize_SlugOnly(t *testing.T) {
	key, _, ok := Normalize(SimklRaw{Kind: "movie", IDs: map[string]string{"slug": "some-film"}})
	require.True(t, ok)
	assert.Equal(t, "slug:some-film", key.String())
}

func TestBuildIndex_SkipsUnreconcilableAndKeepsFirstDuplicate(t *testing.T) {
	raws := []RawItem{
		PlexRaw{Type: "movie", Title: "First", GUIDs: []string{"imdb://tt1"}},
		PlexRaw{Type: "movie", Title: "Second", GUIDs: []string{"imdb://tt1"}},
		PlexRaw{Type: "movie", Title: "Nameless", GUID: "plex://movie/abc"},
		PlexRaw{Type: "show", Title: "Other", GUIDs: []string{"tvdb://5"}},
	}

	res := BuildIndex(models.SidePlex, raws)

	require.Len(t, res.Index, 2)
	assert.Equal(t, "First", res.Index[models.Key{Namespace: models.NamespaceIMDB, Value: "tt1"}].Title)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "First")
	assert.Contains(t, res.Warnings[0], "Second")
	assert.Contains(t, res.Warnings[1], "Nameless")
}

func TestKeyRoundTrip(t *testing.T) {
	for _, raw := range []RawItem{
		PlexRaw{GUIDs: []string{"imdb://tt0133093"}},
		SimklRaw{IDs: map[string]string{"tmdb": "603"}},
		SimklRaw{IDs: map[string]string{"slug": "a:b"}},
	} {
		key, _, ok := Normalize(raw)
		require.True(t, ok)
		parsed, err := models.ParseKey(key.String())
		require.NoError(t, err)
		assert.Equal(t, key, parsed)
	}
}

func TestSame(t *testing.T) {
	a := models.Item{Title: "Amélie", Year: 2001, IDs: models.IDs{IMDB: "tt0211915"}}
	assert.True(t, Same(a, models.Item{IDs: models.IDs{IMDB: "tt0211915"}}))
	assert.True(t, Same(a, models.Item{Title: "amelie", Year: 2001}))
	assert.False(t, Same(a, models.Item{Title: "amelie", Year: 2002}))
	assert.False(t, Same(a, models.Item{Title: "amelie"}), "title alone is not enough")
}

func TestAttribute(t *testing.T) {
	today := models.Item{AddedAt: "2024-05-02T10:00:00Z"}
	yesterday := models.Item{AddedAt: "2024-05-01T10:00:00Z"}

	src, ts := Attribute(today, yesterday)
	assert.Equal(t, models.SourcePlex, src)
	assert.Equal(t, today.AddedEpoch(), ts)

	src, _ = Attribute(yesterday, today)
	assert.Equal(t, models.SourceSimkl, src)

	src, _ = Attribute(today, today)
	assert.Equal(t, models.SourcePlex, src, "ties prefer plex")

	src, ts = Attribute(models.Item{}, models.Item{})
	assert.Equal(t, models.SourceBoth, src)
	assert.Zero(t, ts)
}
