package orchestrator

import (
	"path"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchsync/models"
)

func summaryAt(t time.Time, id string) models.RunSummary {
	done := t.Add(time.Second)
	return models.RunSummary{
		RunID:      id,
		StartedAt:  t,
		FinishedAt: &done,
		Status:     models.SyncStatusSuccess,
		Result:     models.ResultEqual,
		ExitCode:   models.IntPtr(models.ExitOK),
	}
}

func TestSummaryStore_SaveListGet(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewSummaryStore(fs, "summaries", 10, zerolog.Nop())
	require.NoError(t, err)

	_, ok := store.Latest()
	assert.False(t, ok)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	name, err := store.Save(summaryAt(base, "a"))
	require.NoError(t, err)
	assert.Equal(t, "sync-20250301-120000.json", name)

	dup, err := store.Save(summaryAt(base, "b"))
	require.NoError(t, err)
	assert.Equal(t, "sync-20250301-120000-2.json", dup)

	_, err = store.Save(summaryAt(base.Add(time.Minute), "c"))
	require.NoError(t, err)

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "sync-20250301-120100.json", infos[0].Name)
	assert.Equal(t, "sync-20250301-120000-2.json", infos[1].Name)
	assert.Equal(t, "sync-20250301-120000.json", infos[2].Name)

	got, err := store.Get(dup)
	require.NoError(t, err)
	assert.Equal(t, "b", got.RunID)

	latest, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, "c", latest.RunID)
}

func TestSummaryStore_ArchivesBeyondKeep(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewSummaryStore(fs, "summaries", 2, zerolog.Nop())
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := store.Save(summaryAt(base.Add(time.Duration(i)*time.Hour), string(rune('a'+i))))
		require.NoError(t, err)
	}

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 4)
	var archived []string
	for _, info := range infos {
		if info.Archived {
			archived = append(archived, info.Name)
		}
	}
	assert.Equal(t, []string{"sync-20250301-130000.json.zst", "sync-20250301-120000.json.zst"}, archived)

	exists, err := afero.Exists(fs, path.Join("summaries", "sync-20250301-120000.json"))
	require.NoError(t, err)
	assert.False(t, exists)

	// the plain name still resolves to the archived copy
	got, err := store.Get("sync-20250301-120000.json")
	require.NoError(t, err)
	assert.Equal(t, "a", got.RunID)

	got, err = store.Get("sync-20250301-130000.json.zst")
	require.NoError(t, err)
	assert.Equal(t, "b", got.RunID)
}

func TestSummaryStore_GetErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewSummaryStore(fs, "summaries", 5, zerolog.Nop())
	require.NoError(t, err)

	for _, name := range []string{"../state.json", "sync-2025.json", "", "sync-20250301-120000.txt"} {
		_, err := store.Get(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err = store.Get("sync-20250301-120000.json")
	assert.ErrorIs(t, err, ErrSummaryNotFound)

	require.NoError(t, afero.WriteFile(fs, "summaries/sync-20250301-120000.json", []byte("{"), 0o644))
	_, err = store.Get("sync-20250301-120000.json")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "decode"))
}

func TestSummaryStore_IgnoresForeignFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "summaries/notes.txt", []byte("x"), 0o644))
	store, err := NewSummaryStore(fs, "summaries", 5, zerolog.Nop())
	require.NoError(t, err)

	infos, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
}
