package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/identity"
	"watchsync/services/provider"
	"watchsync/services/provider/providertest"
	"watchsync/services/snapshot"
	"watchsync/services/stats"
)

type staticSettings struct{ s config.Settings }

func (s staticSettings) Snapshot() config.Settings { return s.s }

type harness struct {
	svc       *Service
	fs        afero.Fs
	snapshots *snapshot.Store
	stats     *stats.Service
	summaries *SummaryStore
}

func newHarness(t *testing.T, plex, simkl provider.Provider, mutate func(*config.Settings)) *harness {
	t.Helper()
	settings := config.DefaultSettings()
	settings.Sync.VerifyDelaySec = 0
	if mutate != nil {
		mutate(&settings)
	}

	fs := afero.NewMemMapFs()
	h := &harness{
		fs:        fs,
		snapshots: snapshot.NewStore(fs, "state/state.json", zerolog.Nop()),
		stats:     stats.NewService(fs, "state/statistics.json", zerolog.Nop()),
	}
	var err error
	h.summaries, err = NewSummaryStore(fs, "state/summaries", 50, zerolog.Nop())
	require.NoError(t, err)

	h.svc = NewService(Options{
		Settings: staticSettings{settings},
		Providers: func(config.Settings) (map[models.Side]provider.Provider, error) {
			return map[models.Side]provider.Provider{models.SidePlex: plex, models.SideSimkl: simkl}, nil
		},
		Snapshots: h.snapshots,
		Stats:     h.stats,
		Summaries: h.summaries,
		Version:   "test",
		Logger:    zerolog.Nop(),
	})
	return h
}

func movie(imdb string) models.Item {
	return providertest.Movie(models.NamespaceIMDB, imdb, "Movie "+imdb)
}

func tmdb(id string) models.Item {
	return providertest.Movie(models.NamespaceTMDB, id, "Movie "+id)
}

func TestRun_TwoWay(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"), movie("tt2"))
	simkl := providertest.New(models.SideSimkl, movie("tt2"), movie("tt3"))
	h := newHarness(t, plex, simkl, nil)

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSuccess, summary.Status)
	assert.Equal(t, models.ResultEqual, summary.Result)
	require.NotNil(t, summary.ExitCode)
	assert.Equal(t, models.ExitOK, *summary.ExitCode)
	assert.Equal(t, 2, *summary.PlexPre)
	assert.Equal(t, 3, *summary.PlexPost)
	assert.Equal(t, 3, *summary.SimklPost)
	assert.Equal(t, models.SideTally{Plex: 1, Simkl: 1}, summary.Added)
	assert.Equal(t, "two-way", summary.Policy)
	assert.Equal(t, models.Timeline{Start: true, Pre: true, Post: true, Done: true}, summary.Timeline)
	assert.False(t, summary.Running)
	assert.NotNil(t, summary.FinishedAt)

	want := []string{"imdb:tt1", "imdb:tt2", "imdb:tt3"}
	assert.Equal(t, want, plex.Keys())
	assert.Equal(t, want, simkl.Keys())

	snap := h.snapshots.Load()
	assert.Len(t, snap.Plex.Items, 3)
	assert.Len(t, snap.Simkl.Items, 3)
	assert.NotZero(t, snap.LastSyncEpoch)

	infos, err := h.summaries.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	stored, err := h.summaries.Get(infos[0].Name)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, stored.RunID)

	ov := h.stats.Overview(nil, nil)
	assert.Equal(t, 3, ov.Now)
	assert.Equal(t, 3, ov.BySource.Both)
	// two confirmed writes plus three union adds
	assert.Len(t, h.stats.Events(0, ""), 5)
}

func TestRun_Mirror(t *testing.T) {
	plex := providertest.New(models.SidePlex, tmdb("10"), tmdb("20"))
	simkl := providertest.New(models.SideSimkl, tmdb("20"), tmdb("30"))
	simkl.Caps.BulkWrite = true
	h := newHarness(t, plex, simkl, func(s *config.Settings) {
		s.Sync.Bidirectional.Mode = config.ModeMirror
		s.Sync.Bidirectional.SourceOfTruth = "plex"
	})

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)

	assert.Equal(t, models.ResultEqual, summary.Result)
	assert.Equal(t, "mirror:plex", summary.Policy)
	assert.Equal(t, []string{"tmdb:10", "tmdb:20"}, simkl.Keys())
	assert.Equal(t, []string{"tmdb:10", "tmdb:20"}, plex.Keys())
	assert.Empty(t, plex.Calls())
	assert.Equal(t, []string{"bulk-add movie 1", "bulk-remove movie 1"}, simkl.Calls())
	assert.Equal(t, 1, summary.Removed.Simkl)
}

func TestRun_NoChanges(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt9"))
	simkl := providertest.New(models.SideSimkl, movie("tt9"))
	h := newHarness(t, plex, simkl, nil)

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, models.ResultEqual, summary.Result)
	assert.Empty(t, summary.Planned)
	assert.Empty(t, plex.Calls())
	assert.Empty(t, simkl.Calls())
}

func TestRun_EmptySides(t *testing.T) {
	h := newHarness(t, providertest.New(models.SidePlex), providertest.New(models.SideSimkl), nil)

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, models.ResultEqual, summary.Result)
	assert.Equal(t, 0, *summary.PlexPost)
	assert.Equal(t, 0, *summary.SimklPost)
	assert.Equal(t, models.ExitOK, *summary.ExitCode)
}

func TestRun_OfflineSideIsRecoverable(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"))
	simkl := providertest.New(models.SideSimkl)
	simkl.WriteErr = &provider.RecoverableError{Op: "simkl add-to-list", Err: errors.New("connection refused")}
	h := newHarness(t, plex, simkl, nil)

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusWarning, summary.Status)
	assert.Equal(t, models.ExitRecoverable, *summary.ExitCode)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "imdb:tt1")
	assert.Empty(t, simkl.Keys())
	assert.True(t, h.snapshots.Load().Empty(), "snapshot is not written after a failed write")
}

func TestRun_ItemFailureIsWarningWithExitZero(t *testing.T) {
	plex := providertest.New(models.SidePlex)
	plex.ItemErr[models.Key{Namespace: models.NamespaceIMDB, Value: "tt1"}] = provider.ErrNotResolved
	simkl := providertest.New(models.SideSimkl, movie("tt1"), movie("tt2"))
	h := newHarness(t, plex, simkl, nil)

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusWarning, summary.Status)
	assert.Equal(t, models.ExitOK, *summary.ExitCode)
	assert.Equal(t, 1, summary.Added.Plex)
}

func TestRun_ConfigErrors(t *testing.T) {
	t.Run("mirror without source", func(t *testing.T) {
		h := newHarness(t, providertest.New(models.SidePlex), providertest.New(models.SideSimkl), func(s *config.Settings) {
			s.Sync.Bidirectional.Mode = config.ModeMirror
			s.Sync.Bidirectional.SourceOfTruth = ""
		})
		summary, err := h.svc.Run(context.Background(), "sync")
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusFailed, summary.Status)
		assert.Equal(t, models.ExitConfig, *summary.ExitCode)
		require.Len(t, summary.Errors, 1)
		assert.Contains(t, summary.Errors[0], "source_of_truth")
	})

	t.Run("mirror loaded from disk without source", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "config/config.json", []byte(`{"sync":{"bidirectional":{"mode":"mirror"}}}`), 0o644))
		loaded, err := config.NewManagerWithFs(fs, "config/config.json").Load()
		require.NoError(t, err)

		plex := providertest.New(models.SidePlex, movie("tt1"))
		simkl := providertest.New(models.SideSimkl)
		h := newHarness(t, plex, simkl, func(s *config.Settings) { *s = loaded })
		summary, err := h.svc.Run(context.Background(), "sync")
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusFailed, summary.Status)
		require.NotNil(t, summary.ExitCode)
		assert.Equal(t, models.ExitConfig, *summary.ExitCode)
		assert.Empty(t, simkl.Calls())
	})

	t.Run("adapter rejects credentials", func(t *testing.T) {
		plex := providertest.New(models.SidePlex)
		plex.ConfigErr = provider.NewConfigError(models.SidePlex, "account_token is missing")
		h := newHarness(t, plex, providertest.New(models.SideSimkl), nil)
		summary, err := h.svc.Run(context.Background(), "sync")
		require.NoError(t, err)
		assert.Equal(t, models.ExitConfig, *summary.ExitCode)
		assert.True(t, h.snapshots.Load().Empty())
	})

	t.Run("unexpected error", func(t *testing.T) {
		plex := providertest.New(models.SidePlex)
		plex.ListErr = errors.New("boom")
		h := newHarness(t, plex, providertest.New(models.SideSimkl), nil)
		summary, err := h.svc.Run(context.Background(), "sync")
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusFailed, summary.Status)
		assert.Equal(t, models.ExitUnexpected, *summary.ExitCode)
	})

	t.Run("transport error on read", func(t *testing.T) {
		plex := providertest.New(models.SidePlex)
		plex.ListErr = &provider.RecoverableError{Op: "plex watchlist", StatusCode: 502}
		h := newHarness(t, plex, providertest.New(models.SideSimkl), nil)
		summary, err := h.svc.Run(context.Background(), "sync")
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusWarning, summary.Status)
		assert.Equal(t, models.ExitRecoverable, *summary.ExitCode)
	})
}

func TestRun_DryRun(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"))
	simkl := providertest.New(models.SideSimkl, movie("tt2"))
	h := newHarness(t, plex, simkl, func(s *config.Settings) { s.Sync.DryRun = true })

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, models.ResultUnknown, summary.Result)
	assert.Len(t, summary.Planned, 2)
	assert.Empty(t, plex.Calls())
	assert.Empty(t, simkl.Calls())
	assert.True(t, h.snapshots.Load().Empty())
	assert.Equal(t, models.ExitOK, *summary.ExitCode)
}

func TestRun_DivergedKeepsOldSnapshot(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"))
	simkl := providertest.New(models.SideSimkl, movie("tt1"), movie("tt2"))
	simkl.Sticky = true
	h := newHarness(t, plex, simkl, func(s *config.Settings) {
		s.Sync.Bidirectional.Mode = config.ModeMirror
		s.Sync.Bidirectional.SourceOfTruth = "plex"
		s.Sync.VerifyAttempts = 2
	})

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, models.ResultDiverged, summary.Result)
	assert.Equal(t, models.SyncStatusSuccess, summary.Status)
	assert.Equal(t, models.ExitOK, *summary.ExitCode)
	assert.True(t, h.snapshots.Load().Empty())
}

func TestRun_VerifyOffProjectsPostState(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"))
	simkl := providertest.New(models.SideSimkl)
	listCalls := 0
	simkl.OnList = func(context.Context) error { listCalls++; return nil }
	h := newHarness(t, plex, simkl, func(s *config.Settings) { s.Sync.VerifyAfterWrite = false })

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, 1, listCalls)
	assert.Equal(t, models.ResultUnknown, summary.Result)
	assert.Equal(t, 1, *summary.SimklPost)
	assert.Len(t, h.snapshots.Load().Simkl.Items, 1)
}

func TestRun_PropagatesRemovals(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"), movie("tt2"))
	simkl := providertest.New(models.SideSimkl, movie("tt1"), movie("tt2"))
	h := newHarness(t, plex, simkl, func(s *config.Settings) { s.Sync.Bidirectional.PropagateRemovals = true })

	_, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)

	_, err = plex.Remove(context.Background(), movie("tt1"))
	require.NoError(t, err)

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Removed.Simkl)
	assert.Equal(t, []string{"imdb:tt2"}, simkl.Keys())
	assert.Equal(t, models.ResultEqual, summary.Result)
}

func blockingList(started chan<- struct{}) func(ctx context.Context) error {
	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestStart_SingleFlightAndCancel(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"))
	started := make(chan struct{})
	plex.OnList = blockingList(started)
	h := newHarness(t, plex, providertest.New(models.SideSimkl), nil)

	id, err := h.svc.Start("sync")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	<-started

	_, err = h.svc.Start("sync")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = h.svc.Run(context.Background(), "sync")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, h.svc.Running())

	require.NoError(t, h.svc.Cancel())
	require.Eventually(t, func() bool { return !h.svc.Running() }, 2*time.Second, 10*time.Millisecond)

	st := h.svc.Status()
	require.NotNil(t, st.Summary)
	assert.Equal(t, id, st.Summary.RunID)
	assert.Equal(t, models.SyncStatusCancelled, st.Summary.Status)
	assert.Equal(t, models.ExitRecoverable, *st.Summary.ExitCode)
	require.NotNil(t, st.Progress)
	assert.Equal(t, models.StageCancelled, st.Progress.Stage)

	assert.ErrorIs(t, h.svc.Cancel(), ErrNotRunning)
}

func TestRun_Timeout(t *testing.T) {
	plex := providertest.New(models.SidePlex)
	plex.OnList = blockingList(make(chan struct{}))
	h := newHarness(t, plex, providertest.New(models.SideSimkl), func(s *config.Settings) { s.Runtime.TimeoutSec = 1 })

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusWarning, summary.Status)
	assert.Equal(t, []string{"timeout"}, summary.Errors)
	assert.Equal(t, models.ExitRecoverable, *summary.ExitCode)
}

func TestRun_ProgressStreamIsMonotonic(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"), movie("tt2"))
	simkl := providertest.New(models.SideSimkl, movie("tt3"))
	h := newHarness(t, plex, simkl, nil)

	ch := h.svc.Broker().Subscribe()
	defer h.svc.Broker().Unsubscribe(ch)

	_, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)

	var events []models.ProgressEvent
	sawSummary := false
drain:
	for {
		select {
		case msg := <-ch:
			event, data := parseSSE(t, msg)
			if event == EventSummary {
				sawSummary = true
				continue
			}
			var ev models.ProgressEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			events = append(events, ev)
		default:
			break drain
		}
	}

	assert.True(t, sawSummary)
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		assert.Equal(t, prev.Seq+1, cur.Seq)
		assert.GreaterOrEqual(t, cur.Stage.Rank(), prev.Stage.Rank())
		if cur.Stage == prev.Stage {
			assert.GreaterOrEqual(t, cur.Done, prev.Done)
		}
	}
	assert.Equal(t, models.StageDone, events[len(events)-1].Stage)
}

func parseSSE(t *testing.T, msg []byte) (string, []byte) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(msg)), "\n")
	require.Len(t, lines, 2)
	return strings.TrimPrefix(lines[0], "event: "), bytes.TrimPrefix([]byte(lines[1]), []byte("data: "))
}

// activityFake adds the SIMKL activity surface to the in-memory provider.
type activityFake struct {
	*providertest.Fake
	acts      map[string]string
	listCalls int
}

func (f *activityFake) Activities(context.Context) (map[string]string, error) {
	return f.acts, nil
}

func (f *activityFake) ListKind(ctx context.Context, kind models.Kind, progress provider.ProgressFunc) ([]identity.RawItem, error) {
	all, err := f.List(ctx, progress)
	if err != nil {
		return nil, err
	}
	var out []identity.RawItem
	for _, raw := range all {
		if models.ParseKind(raw.Base().Kind) == kind {
			out = append(out, raw)
		}
	}
	return out, nil
}

func TestRun_ReusesUnchangedSimklKinds(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"))
	inner := providertest.New(models.SideSimkl, movie("tt1"))
	inner.Caps.Activities = true
	simkl := &activityFake{Fake: inner, acts: map[string]string{
		"movies.plantowatch":   "2024-01-01T00:00:00Z",
		"tv_shows.plantowatch": "2024-01-01T00:00:00Z",
	}}
	inner.OnList = func(context.Context) error { simkl.listCalls++; return nil }
	h := newHarness(t, plex, simkl, nil)

	_, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, 1, simkl.listCalls)
	assert.Equal(t, "2024-01-01T00:00:00Z", h.snapshots.Load().Simkl.LastActivities["movies.plantowatch"])

	summary, err := h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, 1, simkl.listCalls, "unchanged kinds are taken from the snapshot")
	assert.Equal(t, 1, *summary.SimklPre)

	simkl.acts = map[string]string{
		"movies.plantowatch":   "2024-02-01T00:00:00Z",
		"tv_shows.plantowatch": "2024-01-01T00:00:00Z",
	}
	_, err = h.svc.Run(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, 2, simkl.listCalls, "only the movie kind is re-read")
}
