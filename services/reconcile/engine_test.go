package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/provider"
	"watchsync/services/provider/providertest"
)

func index(items ...models.Item) models.Index {
	idx := models.Index{}
	for _, it := range items {
		k, _ := it.Key()
		idx[k] = it
	}
	return idx
}

func movie(imdb string) models.Item {
	return providertest.Movie(models.NamespaceIMDB, imdb, "Movie "+imdb)
}

func tmdbMovie(id string) models.Item {
	return providertest.Movie(models.NamespaceTMDB, id, "Movie "+id)
}

func keysOf(items []models.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		k, _ := it.Key()
		out = append(out, k.String())
	}
	return out
}

func twoWay() Policy {
	return Policy{Mode: config.ModeTwoWay, EnableAdd: true, EnableRemove: true}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name         string
		policy       Policy
		a, b         models.Index
		addPlex      []string
		addSimkl     []string
		removePlex   []string
		removeSimkl  []string
		expectNoWork bool
	}{
		{
			name:     "two-way adds what each side lacks",
			policy:   twoWay(),
			a:        index(movie("tt1"), movie("tt2")),
			b:        index(movie("tt2"), movie("tt3")),
			addPlex:  []string{"imdb:tt3"},
			addSimkl: []string{"imdb:tt1"},
		},
		{
			name:        "mirror from plex adds and removes on simkl",
			policy:      Policy{Mode: config.ModeMirror, Source: models.SidePlex, EnableAdd: true, EnableRemove: true},
			a:           index(tmdbMovie("10"), tmdbMovie("20")),
			b:           index(tmdbMovie("20"), tmdbMovie("30")),
			addSimkl:    []string{"tmdb:10"},
			removeSimkl: []string{"tmdb:30"},
		},
		{
			name:       "mirror from simkl targets plex",
			policy:     Policy{Mode: config.ModeMirror, Source: models.SideSimkl, EnableAdd: true, EnableRemove: true},
			a:          index(tmdbMovie("10"), tmdbMovie("20")),
			b:          index(tmdbMovie("20"), tmdbMovie("30")),
			addPlex:    []string{"tmdb:30"},
			removePlex: []string{"tmdb:10"},
		},
		{
			name:         "identical sides need nothing",
			policy:       twoWay(),
			a:            index(movie("tt1"), movie("tt2")),
			b:            index(movie("tt2"), movie("tt1")),
			expectNoWork: true,
		},
		{
			name:         "empty sides need nothing",
			policy:       twoWay(),
			a:            models.Index{},
			b:            models.Index{},
			expectNoWork: true,
		},
		{
			name:         "adds disabled",
			policy:       Policy{Mode: config.ModeTwoWay, EnableRemove: true},
			a:            index(movie("tt1")),
			b:            models.Index{},
			expectNoWork: true,
		},
		{
			name:     "mirror with removes disabled only adds",
			policy:   Policy{Mode: config.ModeMirror, Source: models.SidePlex, EnableAdd: true},
			a:        index(movie("tt1")),
			b:        index(movie("tt9")),
			addSimkl: []string{"imdb:tt1"},
		},
		{
			name:   "ids shared under a different canonical key are the same item",
			policy: twoWay(),
			a: index(models.Item{Kind: models.KindMovie, Title: "Heat", IDs: models.IDs{IMDB: "tt0113277", TMDB: "949"}}),
			b: index(models.Item{Kind: models.KindMovie, Title: "Heat", IDs: models.IDs{TMDB: "949"}}),
			expectNoWork: true,
		},
		{
			name:     "tmdb ids of different kinds do not alias",
			policy:   twoWay(),
			a:        index(models.Item{Kind: models.KindMovie, IDs: models.IDs{IMDB: "tt5", TMDB: "100"}}),
			b:        index(models.Item{Kind: models.KindShow, IDs: models.IDs{TMDB: "100"}}),
			addPlex:  []string{"tmdb:100"},
			addSimkl: []string{"imdb:tt5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Compute(tt.policy, tt.a, tt.b, nil, nil)
			if tt.expectNoWork {
				assert.Zero(t, plan.Count())
				return
			}
			assert.ElementsMatch(t, tt.addPlex, keysOf(plan.Adds[models.SidePlex]))
			assert.ElementsMatch(t, tt.addSimkl, keysOf(plan.Adds[models.SideSimkl]))
			assert.ElementsMatch(t, tt.removePlex, keysOf(plan.Removes[models.SidePlex]))
			assert.ElementsMatch(t, tt.removeSimkl, keysOf(plan.Removes[models.SideSimkl]))
		})
	}
}

func TestCompute_TwoWayNeverRemovesWithoutPropagation(t *testing.T) {
	prev := index(movie("tt1"), movie("tt2"))
	plan := Compute(twoWay(), index(movie("tt2")), index(movie("tt1"), movie("tt2")), prev, prev)

	assert.Empty(t, plan.Removes[models.SidePlex])
	assert.Empty(t, plan.Removes[models.SideSimkl])
	assert.Equal(t, []string{"imdb:tt1"}, keysOf(plan.Adds[models.SidePlex]))
}

func TestCompute_PropagateRemovals(t *testing.T) {
	policy := twoWay()
	policy.PropagateRemovals = true
	prev := index(movie("tt1"), movie("tt2"))

	// tt1 was dropped from plex since the last run, tt3 is new on simkl
	plan := Compute(policy, index(movie("tt2")), index(movie("tt1"), movie("tt2"), movie("tt3")), prev, prev)

	assert.Equal(t, []string{"imdb:tt1"}, keysOf(plan.Removes[models.SideSimkl]))
	assert.Equal(t, []string{"imdb:tt3"}, keysOf(plan.Adds[models.SidePlex]))
	assert.Empty(t, plan.Adds[models.SideSimkl])
}

func TestCompute_PropagationWithoutSnapshotOnlyAdds(t *testing.T) {
	policy := twoWay()
	policy.PropagateRemovals = true

	plan := Compute(policy, index(movie("tt2")), index(movie("tt1"), movie("tt2")), nil, nil)
	assert.Empty(t, plan.Removes[models.SideSimkl])
	assert.Equal(t, []string{"imdb:tt1"}, keysOf(plan.Adds[models.SidePlex]))
}

func TestPolicyFromSettings(t *testing.T) {
	s := config.DefaultSettings().Sync

	s.Bidirectional.Mode = "mirror"
	s.Bidirectional.SourceOfTruth = ""
	_, err := PolicyFromSettings(s)
	require.Error(t, err)
	assert.True(t, provider.IsConfig(err))

	s.Bidirectional.SourceOfTruth = "SIMKL"
	p, err := PolicyFromSettings(s)
	require.NoError(t, err)
	assert.Equal(t, models.SideSimkl, p.Source)
	assert.Equal(t, "mirror:simkl", p.String())

	s.Bidirectional.Mode = ""
	p, err = PolicyFromSettings(s)
	require.NoError(t, err)
	assert.Equal(t, "two-way", p.String())

	s.Bidirectional.Mode = "sideways"
	_, err = PolicyFromSettings(s)
	assert.True(t, provider.IsConfig(err))
}

func TestPlanWrites_AddsBeforeRemoves(t *testing.T) {
	plan := Plan{
		Adds:    map[models.Side][]models.Item{models.SideSimkl: {movie("tt1")}},
		Removes: map[models.Side][]models.Item{models.SidePlex: {movie("tt2")}},
	}
	writes := plan.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "add", writes[0].Action)
	assert.Equal(t, models.SideSimkl, writes[0].Side)
	assert.Equal(t, "remove", writes[1].Action)
}

func TestApply_EndToEndTwoWay(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"), movie("tt2"))
	simkl := providertest.New(models.SideSimkl, movie("tt2"), movie("tt3"))
	simkl.Caps.BulkWrite = true

	plan := Compute(twoWay(), index(movie("tt1"), movie("tt2")), index(movie("tt2"), movie("tt3")), nil, nil)

	var notes []string
	out, err := NewEngine(zerolog.Nop()).Apply(context.Background(), plan,
		map[models.Side]provider.Provider{models.SidePlex: plex, models.SideSimkl: simkl},
		func(done, total int, note string) { notes = append(notes, note) })
	require.NoError(t, err)

	assert.Equal(t, models.SideTally{Plex: 1, Simkl: 1}, out.Added)
	assert.Zero(t, out.Failed)
	assert.Len(t, out.Confirmed, 2)
	assert.Equal(t, []string{"imdb:tt1", "imdb:tt2", "imdb:tt3"}, plex.Keys())
	assert.Equal(t, []string{"imdb:tt1", "imdb:tt2", "imdb:tt3"}, simkl.Keys())
	assert.Equal(t, []string{"add imdb:tt3"}, plex.Calls())
	assert.Equal(t, []string{"bulk-add movie 1"}, simkl.Calls())
	assert.Len(t, notes, 2)
}

func TestApply_OfflineSideBecomesTransportWarning(t *testing.T) {
	plex := providertest.New(models.SidePlex, movie("tt1"))
	simkl := providertest.New(models.SideSimkl, movie("tt3"))
	simkl.WriteErr = &provider.RecoverableError{Op: "simkl add", Err: errors.New("connection refused")}

	plan := Compute(twoWay(), index(movie("tt1")), index(movie("tt3")), nil, nil)
	out, err := NewEngine(zerolog.Nop()).Apply(context.Background(), plan,
		map[models.Side]provider.Provider{models.SidePlex: plex, models.SideSimkl: simkl}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Added.Plex)
	assert.Equal(t, 0, out.Added.Simkl)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "imdb:tt1")
	assert.True(t, provider.IsRecoverable(out.Transport))
}

func TestApply_ItemFailureContinues(t *testing.T) {
	plex := providertest.New(models.SidePlex)
	plex.ItemErr[models.Key{Namespace: models.NamespaceIMDB, Value: "tt1"}] = provider.ErrNotResolved
	simkl := providertest.New(models.SideSimkl, movie("tt1"), movie("tt2"))

	plan := Compute(twoWay(), models.Index{}, index(movie("tt1"), movie("tt2")), nil, nil)
	out, err := NewEngine(zerolog.Nop()).Apply(context.Background(), plan,
		map[models.Side]provider.Provider{models.SidePlex: plex, models.SideSimkl: simkl}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Added.Plex)
	assert.Equal(t, 1, out.Failed)
	assert.Nil(t, out.Transport, "an unresolved item is not a transport failure")
	assert.Equal(t, []string{"imdb:tt2"}, plex.Keys())
}

func TestApply_BulkPartialFailure(t *testing.T) {
	simkl := providertest.New(models.SideSimkl)
	simkl.Caps.BulkWrite = true
	simkl.ItemErr[models.Key{Namespace: models.NamespaceIMDB, Value: "tt2"}] = provider.ErrNotResolved

	plan := Plan{Adds: map[models.Side][]models.Item{models.SideSimkl: {movie("tt1"), movie("tt2")}}}
	out, err := NewEngine(zerolog.Nop()).Apply(context.Background(), plan,
		map[models.Side]provider.Provider{models.SideSimkl: simkl}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Added.Simkl)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, []string{"imdb:tt1"}, simkl.Keys())
}

func TestApply_CancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plex := providertest.New(models.SidePlex)
	plex.OnWrite = cancel

	plan := Plan{Adds: map[models.Side][]models.Item{models.SidePlex: {movie("tt1"), movie("tt2"), movie("tt3")}}}
	out, err := NewEngine(zerolog.Nop()).Apply(ctx, plan, map[models.Side]provider.Provider{models.SidePlex: plex}, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, out.Added.Plex)
	assert.Len(t, plex.Calls(), 1)
}

func TestApply_MissingProvider(t *testing.T) {
	plan := Plan{Adds: map[models.Side][]models.Item{models.SideSimkl: {movie("tt1")}}}
	_, err := NewEngine(zerolog.Nop()).Apply(context.Background(), plan, map[models.Side]provider.Provider{}, nil)
	assert.Error(t, err)
}

type bulkMock struct {
	*provider.MockProvider
	*provider.MockBulkWriter
}

func TestApply_OrderAddsBeforeRemoves(t *testing.T) {
	ctrl := gomock.NewController(t)
	plex := provider.NewMockProvider(ctrl)
	simklP := provider.NewMockProvider(ctrl)
	simklB := provider.NewMockBulkWriter(ctrl)

	plex.EXPECT().Capabilities().Return(provider.Capabilities{}).AnyTimes()
	simklP.EXPECT().Capabilities().Return(provider.Capabilities{BulkWrite: true}).AnyTimes()

	show := providertest.Show(models.NamespaceTVDB, "42", "Show")
	gomock.InOrder(
		plex.EXPECT().Add(gomock.Any(), movie("tt1")).Return(true, nil),
		simklB.EXPECT().AddBulk(gomock.Any(), models.KindMovie, []models.Item{movie("tt2")}).
			Return(provider.BulkResult{OK: []models.Key{{Namespace: models.NamespaceIMDB, Value: "tt2"}}}, nil),
		simklB.EXPECT().AddBulk(gomock.Any(), models.KindShow, []models.Item{show}).
			Return(provider.BulkResult{OK: []models.Key{{Namespace: models.NamespaceTVDB, Value: "42"}}}, nil),
		plex.EXPECT().Remove(gomock.Any(), movie("tt3")).Return(true, nil),
		simklB.EXPECT().RemoveBulk(gomock.Any(), models.KindMovie, []models.Item{movie("tt4")}).
			Return(provider.BulkResult{OK: []models.Key{{Namespace: models.NamespaceIMDB, Value: "tt4"}}}, nil),
	)

	plan := Plan{
		Adds: map[models.Side][]models.Item{
			models.SidePlex:  {movie("tt1")},
			models.SideSimkl: {show, movie("tt2")},
		},
		Removes: map[models.Side][]models.Item{
			models.SidePlex:  {movie("tt3")},
			models.SideSimkl: {movie("tt4")},
		},
	}
	out, err := NewEngine(zerolog.Nop()).Apply(context.Background(), plan, map[models.Side]provider.Provider{
		models.SidePlex:  plex,
		models.SideSimkl: bulkMock{simklP, simklB},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SideTally{Plex: 1, Simkl: 2}, out.Added)
	assert.Equal(t, models.SideTally{Plex: 1, Simkl: 1}, out.Removed)
}

func TestApply_NoChangeCountsAsFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	plex := provider.NewMockProvider(ctrl)
	plex.EXPECT().Capabilities().Return(provider.Capabilities{}).AnyTimes()
	plex.EXPECT().Add(gomock.Any(), gomock.Any()).Return(false, nil)

	plan := Plan{Adds: map[models.Side][]models.Item{models.SidePlex: {movie("tt1")}}}
	out, err := NewEngine(zerolog.Nop()).Apply(context.Background(), plan, map[models.Side]provider.Provider{models.SidePlex: plex}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failed)
	assert.Zero(t, out.Added.Plex)
}

func TestVerify(t *testing.T) {
	t.Run("eventually consistent", func(t *testing.T) {
		calls := 0
		res, a, _, err := Verify(context.Background(), 3, time.Millisecond, func(context.Context) (models.Index, models.Index, error) {
			calls++
			if calls < 2 {
				return index(movie("tt1")), models.Index{}, nil
			}
			return index(movie("tt1")), index(movie("tt1")), nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.ResultEqual, res)
		assert.Equal(t, 2, calls)
		assert.Len(t, a, 1)
	})

	t.Run("diverged after all attempts", func(t *testing.T) {
		calls := 0
		res, _, _, err := Verify(context.Background(), 2, 0, func(context.Context) (models.Index, models.Index, error) {
			calls++
			return index(movie("tt1")), index(movie("tt2")), nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.ResultDiverged, res)
		assert.Equal(t, 2, calls)
	})

	t.Run("read error", func(t *testing.T) {
		boom := errors.New("boom")
		res, _, _, err := Verify(context.Background(), 2, 0, func(context.Context) (models.Index, models.Index, error) {
			return nil, nil, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, models.ResultUnknown, res)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		res, _, _, err := Verify(ctx, 3, time.Hour, func(context.Context) (models.Index, models.Index, error) {
			cancel()
			return index(movie("tt1")), models.Index{}, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, models.ResultUnknown, res)
	})
}
