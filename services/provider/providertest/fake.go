// Package providertest provides an in-memory provider for tests.
package providertest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"watchsync/models"
	"watchsync/services/identity"
	"watchsync/services/provider"
)

// Fake is an in-memory watchlist implementing provider.Provider and
// provider.BulkWriter. Bulk calls are only used when Caps.BulkWrite is set.
type Fake struct {
	mu    sync.Mutex
	side  models.Side
	items map[models.Key]models.Item
	calls []string

	Caps provider.Capabilities
	// WriteErr fails every write when set, e.g. a RecoverableError for an offline provider.
	WriteErr error
	// ItemErr fails writes of specific keys.
	ItemErr map[models.Key]error
	// ListErr fails List when set.
	ListErr error
	// OnList runs at the start of every List; a non-nil error fails the call.
	OnList func(ctx context.Context) error
	// ConfigErr is returned by Validate when set.
	ConfigErr error
	// OnWrite runs after every successful write.
	OnWrite func()
	// Sticky keeps removed items visible to List, simulating a lagging read.
	Sticky bool
}

// New returns a fake for side holding items.
func New(side models.Side, items ...models.Item) *Fake {
	f := &Fake{
		side:  side,
		items: make(map[models.Key]models.Item),
		Caps: provider.Capabilities{
			SupportsDryRun: true, SupportsCancel: true, SupportsTimeout: true, Bidirectional: true,
		},
		ItemErr: make(map[models.Key]error),
	}
	for _, it := range items {
		if k, ok := it.Key(); ok {
			f.items[k] = it
		}
	}
	return f
}

// Movie builds a movie item with one id.
func Movie(ns models.Namespace, value, title string) models.Item {
	it := models.Item{Kind: models.KindMovie, Title: title}
	it.IDs.Set(ns, value)
	return it
}

// Show builds a show item with one id.
func Show(ns models.Namespace, value, title string) models.Item {
	it := models.Item{Kind: models.KindShow, Title: title}
	it.IDs.Set(ns, value)
	return it
}

// Keys returns the serialized keys currently held.
func (f *Fake) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]models.Key, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	models.SortKeys(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// Calls returns the write calls made so far, e.g. "add imdb:tt1" or "bulk-remove show 2".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) Name() models.Side                   { return f.side }
func (f *Fake) Capabilities() provider.Capabilities { return f.Caps }
func (f *Fake) Validate() error                     { return f.ConfigErr }

func (f *Fake) AuthProbe(context.Context) (bool, error) {
	return f.ConfigErr == nil, nil
}

// List renders the held items as raw provider payloads.
func (f *Fake) List(ctx context.Context, progress provider.ProgressFunc) ([]identity.RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.OnList != nil {
		if err := f.OnList(ctx); err != nil {
			return nil, err
		}
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]identity.RawItem, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, f.raw(it))
	}
	if progress != nil {
		progress(len(out), len(out))
	}
	return out, nil
}

func (f *Fake) raw(it models.Item) identity.RawItem {
	year := ""
	if it.Year > 0 {
		year = strconv.Itoa(it.Year)
	}
	if f.side == models.SidePlex {
		var guids []string
		for _, ns := range []models.Namespace{models.NamespaceIMDB, models.NamespaceTMDB, models.NamespaceTVDB} {
			if v := it.IDs.Get(ns); v != "" {
				guids = append(guids, string(ns)+"://"+v)
			}
		}
		return identity.PlexRaw{Type: string(it.Kind), Title: it.Title, Year: year, AddedAt: it.AddedAt, GUIDs: guids}
	}
	ids := map[string]string{}
	for _, ns := range models.KeyPrecedence {
		if v := it.IDs.Get(ns); v != "" {
			ids[string(ns)] = v
		}
	}
	return identity.SimklRaw{Kind: string(it.Kind), Title: it.Title, Year: year, AddedAt: it.AddedAt, IDs: ids}
}

func (f *Fake) write(ctx context.Context, action string, it models.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, ok := it.Key()
	if !ok {
		return fmt.Errorf("item %s has no key", it.Label())
	}
	f.mu.Lock()
	f.calls = append(f.calls, action+" "+key.String())
	if f.WriteErr != nil {
		f.mu.Unlock()
		return f.WriteErr
	}
	if err := f.ItemErr[key]; err != nil {
		f.mu.Unlock()
		return &provider.ItemError{Key: key, Op: action, Err: err}
	}
	if action == "add" {
		f.items[key] = it
	} else if !f.Sticky {
		delete(f.items, key)
	}
	hook := f.OnWrite
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (f *Fake) Add(ctx context.Context, it models.Item) (bool, error) {
	if err := f.write(ctx, "add", it); err != nil {
		return false, err
	}
	return true, nil
}

func (f *Fake) Remove(ctx context.Context, it models.Item) (bool, error) {
	if err := f.write(ctx, "remove", it); err != nil {
		return false, err
	}
	return true, nil
}

func (f *Fake) bulk(ctx context.Context, action string, kind models.Kind, items []models.Item) (provider.BulkResult, error) {
	res := provider.BulkResult{Failed: make(map[models.Key]error)}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("bulk-%s %s %d", action, kind, len(items)))
	writeErr := f.WriteErr
	f.mu.Unlock()
	if writeErr != nil {
		return res, writeErr
	}

	for _, it := range items {
		key, _ := it.Key()
		f.mu.Lock()
		itemErr := f.ItemErr[key]
		if itemErr == nil {
			if action == "add" {
				f.items[key] = it
			} else if !f.Sticky {
				delete(f.items, key)
			}
		}
		f.mu.Unlock()
		if itemErr != nil {
			res.Failed[key] = itemErr
			continue
		}
		res.OK = append(res.OK, key)
	}
	return res, nil
}

func (f *Fake) AddBulk(ctx context.Context, kind models.Kind, items []models.Item) (provider.BulkResult, error) {
	return f.bulk(ctx, "add", kind, items)
}

func (f *Fake) RemoveBulk(ctx context.Context, kind models.Kind, items []models.Item) (provider.BulkResult, error) {
	return f.bulk(ctx, "remove", kind, items)
}
