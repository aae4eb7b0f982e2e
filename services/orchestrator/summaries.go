package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"watchsync/internal/fsutil"
	"watchsync/models"
)

const archiveSuffix = ".zst"

var (
	ErrSummaryNotFound = errors.New("summary not found")
	ErrInvalidName     = errors.New("invalid summary name")

	summaryName = regexp.MustCompile(`^sync-\d{8}-\d{6}(-\d+)?\.json(\.zst)?$`)
)

// SummaryInfo describes one stored summary file.
type SummaryInfo struct {
	Name     string    `json:"name"`
	Archived bool      `json:"archived"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// SummaryStore keeps one JSON file per finished run. Files beyond keep are
// compressed with zstd.
type SummaryStore struct {
	fs   afero.Fs
	dir  string
	keep int
	log  zerolog.Logger

	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewSummaryStore stores summaries under dir.
func NewSummaryStore(fs afero.Fs, dir string, keep int, log zerolog.Logger) (*SummaryStore, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	if keep < 1 {
		keep = 1
	}
	return &SummaryStore{fs: fs, dir: dir, keep: keep, log: log, encoder: encoder, decoder: decoder}, nil
}

// FileName returns the file name used for a run started at t.
func FileName(t time.Time) string {
	return "sync-" + t.UTC().Format("20060102-150405") + ".json"
}

// Save writes the summary and archives older ones. It returns the file name.
func (s *SummaryStore) Save(summary models.RunSummary) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}

	name := FileName(summary.StartedAt)
	for i := 2; ; i++ {
		exists, err := afero.Exists(s.fs, path.Join(s.dir, name))
		if err != nil {
			return "", err
		}
		archived, _ := afero.Exists(s.fs, path.Join(s.dir, name+archiveSuffix))
		if !exists && !archived {
			break
		}
		name = strings.TrimSuffix(FileName(summary.StartedAt), ".json") + fmt.Sprintf("-%d.json", i)
	}

	if err := fsutil.WriteFileAtomic(s.fs, path.Join(s.dir, name), data); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	if err := s.archive(); err != nil {
		s.log.Warn().Err(err).Msg("failed to archive old summaries")
	}
	return name, nil
}

// archive compresses plain summaries beyond the newest keep.
func (s *SummaryStore) archive() error {
	plain, err := s.list(false)
	if err != nil {
		return err
	}
	if len(plain) <= s.keep {
		return nil
	}
	for _, info := range plain[s.keep:] {
		src := path.Join(s.dir, info.Name)
		raw, err := afero.ReadFile(s.fs, src)
		if err != nil {
			return err
		}
		packed := s.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
		if err := fsutil.WriteFileAtomic(s.fs, src+archiveSuffix, packed); err != nil {
			return err
		}
		if err := s.fs.Remove(src); err != nil {
			return err
		}
		s.log.Debug().Str("name", info.Name).Msg("summary archived")
	}
	return nil
}

// List returns stored summaries, newest first.
func (s *SummaryStore) List() ([]SummaryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(true)
}

func (s *SummaryStore) list(withArchived bool) ([]SummaryInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []SummaryInfo
	for _, e := range entries {
		if e.IsDir() || !summaryName.MatchString(e.Name()) {
			continue
		}
		archived := strings.HasSuffix(e.Name(), archiveSuffix)
		if archived && !withArchived {
			continue
		}
		out = append(out, SummaryInfo{Name: e.Name(), Archived: archived, Size: e.Size(), Modified: e.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return sortKey(out[i].Name) > sortKey(out[j].Name) })
	return out, nil
}

// sortKey orders same-second duplicates after the first file of that second.
func sortKey(name string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(name, archiveSuffix), ".json")
	if strings.Count(base, "-") == 2 {
		base += "-1"
	}
	return base
}

// Get loads a summary by file name. The plain name also finds its archived copy.
func (s *SummaryStore) Get(name string) (models.RunSummary, error) {
	if !summaryName.MatchString(name) {
		return models.RunSummary{}, ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := []string{name}
	if !strings.HasSuffix(name, archiveSuffix) {
		candidates = append(candidates, name+archiveSuffix)
	}
	for _, n := range candidates {
		raw, err := fsutil.ReadFileIfExists(s.fs, path.Join(s.dir, n))
		if err != nil {
			return models.RunSummary{}, err
		}
		if raw == nil {
			continue
		}
		if strings.HasSuffix(n, archiveSuffix) {
			if raw, err = s.decoder.DecodeAll(raw, nil); err != nil {
				return models.RunSummary{}, fmt.Errorf("decompress %s: %w", n, err)
			}
		}
		var summary models.RunSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			return models.RunSummary{}, fmt.Errorf("decode %s: %w", n, err)
		}
		return summary, nil
	}
	return models.RunSummary{}, ErrSummaryNotFound
}

// Latest returns the most recent summary, if any.
func (s *SummaryStore) Latest() (models.RunSummary, bool) {
	infos, err := s.List()
	if err != nil || len(infos) == 0 {
		return models.RunSummary{}, false
	}
	summary, err := s.Get(infos[0].Name)
	if err != nil {
		s.log.Warn().Err(err).Str("name", infos[0].Name).Msg("failed to read latest summary")
		return models.RunSummary{}, false
	}
	return summary, true
}
