package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eamscan/internal/metrics"
	"eamscan/internal/store"
)

// FragmentWriter persists an arriving fragment.
type FragmentWriter interface {
	InsertFragment(ctx context.Context, f store.Fragment) error
}

// Submitter hands a persisted fragment to the evaluation pipeline.
type Submitter interface {
	Submit(frag store.Fragment) bool
}

// fragmentFile is the on-disk JSON shape dropped into the spool directory by
// the upstream transcriber.
type fragmentFile struct {
	ID          string `json:"id"`
	ChannelID   string `json:"channel_id"`
	StartTimeMs int64  `json:"start_time_ms"`
	DurationMs  int64  `json:"duration_ms"`
	Text        string `json:"text"`
}

// Watcher monitors the spool directory for new transcript fragment files,
// persists them, and submits them for evaluation.
type Watcher struct {
	dir    string
	writer FragmentWriter
	sink   Submitter
	stats  *metrics.Metrics
	log    zerolog.Logger
}

func New(dir string, writer FragmentWriter, sink Submitter, stats *metrics.Metrics, log zerolog.Logger) *Watcher {
	return &Watcher{dir: dir, writer: writer, sink: sink, stats: stats, log: log}
}

// Start begins watching the spool directory. The watch goroutine exits when
// the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-watcher.Events:
				if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && isFragmentFile(evt.Name) {
					w.ingest(ctx, evt.Name)
				}
			case err := <-watcher.Errors:
				w.log.Warn().Err(err).Msg("spool watcher error")
			}
		}
	}()
	return watcher.Add(w.dir)
}

// Backfill ingests fragment files already present in the spool directory,
// typically after a restart.
func (w *Watcher) Backfill(ctx context.Context) error {
	entries, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range entries {
		w.ingest(ctx, path)
	}
	return nil
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	frag, err := w.parse(path)
	if err != nil {
		w.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("skipping unreadable fragment file")
		return
	}
	if err := w.writer.InsertFragment(ctx, frag); err != nil {
		w.stats.IncStoreErrors()
		w.log.Error().Err(err).Str("fragment", frag.ID).Msg("persist fragment failed")
		return
	}
	w.stats.IncFragments()
	if !w.sink.Submit(frag) {
		w.log.Warn().Str("fragment", frag.ID).Str("channel", frag.ChannelID).Msg("fragment not submitted for evaluation")
	}
}

func (w *Watcher) parse(path string) (store.Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return store.Fragment{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var ff fragmentFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return store.Fragment{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if ff.ChannelID == "" {
		return store.Fragment{}, fmt.Errorf("%s: missing channel_id", filepath.Base(path))
	}
	if ff.ID == "" {
		ff.ID = uuid.NewString()
	}
	return store.Fragment{
		ID:          ff.ID,
		ChannelID:   ff.ChannelID,
		StartTimeMs: ff.StartTimeMs,
		DurationMs:  ff.DurationMs,
		RawText:     ff.Text,
	}, nil
}

func isFragmentFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
