package aml

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"
)

// DefaultRefreshInterval is how often the refresher polls the list source.
const DefaultRefreshInterval = 5 * time.Minute

// Refresher polls a ListSource and rebuilds the screening engine when the
// lists change. The swap callback receives a freshly built engine; a source
// that fails to load keeps the previous lists in service.
type Refresher struct {
	source   *FileListSource
	swap     func(*Engine)
	interval time.Duration
	logger   *slog.Logger

	// Fingerprint of the last applied lists; unchanged files are skipped.
	lastFingerprint uint64

	stop chan struct{}
	done chan struct{}
}

// NewRefresher creates a refresher that calls swap with a rebuilt engine
// whenever the source file changes. interval <= 0 uses the default.
func NewRefresher(source *FileListSource, swap func(*Engine), interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		source:   source,
		swap:     swap,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start loads the lists once, then begins polling in the background.
// The initial load failing is an error; later failures only log.
func (r *Refresher) Start(ctx context.Context) error {
	if err := r.refresh(); err != nil {
		return err
	}

	r.logger.Info("screening list refresher started",
		"path", r.source.Path,
		"interval", r.interval.String(),
	)

	go r.pollLoop(ctx)
	return nil
}

// Stop stops the refresher and waits for the poll loop to exit.
func (r *Refresher) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Refresher) pollLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.refresh(); err != nil {
				r.logger.Error("screening list refresh failed, keeping previous lists", "error", err)
			}
		}
	}
}

func (r *Refresher) refresh() error {
	src, err := r.source.Load()
	if err != nil {
		return err
	}

	fp := fingerprint(src)
	if fp == r.lastFingerprint {
		return nil
	}

	r.swap(New(src))
	r.lastFingerprint = fp

	r.logger.Info("screening lists applied",
		"sanctions_entries", len(src.Sanctions),
		"pep_entries", len(src.PEPs),
	)
	return nil
}

// fingerprint hashes the list contents so unchanged files never trigger an
// engine swap.
func fingerprint(src *StaticListSource) uint64 {
	h := fnv.New64a()
	for _, s := range src.Sanctions {
		h.Write([]byte(s.Name))
		h.Write([]byte(s.List))
		h.Write([]byte{0})
	}
	for _, p := range src.PEPs {
		h.Write([]byte(p.Name))
		h.Write([]byte(p.Level))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
