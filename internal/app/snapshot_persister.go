package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"polycopy/clients/gist"
	"polycopy/internal/storage"

	"go.uber.org/zap"
)

const defaultSnapshotFileName = "active_sessions.json"

// snapshotSource yields the live view of running sessions.
type snapshotSource interface {
	Snapshots() []storage.SessionSnapshot
}

// snapshotLister is implemented by stores that can enumerate snapshots.
type snapshotLister interface {
	SessionIDs(ctx context.Context) ([]string, error)
}

// SessionsFile is the gist mirror of running sessions.
type SessionsFile struct {
	UpdatedAt time.Time                 `json:"updated_at"`
	Sessions  []storage.SessionSnapshot `json:"sessions"`
}

// SnapshotPersister periodically writes session snapshots to the snapshot
// store and, when configured, mirrors them to a gist.
type SnapshotPersister struct {
	logger   *zap.Logger
	source   snapshotSource
	store    storage.SnapshotStore
	history  storage.SessionStore
	gist     gist.Storage
	fileName string

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}
	lastSave time.Time
	saved    int
}

// NewSnapshotPersister creates a persister. gistStore may be nil.
func NewSnapshotPersister(
	logger *zap.Logger,
	source snapshotSource,
	store storage.SnapshotStore,
	history storage.SessionStore,
	gistStore gist.Storage,
	interval time.Duration,
) *SnapshotPersister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SnapshotPersister{
		logger:   logger.Named("snapshots"),
		source:   source,
		store:    store,
		history:  history,
		gist:     gistStore,
		fileName: defaultSnapshotFileName,
		interval: interval,
		reset:    make(chan struct{}, 1),
	}
}

// SetInterval changes the save interval of a running persister.
func (p *SnapshotPersister) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	changed := p.interval != d
	p.interval = d
	p.mu.Unlock()
	if changed {
		select {
		case p.reset <- struct{}{}:
		default:
		}
	}
}

func (p *SnapshotPersister) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// LastSave returns when snapshots were last written and how many.
func (p *SnapshotPersister) LastSave() (time.Time, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSave, p.saved
}

// RecoverOrphans records snapshots left behind by a previous process as
// interrupted sessions and removes them. It returns the number recovered.
func (p *SnapshotPersister) RecoverOrphans(ctx context.Context) (int, error) {
	lister, ok := p.store.(snapshotLister)
	if !ok {
		return 0, nil
	}
	ids, err := lister.SessionIDs(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		snap, err := p.store.Get(ctx, id)
		if err != nil {
			p.logger.Warn("failed to read orphaned snapshot", zap.String("session", id), zap.Error(err))
			continue
		}
		if p.history != nil {
			rec := orphanRecord(snap)
			if err := p.history.Insert(ctx, rec); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
				p.logger.Warn("failed to record orphaned session", zap.String("session", id), zap.Error(err))
				continue
			}
		}
		if err := p.store.Delete(ctx, id); err != nil {
			p.logger.Warn("failed to delete orphaned snapshot", zap.String("session", id), zap.Error(err))
			continue
		}
		recovered++
	}

	if recovered > 0 {
		p.logger.Info("recovered interrupted sessions", zap.Int("count", recovered))
	}
	return recovered, nil
}

const reasonInterrupted = "interrupted"

func orphanRecord(s *storage.SessionSnapshot) *storage.SessionRecord {
	ended := s.UpdatedAt
	if ended.IsZero() {
		ended = s.StartedAt
	}
	return &storage.SessionRecord{
		ID:             s.SessionID,
		UserID:         s.UserID,
		TraderAddress:  s.TraderAddress,
		StartedAt:      s.StartedAt,
		EndedAt:        ended,
		ExitReason:     reasonInterrupted,
		TotalFound:     s.TotalFound,
		MarketsTracked: s.MarketsTracked,
		Executed:       s.Executed,
		Closed:         s.Closed,
	}
}

// Save writes one snapshot per running session.
func (p *SnapshotPersister) Save(ctx context.Context) error {
	snaps := p.source.Snapshots()

	var firstErr error
	if p.store != nil {
		for i := range snaps {
			if err := p.store.Save(ctx, &snaps[i]); err != nil {
				p.logger.Warn("failed to save snapshot",
					zap.String("session", snaps[i].SessionID),
					zap.Error(err),
				)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if p.gist != nil && p.gist.IsEnabled() && p.gist.GetGistID() != "" {
		file := SessionsFile{UpdatedAt: time.Now().UTC(), Sessions: snaps}
		if err := p.gist.SaveJSON(ctx, p.fileName, file); err != nil {
			p.logger.Warn("failed to mirror sessions to gist", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	p.mu.Lock()
	p.lastSave = time.Now()
	p.saved = len(snaps)
	p.mu.Unlock()

	if len(snaps) > 0 {
		p.logger.Debug("saved session snapshots", zap.Int("sessions", len(snaps)))
	}
	return firstErr
}

// Run saves snapshots every interval until ctx is done, then saves once
// more.
func (p *SnapshotPersister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	p.logger.Info("snapshot persister started", zap.Duration("interval", p.Interval()))

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.Save(saveCtx); err != nil {
				p.logger.Error("failed to save snapshots on shutdown", zap.Error(err))
			}
			cancel()
			p.logger.Info("snapshot persister stopped")
			return
		case <-p.reset:
			ticker.Reset(p.Interval())
		case <-ticker.C:
			_ = p.Save(ctx)
		}
	}
}
