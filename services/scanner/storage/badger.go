// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage persists scan verdicts to an embedded BadgerDB.
//
// The store is an audit trail, not a cache: verdicts are written
// after every completed scan and kept for a configurable retention
// window, queryable by scan ID.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/viralsafe/services/scanner/risk"
)

// ErrNotFound is returned when no verdict exists for a scan ID.
var ErrNotFound = errors.New("verdict not found")

const verdictKeyPrefix = "verdict/"

// Config holds configuration for the verdict store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Retention is how long verdicts are kept. Entries expire via
	// Badger TTL. Default: 30 days. Zero keeps verdicts forever.
	Retention time.Duration

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before
	// GC rewrites a value log file. Default: 0.5.
	GCDiscardRatio float64

	// Logger for store operations. If nil, BadgerDB's internal
	// logging is disabled and store logs go to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		Retention:      30 * 24 * time.Hour,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		Retention:  time.Hour,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// VerdictStore is a Badger-backed verdict sink.
//
// Thread Safety: safe for concurrent use.
type VerdictStore struct {
	db        *badger.DB
	retention time.Duration
	log       *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open creates and opens a verdict store.
//
// Inputs:
//   - cfg: store configuration. Path is required unless InMemory.
//
// Outputs:
//   - *VerdictStore: the opened store. Caller must Close it.
//   - error: non-nil when the database cannot be opened.
func Open(cfg Config) (*VerdictStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open verdict store: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &VerdictStore{
		db:        db,
		retention: cfg.Retention,
		log:       log,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

// Store persists one verdict keyed by its scan ID.
//
// Inputs:
//   - ctx: cancellation check before the write.
//   - v: the verdict. ScanID must be set.
//
// Outputs:
//   - error: non-nil when the write fails.
//
// Thread Safety: safe for concurrent use.
func (s *VerdictStore) Store(ctx context.Context, v risk.Verdict) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if v.ScanID == "" {
		return errors.New("verdict has no scan ID")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(verdictKeyPrefix+v.ScanID), data)
		if s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("store verdict %s: %w", v.ScanID, err)
	}
	return nil
}

// Get retrieves a verdict by scan ID.
//
// Outputs:
//   - risk.Verdict: the stored verdict.
//   - error: ErrNotFound when the ID is unknown or expired.
func (s *VerdictStore) Get(ctx context.Context, scanID string) (risk.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return risk.Verdict{}, fmt.Errorf("context cancelled: %w", err)
	}

	var v risk.Verdict
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(verdictKeyPrefix + scanID))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, &v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return risk.Verdict{}, fmt.Errorf("%w: %s", ErrNotFound, scanID)
	}
	if err != nil {
		return risk.Verdict{}, fmt.Errorf("get verdict %s: %w", scanID, err)
	}
	return v, nil
}

// Recent returns up to limit stored verdicts, unordered. Intended
// for operator tooling, not the request path.
func (s *VerdictStore) Recent(ctx context.Context, limit int) ([]risk.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}

	out := make([]risk.Verdict, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(verdictKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			err := it.Item().Value(func(data []byte) error {
				var v risk.Verdict
				if err := json.Unmarshal(data, &v); err != nil {
					// Skip undecodable entries rather than failing the listing.
					s.log.Warn("skipping corrupt verdict entry",
						"key", strings.TrimPrefix(string(it.Item().Key()), verdictKeyPrefix))
					return nil
				}
				out = append(out, v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	return out, nil
}

// Close stops GC and closes the database. Safe to call once.
func (s *VerdictStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

func (s *VerdictStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err == nil {
				s.log.Debug("verdict store value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Warn("verdict store GC error", slog.String("error", err.Error()))
			}
		}
	}
}
