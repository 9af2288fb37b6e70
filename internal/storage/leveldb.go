package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"moran/internal/model"
)

const (
	prefixRun               = "run/"
	prefixPopulationHistory = "populations/"
	prefixScoreHistory      = "scores/"
	prefixReplacements      = "replacements/"
	prefixDiagnostics       = "diagnostics/"
)

// LevelDBStore keeps JSON payloads in a LevelDB directory, one key per run
// and history kind.
type LevelDBStore struct {
	path string

	mu sync.RWMutex
	db *leveldb.DB
}

func NewLevelDBStore(path string) *LevelDBStore {
	return &LevelDBStore{path: path}
}

func (s *LevelDBStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("leveldb path is required")
	}
	if s.db != nil {
		return nil
	}
	db, err := leveldb.OpenFile(s.path, nil)
	if err != nil {
		return fmt.Errorf("open leveldb: %w", err)
	}
	s.db = db
	return nil
}

func (s *LevelDBStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.put(ctx, prefixRun+run.ID, payload)
}

func (s *LevelDBStore) GetRun(ctx context.Context, id string) (model.RunRecord, bool, error) {
	payload, ok, err := s.get(ctx, prefixRun+id)
	if err != nil || !ok {
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *LevelDBStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	iter := db.NewIterator(util.BytesPrefix([]byte(prefixRun)), nil)
	defer iter.Release()

	var runs []model.RunRecord
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run, err := DecodeRun(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", iter.Key(), err)
		}
		runs = append(runs, run)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sortRunsNewestFirst(runs)
	return runs, nil
}

func (s *LevelDBStore) SavePopulationHistory(ctx context.Context, runID string, history []model.Distribution) error {
	payload, err := EncodePopulationHistory(history)
	if err != nil {
		return err
	}
	return s.put(ctx, prefixPopulationHistory+runID, payload)
}

func (s *LevelDBStore) GetPopulationHistory(ctx context.Context, runID string) ([]model.Distribution, bool, error) {
	payload, ok, err := s.get(ctx, prefixPopulationHistory+runID)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodePopulationHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode population history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *LevelDBStore) SaveScoreHistory(ctx context.Context, runID string, history [][]float64) error {
	payload, err := EncodeScoreHistory(history)
	if err != nil {
		return err
	}
	return s.put(ctx, prefixScoreHistory+runID, payload)
}

func (s *LevelDBStore) GetScoreHistory(ctx context.Context, runID string) ([][]float64, bool, error) {
	payload, ok, err := s.get(ctx, prefixScoreHistory+runID)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodeScoreHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode score history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *LevelDBStore) SaveReplacements(ctx context.Context, runID string, records []model.ReplacementRecord) error {
	payload, err := EncodeReplacements(records)
	if err != nil {
		return err
	}
	return s.put(ctx, prefixReplacements+runID, payload)
}

func (s *LevelDBStore) GetReplacements(ctx context.Context, runID string) ([]model.ReplacementRecord, bool, error) {
	payload, ok, err := s.get(ctx, prefixReplacements+runID)
	if err != nil || !ok {
		return nil, false, err
	}
	records, err := DecodeReplacements(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode replacements %s: %w", runID, err)
	}
	return records, true, nil
}

func (s *LevelDBStore) SaveDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	payload, err := EncodeDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.put(ctx, prefixDiagnostics+runID, payload)
}

func (s *LevelDBStore) GetDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	payload, ok, err := s.get(ctx, prefixDiagnostics+runID)
	if err != nil || !ok {
		return nil, false, err
	}
	diagnostics, err := DecodeDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

// Reset deletes every key in one batch.
func (s *LevelDBStore) Reset(_ context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	iter := db.NewIterator(nil, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return db.Write(batch, nil)
}

func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *LevelDBStore) getDB() (*leveldb.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func (s *LevelDBStore) put(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Put([]byte(key), payload, nil)
}

func (s *LevelDBStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	payload, err := db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}
