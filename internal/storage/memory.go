package storage

import (
	"context"
	"errors"
	"sync"

	"moran/internal/model"
)

type MemoryStore struct {
	mu           sync.RWMutex
	initialized  bool
	runs         map[string]model.RunRecord
	populations  map[string][]model.Distribution
	scores       map[string][][]float64
	replacements map[string][]model.ReplacementRecord
	diagnostics  map[string][]model.GenerationDiagnostics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.reset()
	s.initialized = true
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	s.initialized = true
	return nil
}

func (s *MemoryStore) reset() {
	s.runs = make(map[string]model.RunRecord)
	s.populations = make(map[string][]model.Distribution)
	s.scores = make(map[string][][]float64)
	s.replacements = make(map[string][]model.ReplacementRecord)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
}

func (s *MemoryStore) checkInit() error {
	if !s.initialized {
		return errors.New("store is not initialized")
	}
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkInit(); err != nil {
		return err
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkInit(); err != nil {
		return model.RunRecord{}, false, err
	}
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkInit(); err != nil {
		return nil, err
	}
	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRunsNewestFirst(runs)
	return runs, nil
}

func (s *MemoryStore) SavePopulationHistory(_ context.Context, runID string, history []model.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkInit(); err != nil {
		return err
	}
	s.populations[runID] = copyDistributions(history)
	return nil
}

func (s *MemoryStore) GetPopulationHistory(_ context.Context, runID string) ([]model.Distribution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkInit(); err != nil {
		return nil, false, err
	}
	history, ok := s.populations[runID]
	if !ok {
		return nil, false, nil
	}
	return copyDistributions(history), true, nil
}

func (s *MemoryStore) SaveScoreHistory(_ context.Context, runID string, history [][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkInit(); err != nil {
		return err
	}
	s.scores[runID] = copyScores(history)
	return nil
}

func (s *MemoryStore) GetScoreHistory(_ context.Context, runID string) ([][]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkInit(); err != nil {
		return nil, false, err
	}
	history, ok := s.scores[runID]
	if !ok {
		return nil, false, nil
	}
	return copyScores(history), true, nil
}

func (s *MemoryStore) SaveReplacements(_ context.Context, runID string, records []model.ReplacementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkInit(); err != nil {
		return err
	}
	s.replacements[runID] = append([]model.ReplacementRecord(nil), records...)
	return nil
}

func (s *MemoryStore) GetReplacements(_ context.Context, runID string) ([]model.ReplacementRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkInit(); err != nil {
		return nil, false, err
	}
	records, ok := s.replacements[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.ReplacementRecord(nil), records...), true, nil
}

func (s *MemoryStore) SaveDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkInit(); err != nil {
		return err
	}
	s.diagnostics[runID] = append([]model.GenerationDiagnostics(nil), diagnostics...)
	return nil
}

func (s *MemoryStore) GetDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkInit(); err != nil {
		return nil, false, err
	}
	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.GenerationDiagnostics(nil), diagnostics...), true, nil
}

func copyDistributions(history []model.Distribution) []model.Distribution {
	copied := make([]model.Distribution, len(history))
	for i, dist := range history {
		copied[i] = dist.Clone()
	}
	return copied
}

func copyScores(history [][]float64) [][]float64 {
	copied := make([][]float64, len(history))
	for i, scores := range history {
		copied[i] = append([]float64(nil), scores...)
	}
	return copied
}
