package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"restbench/internal/report"
)

// HistoryItem is one completed benchmark pass.
type HistoryItem struct {
	ID              string                   `json:"id"`
	Timestamp       time.Time                `json:"timestamp"`
	Implementations []string                 `json:"implementations"`
	Scenarios       []string                 `json:"scenarios"`
	Results         []report.BenchmarkResult `json:"results"`
}

// Store keeps past runs in ~/.restbench/history.json so earlier rankings can
// be compared against later ones.
type Store struct {
	mu       sync.RWMutex
	filePath string
	items    []HistoryItem
}

const maxItems = 50

func NewStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(home, ".restbench")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	s := &Store{filePath: filepath.Join(dir, "history.json")}
	s.load()
	return s, nil
}

func (s *Store) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return // file might not exist yet
	}
	json.Unmarshal(data, &s.items)
}

func (s *Store) Save(item HistoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first
	s.items = append([]HistoryItem{item}, s.items...)
	if len(s.items) > maxItems {
		s.items = s.items[:maxItems]
	}

	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0644)
}

func (s *Store) List() []HistoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]HistoryItem, len(s.items))
	copy(res, s.items)
	return res
}

func (s *Store) Get(id string) *HistoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if item.ID == id {
			return &item
		}
	}
	return nil
}
