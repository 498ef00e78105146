// Package monitor periodically snapshots tracker runtime status into a
// status file for operators to tail.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Source produces one named status snapshot. Sources must be safe to
// call from the monitor goroutine.
type Source func() any

// Dependencies holds all dependencies for the monitor service.
type Dependencies struct {
	Logger    *slog.Logger
	StatusDir string
	Interval  time.Duration
}

// Service manages status monitoring.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	sources   map[string]Source
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
		sources:  make(map[string]Source),
	}
}

// AddSource registers a named snapshot provider.
func (s *Service) AddSource(name string, src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = src
}

// IsRunning returns whether the status monitor is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot renders every source as an indented JSON block, one per
// source, in stable name order.
func (s *Service) Snapshot() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	srcs := make(map[string]Source, len(s.sources))
	for name, src := range s.sources {
		srcs[name] = src
	}
	s.mu.RUnlock()

	sort.Strings(names)

	var output []string
	for _, name := range names {
		body, err := json.MarshalIndent(srcs[name](), "", "  ")
		if err != nil {
			body = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, name+": "+string(body))
	}
	return output
}

// Start starts the status monitor goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine")

		statusPath := filepath.Join(s.deps.StatusDir, "status.txt")
		statusFile, err := os.Create(statusPath)
		if err != nil {
			logger.Error("Error creating status file", "path", statusPath, "error", err)
		}
		defer func() {
			if statusFile != nil {
				statusFile.Close()
			}
		}()

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
			}

			lines := s.Snapshot()
			if statusFile == nil {
				continue
			}
			statusFile.Truncate(0)
			statusFile.Seek(0, 0)
			statusFile.WriteString(time.Now().UTC().Format(time.RFC3339) + "\n")
			for _, line := range lines {
				statusFile.WriteString(line + "\n")
			}
		}
	}()

	return nil
}

// Stop stops the status monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
		s.isRunning = false
	}
}
