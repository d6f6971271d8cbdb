// Package agents implements the prediction and resolution agents and their
// run bookkeeping.
package agents

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Action is one remediation step in a playbook.
type Action struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Playbook is the bounded set of automated remediation actions for one
// incident category.
type Playbook struct {
	Category string   `yaml:"category"`
	Actions  []Action `yaml:"actions"`
}

// Validate checks a playbook for errors.
func (p *Playbook) Validate() error {
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("playbook category is required")
	}
	if len(p.Actions) == 0 {
		return fmt.Errorf("playbook %q has no actions", p.Category)
	}
	for i, a := range p.Actions {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("playbook %q action %d has no name", p.Category, i)
		}
	}
	return nil
}

// playbookFile is the YAML document shape.
type playbookFile struct {
	Playbooks []*Playbook `yaml:"playbooks"`
}

// LoadPlaybooks loads playbooks from a reader.
func LoadPlaybooks(r io.Reader) ([]*Playbook, error) {
	var file playbookFile
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse playbook YAML: %w", err)
	}
	for i, p := range file.Playbooks {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid playbook at index %d: %w", i, err)
		}
	}
	return file.Playbooks, nil
}

// LoadPlaybooksFromFile loads playbooks from a YAML file.
func LoadPlaybooksFromFile(path string) ([]*Playbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open playbook file: %w", err)
	}
	defer f.Close()
	return LoadPlaybooks(f)
}

// PlaybookSet holds the current playbooks by category and supports hot reload.
type PlaybookSet struct {
	mu    sync.RWMutex
	byCat map[string]*Playbook
}

// NewPlaybookSet creates an empty set.
func NewPlaybookSet() *PlaybookSet {
	return &PlaybookSet{byCat: make(map[string]*Playbook)}
}

// Replace swaps in a new set of playbooks.
func (s *PlaybookSet) Replace(playbooks []*Playbook) {
	byCat := make(map[string]*Playbook, len(playbooks))
	for _, p := range playbooks {
		byCat[p.Category] = p
	}
	s.mu.Lock()
	s.byCat = byCat
	s.mu.Unlock()
}

// ForCategory returns the playbook for a category, or nil.
func (s *PlaybookSet) ForCategory(category string) *Playbook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byCat[category]
}

// Categories returns all known categories.
func (s *PlaybookSet) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cats := make([]string, 0, len(s.byCat))
	for c := range s.byCat {
		cats = append(cats, c)
	}
	return cats
}

// LoadDir loads every *.yaml/*.yml file in dir into the set.
func (s *PlaybookSet) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read playbook dir: %w", err)
	}

	var all []*Playbook
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		playbooks, err := LoadPlaybooksFromFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("load %s: %w", e.Name(), err)
		}
		all = append(all, playbooks...)
	}
	s.Replace(all)
	return nil
}

// Watch reloads the set whenever a playbook file changes. A failed reload
// keeps the previous playbooks and logs the error; it never tears down the
// watcher. Watch blocks until the stop channel closes.
func (s *PlaybookSet) Watch(dir string, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.LoadDir(dir); err != nil {
				log.Printf("playbook reload error: %v", err)
				continue
			}
			log.Printf("playbooks reloaded (%d categories)", len(s.Categories()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("playbook watcher error: %v", err)
		}
	}
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
