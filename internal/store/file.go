package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Deployments []*Deployment `yaml:"deployments"`
}

// FileStore keeps deployments in a single YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Save creates or replaces the deployment for d.Chain.
func (s *FileStore) Save(_ context.Context, d *Deployment) error {
	if err := d.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range doc.Deployments {
		if existing.Chain == d.Chain {
			doc.Deployments[i] = d
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Deployments = append(doc.Deployments, d)
	}
	sort.Slice(doc.Deployments, func(i, j int) bool {
		return doc.Deployments[i].Chain < doc.Deployments[j].Chain
	})

	return s.write(doc)
}

// Get returns the deployment for a chain.
func (s *FileStore) Get(_ context.Context, chain string) (*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, d := range doc.Deployments {
		if d.Chain == chain {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", chain, ErrNotFound)
}

// List returns all deployments.
func (s *FileStore) List(_ context.Context) ([]*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Deployments, nil
}

func (s *FileStore) read() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileDocument{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read deployments: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return &doc, nil
}

// write replaces the file atomically via a temp file in the same directory.
func (s *FileStore) write(doc *fileDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal deployments: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".deployments-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
