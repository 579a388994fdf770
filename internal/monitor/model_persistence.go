package monitor

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

type modelPersistenceData struct {
	LastPort string `json:"last_port"`
}

// ModelPersistence remembers UI preferences between runs. It never stores
// training data.
type ModelPersistence struct {
	filePath string
	data     modelPersistenceData
	mu       sync.Mutex
	logger   *log.Logger
}

// DefaultStatePath is ~/.grapple-monitor/ui_state.json
func DefaultStatePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".grapple-monitor", "ui_state.json")
}

// NewModelPersistence loads filePath, or DefaultStatePath when empty.
func NewModelPersistence(logger *log.Logger, filePath string) *ModelPersistence {
	if logger == nil {
		panic("ModelPersistence: logger cannot be nil")
	}
	if filePath == "" {
		filePath = DefaultStatePath()
	}
	p := &ModelPersistence{
		filePath: filePath,
		logger:   logger,
	}
	p.load()
	return p
}

func (p *ModelPersistence) LastPort() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Printf("ModelPersistence: LastPort -> %q", p.data.LastPort)
	return p.data.LastPort
}

func (p *ModelPersistence) SetLastPort(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data.LastPort == name {
		return
	}
	p.logger.Printf("ModelPersistence: SetLastPort -> %q", name)
	p.data.LastPort = name
	p.save()
}

func (p *ModelPersistence) load() {
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("ModelPersistence: load %s (no existing file)", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("ModelPersistence: load %s failed to parse: %v", p.filePath, err)
		p.data = modelPersistenceData{}
		return
	}
	p.logger.Printf("ModelPersistence: load %s -> %+v", p.filePath, p.data)
}

// save must be called with mu held
func (p *ModelPersistence) save() {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0755); err != nil {
		p.logger.Printf("ModelPersistence: save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("ModelPersistence: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0644); err != nil {
		p.logger.Printf("ModelPersistence: save %s failed: %v", p.filePath, err)
		return
	}
	p.logger.Printf("ModelPersistence: save %s -> %+v", p.filePath, p.data)
}
