package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// WorkerEndpoints maps a worker name to its transport address.
type WorkerEndpoints map[domain.WorkerName]string

// LoadWorkerEndpoints reads the worker endpoint mapping from a YAML file:
//
//	classifier: http://classifier:8081/invoke
//	analyzer:   http://analyzer:8082/invoke
//
// Every worker slot known at compile time must be present; a worker the
// orchestrator cannot reach would otherwise fail only at dispatch time.
func LoadWorkerEndpoints(path string) (WorkerEndpoints, error) {
	if path == "" {
		return nil, fmt.Errorf("op=config.LoadWorkerEndpoints: no endpoints file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadWorkerEndpoints: %w", err)
	}
	return ParseWorkerEndpoints(data)
}

// ParseWorkerEndpoints parses the YAML mapping and checks completeness.
func ParseWorkerEndpoints(data []byte) (WorkerEndpoints, error) {
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("op=config.ParseWorkerEndpoints: %w", err)
	}
	eps := make(WorkerEndpoints, len(raw))
	for name, addr := range raw {
		eps[domain.WorkerName(name)] = addr
	}
	for _, w := range domain.WorkerSlots {
		if eps[w] == "" {
			return nil, fmt.Errorf("op=config.ParseWorkerEndpoints: missing endpoint for worker %q", w)
		}
	}
	return eps, nil
}
