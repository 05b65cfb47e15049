package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, "analysis-jobs", cfg.QueueTopic)
	assert.Equal(t, 3, cfg.QueueMaxReceive)
	assert.Equal(t, 300*time.Second, cfg.WorkerTimeout)
	assert.Equal(t, 900*time.Second, cfg.OrchestratorTimeout)
	assert.Equal(t, 5, cfg.StoreRetryMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.StoreRetryMaxElapsed)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORCHESTRATOR_TIMEOUT", "5s")
	t.Setenv("QUEUE_MAX_RECEIVES", "7")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.OrchestratorTimeout)
	assert.Equal(t, 7, cfg.QueueMaxReceive)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("QUEUE_MAX_RECEIVES", "0")
	_, err := Load()
	require.Error(t, err)
}

func TestStoreRetryBudgetInTest(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	cfg, err := Load()
	require.NoError(t, err)
	attempts, elapsed := cfg.StoreRetryBudget()
	assert.Equal(t, 2, attempts)
	assert.Less(t, elapsed, time.Second)
}

func TestParseWorkerEndpoints(t *testing.T) {
	t.Parallel()
	data := []byte(`
classifier: http://classifier:8081/invoke
analyzer: http://analyzer:8082/invoke
visualizer: http://visualizer:8083/invoke
projector: http://projector:8084/invoke
`)
	eps, err := ParseWorkerEndpoints(data)
	require.NoError(t, err)
	assert.Equal(t, "http://analyzer:8082/invoke", eps["analyzer"])
	assert.Len(t, eps, 4)
}

func TestParseWorkerEndpointsMissingWorker(t *testing.T) {
	t.Parallel()
	_, err := ParseWorkerEndpoints([]byte(`analyzer: http://analyzer:8082/invoke`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing endpoint")
}

func TestLoadWorkerEndpointsFromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "workers.yaml")
	content := []byte(`
classifier: http://c/invoke
analyzer: http://a/invoke
visualizer: http://v/invoke
projector: http://p/invoke
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	eps, err := LoadWorkerEndpoints(path)
	require.NoError(t, err)
	assert.Equal(t, "http://c/invoke", eps["classifier"])

	_, err = LoadWorkerEndpoints("")
	require.Error(t, err)
}
