// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Cluster connection
	Cluster ClusterConfig `yaml:"cluster"`

	// Benchmark index layout
	Index IndexConfig `yaml:"index"`

	// Deployed model references
	Models ModelsConfig `yaml:"models"`

	// Retrieval strategy tuning
	Strategy StrategyConfig `yaml:"strategy"`

	// Ingestion settings
	Ingest IngestConfig `yaml:"ingest"`

	// Benchmark run settings
	Bench BenchConfig `yaml:"bench"`

	// Dataset location
	Dataset DatasetConfig `yaml:"dataset"`

	// Provisioning settings
	Setup SetupConfig `yaml:"setup"`

	// Event bus configuration
	Bus BusConfig `yaml:"bus"`

	// Metric history configuration
	History HistoryConfig `yaml:"history"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// ClusterConfig holds search cluster connection settings.
type ClusterConfig struct {
	Endpoint           string        `envconfig:"OPENSEARCH_URL" yaml:"endpoint"`
	Username           string        `envconfig:"OPENSEARCH_USERNAME" yaml:"username"`
	Password           string        `envconfig:"OPENSEARCH_PASSWORD" yaml:"password"`
	InsecureSkipVerify bool          `envconfig:"OPENSEARCH_INSECURE" yaml:"insecure_skip_verify"`
	Timeout            time.Duration `envconfig:"RICE_BENCH_TIMEOUT" yaml:"timeout"`
	BulkTimeout        time.Duration `envconfig:"RICE_BENCH_BULK_TIMEOUT" yaml:"bulk_timeout"`
}

// IndexConfig describes the benchmark index mapping.
type IndexConfig struct {
	Name        string `envconfig:"RICE_BENCH_INDEX" yaml:"name"`
	TextField   string `envconfig:"RICE_BENCH_TEXT_FIELD" yaml:"text_field"`
	DenseField  string `envconfig:"RICE_BENCH_DENSE_FIELD" yaml:"dense_field"`
	SparseField string `envconfig:"RICE_BENCH_SPARSE_FIELD" yaml:"sparse_field"`
	Dimension   int    `envconfig:"RICE_BENCH_DIMENSION" yaml:"dimension"`
	Shards      int    `envconfig:"RICE_BENCH_SHARDS" yaml:"shards"`
	Replicas    int    `envconfig:"RICE_BENCH_REPLICAS" yaml:"replicas"`
	EfSearch    int    `envconfig:"RICE_BENCH_EF_SEARCH" yaml:"ef_search"`
	SpaceType   string `envconfig:"RICE_BENCH_SPACE_TYPE" yaml:"space_type"`
	Engine      string `envconfig:"RICE_BENCH_KNN_ENGINE" yaml:"engine"`
	Analyzer    string `envconfig:"RICE_BENCH_ANALYZER" yaml:"analyzer"`
}

// ModelsConfig holds IDs of models registered on the cluster.
type ModelsConfig struct {
	DenseModelID  string `envconfig:"RICE_BENCH_DENSE_MODEL_ID" yaml:"dense_model_id"`
	SparseModelID string `envconfig:"RICE_BENCH_SPARSE_MODEL_ID" yaml:"sparse_model_id"`
}

// StrategyConfig holds retrieval strategy parameters.
type StrategyConfig struct {
	Names          []string  `envconfig:"RICE_BENCH_STRATEGIES" yaml:"names"`
	MaxTokenScore  float64   `envconfig:"RICE_BENCH_MAX_TOKEN_SCORE" yaml:"max_token_score"`
	HybridDenseK   int       `envconfig:"RICE_BENCH_HYBRID_DENSE_K" yaml:"hybrid_dense_k"`
	SearchPipeline string    `envconfig:"RICE_BENCH_SEARCH_PIPELINE" yaml:"search_pipeline"`
	Normalization  string    `envconfig:"RICE_BENCH_NORMALIZATION" yaml:"normalization"`
	Combination    string    `envconfig:"RICE_BENCH_COMBINATION" yaml:"combination"`
	Weights        []float64 `envconfig:"RICE_BENCH_WEIGHTS" yaml:"weights"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	BatchSize   int           `envconfig:"RICE_BENCH_BATCH_SIZE" yaml:"batch_size"`
	MaxAttempts int           `envconfig:"RICE_BENCH_MAX_ATTEMPTS" yaml:"max_attempts"`
	Backoff     time.Duration `envconfig:"RICE_BENCH_BACKOFF" yaml:"backoff"`
	Pipeline    string        `envconfig:"RICE_BENCH_INGEST_PIPELINE" yaml:"pipeline"`
}

// BenchConfig holds benchmark run settings.
type BenchConfig struct {
	TopK        int     `envconfig:"RICE_BENCH_TOPK" yaml:"topk"`
	TestsetSize int     `envconfig:"RICE_BENCH_TESTSET_SIZE" yaml:"testset_size"`
	Workers     int     `envconfig:"RICE_BENCH_WORKERS" yaml:"workers"`
	MaxQPS      float64 `envconfig:"RICE_BENCH_MAX_QPS" yaml:"max_qps"` // 0 = unthrottled
	Cutoffs     []int   `envconfig:"RICE_BENCH_CUTOFFS" yaml:"cutoffs"`
	Format      string  `envconfig:"RICE_BENCH_FORMAT" yaml:"format"`
	Output      string  `envconfig:"RICE_BENCH_OUTPUT" yaml:"output"`
}

// DatasetConfig locates benchmark data.
type DatasetConfig struct {
	Type        string `envconfig:"RICE_BENCH_DATASET_TYPE" yaml:"type"` // qa or ir
	Name        string `envconfig:"RICE_BENCH_DATASET" yaml:"name"`
	Dir         string `envconfig:"RICE_BENCH_DATA_DIR" yaml:"dir"`
	Split       string `envconfig:"RICE_BENCH_SPLIT" yaml:"split"`
	BEIRBaseURL string `envconfig:"RICE_BENCH_BEIR_URL" yaml:"beir_base_url"`
}

// SetupConfig holds provisioning settings.
type SetupConfig struct {
	ModelGroupName        string          `envconfig:"RICE_BENCH_MODEL_GROUP" yaml:"model_group_name"`
	ModelGroupDescription string          `yaml:"model_group_description"`
	Connector             ConnectorConfig `yaml:"connector"`
	Recreate              bool            `envconfig:"RICE_BENCH_RECREATE_INDEX" yaml:"recreate"`
}

// ConnectorConfig is the template for the remote embedding connectors.
// RequestBody may contain {{input_type}}, replaced per connector.
type ConnectorConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Protocol    string            `envconfig:"RICE_BENCH_CONNECTOR_PROTOCOL" yaml:"protocol"`
	URL         string            `envconfig:"RICE_BENCH_CONNECTOR_URL" yaml:"url"`
	Parameters  map[string]string `yaml:"parameters"`
	Credential  map[string]string `yaml:"credential"`
	Headers     map[string]string `yaml:"headers"`
	RequestBody string            `yaml:"request_body"`
	PreProcess  string            `yaml:"pre_process_function"`
	PostProcess string            `yaml:"post_process_function"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RICE_BENCH_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RICE_BENCH_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"RICE_BENCH_KAFKA_GROUP" yaml:"kafka_group"`
	EventLog     string `envconfig:"RICE_BENCH_EVENT_LOG" yaml:"event_log"` // JSONL journal, empty = off
}

// HistoryConfig holds benchmark history settings.
type HistoryConfig struct {
	Type     string        `envconfig:"RICE_BENCH_HISTORY_TYPE" yaml:"type"`
	RedisURL string        `envconfig:"RICE_BENCH_REDIS_URL" yaml:"redis_url"`
	TTL      time.Duration `envconfig:"RICE_BENCH_HISTORY_TTL" yaml:"ttl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RICE_BENCH_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RICE_BENCH_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from defaults, an optional YAML file, a .env file
// in the working directory and environment variables, in that order.
func Load(configPath string) (*Config, error) {
	return LoadWithEnvFile(configPath, ".env")
}

// LoadWithEnvFile is Load with an explicit dotenv path. A missing dotenv file
// is not an error.
func LoadWithEnvFile(configPath, envFile string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// .env never overrides variables already set in the process
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return LoadWithEnvFile("", "")
}

// Default returns the built-in defaults without reading a file or the
// environment. The result passes Validate.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Cluster = ClusterConfig{
		Endpoint:    "http://localhost:9200",
		Timeout:     30 * time.Second,
		BulkTimeout: 100 * time.Second,
	}

	cfg.Index = IndexConfig{
		Name:        "rice-bench",
		TextField:   "content",
		DenseField:  "dense_embedding",
		SparseField: "sparse_embedding",
		Dimension:   1024,
		Shards:      1,
		Replicas:    0,
		EfSearch:    32,
		SpaceType:   "innerproduct",
		Engine:      "nmslib",
	}

	cfg.Strategy = StrategyConfig{
		Names:          []string{"bm25", "dense", "sparse", "dense_sparse", "dense_bm25"},
		MaxTokenScore:  3.5,
		HybridDenseK:   10,
		SearchPipeline: "hybrid-search-pipeline",
		Normalization:  "l2",
		Combination:    "arithmetic_mean",
		Weights:        []float64{0.5, 0.5},
	}

	cfg.Ingest = IngestConfig{
		BatchSize:   50,
		MaxAttempts: 2,
		Backoff:     time.Second,
		Pipeline:    "neural-sparse-pipeline",
	}

	cfg.Bench = BenchConfig{
		TopK:        4,
		TestsetSize: 1000,
		Workers:     1,
		Cutoffs:     []int{1, 4, 10},
		Format:      "table",
	}

	cfg.Dataset = DatasetConfig{
		Type:        "qa",
		Name:        "squad_v2",
		Dir:         "./data",
		BEIRBaseURL: "https://public.ukp.informatik.tu-darmstadt.de/thakur/BEIR/datasets",
	}

	cfg.Setup = SetupConfig{
		ModelGroupName:        "remote_model_group",
		ModelGroupDescription: "A model group for remote models",
		Connector: ConnectorConfig{
			Name:        "Amazon Bedrock Connector: Cohere embedding",
			Description: "The connector to the Bedrock Cohere multilingual embedding model",
			Protocol:    "aws_sigv4",
			Parameters:  map[string]string{"service_name": "bedrock"},
			Headers: map[string]string{
				"content-type":         "application/json",
				"x-amz-content-sha256": "required",
			},
			RequestBody: `{ "texts": ${parameters.texts}, "input_type": "{{input_type}}" }`,
			PreProcess:  "connector.pre_process.cohere.embedding",
			PostProcess: "connector.post_process.cohere.embedding",
		},
	}

	cfg.Bus = BusConfig{
		Type:       "memory",
		KafkaGroup: "rice-bench",
	}

	cfg.History = HistoryConfig{
		Type:     "memory",
		RedisURL: "redis://localhost:6379",
		TTL:      30 * 24 * time.Hour,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Cluster validation
	if c.Cluster.Endpoint == "" {
		errs = append(errs, "cluster endpoint is required")
	}
	if c.Cluster.Timeout <= 0 {
		errs = append(errs, "cluster timeout must be positive")
	}
	if c.Cluster.BulkTimeout <= 0 {
		errs = append(errs, "bulk timeout must be positive")
	}

	// Index validation
	if c.Index.Name == "" {
		errs = append(errs, "index name is required")
	}
	if c.Index.Dimension < 1 {
		errs = append(errs, "index dimension must be positive")
	}

	// Strategy validation
	if c.Strategy.MaxTokenScore <= 0 {
		errs = append(errs, "max_token_score must be positive")
	}
	if c.Strategy.HybridDenseK < 1 {
		errs = append(errs, "hybrid_dense_k must be positive")
	}
	if len(c.Strategy.Weights) != 2 {
		errs = append(errs, "hybrid weights must have exactly two entries")
	}
	for _, w := range c.Strategy.Weights {
		if w < 0 || w > 1 {
			errs = append(errs, "hybrid weights must be between 0 and 1")
			break
		}
	}

	// Ingest validation
	if c.Ingest.BatchSize < 1 {
		errs = append(errs, "batch_size must be positive")
	}
	if c.Ingest.MaxAttempts < 1 {
		errs = append(errs, "max_attempts must be at least 1")
	}
	if c.Ingest.Backoff < 0 {
		errs = append(errs, "backoff must not be negative")
	}

	// Bench validation
	if c.Bench.TopK < 1 {
		errs = append(errs, "topk must be positive")
	}
	if c.Bench.Workers < 1 {
		errs = append(errs, "workers must be positive")
	}
	if c.Bench.MaxQPS < 0 {
		errs = append(errs, "max_qps must not be negative")
	}
	if len(c.Bench.Cutoffs) == 0 {
		errs = append(errs, "at least one cutoff is required")
	}
	for _, k := range c.Bench.Cutoffs {
		if k < 1 {
			errs = append(errs, "cutoffs must be positive")
			break
		}
	}

	validFormatsOut := map[string]bool{"table": true, "json": true, "yaml": true}
	if !validFormatsOut[c.Bench.Format] {
		errs = append(errs, fmt.Sprintf("invalid report format: %s (must be table, json, or yaml)", c.Bench.Format))
	}

	// Dataset validation
	validDatasetTypes := map[string]bool{"qa": true, "ir": true}
	if !validDatasetTypes[c.Dataset.Type] {
		errs = append(errs, fmt.Sprintf("invalid dataset type: %s (must be qa or ir)", c.Dataset.Type))
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	// History validation
	validHistoryTypes := map[string]bool{"none": true, "memory": true, "redis": true}
	if !validHistoryTypes[c.History.Type] {
		errs = append(errs, fmt.Sprintf("invalid history type: %s (must be none, memory, or redis)", c.History.Type))
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// DatasetSplit returns the configured split, or the conventional default for
// the dataset type: validation for QA, test for IR.
func (c *Config) DatasetSplit() string {
	if c.Dataset.Split != "" {
		return c.Dataset.Split
	}
	if c.Dataset.Type == "ir" {
		return "test"
	}
	return "validation"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
