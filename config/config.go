package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when read from the environment.
const EnvPrefix = "FERN"

type Config struct {
	AppName                       string `mapstructure:"APP_NAME" default:"fern"`
	Port                          int    `mapstructure:"PORT" default:"3010" validate:"min=1,max=65535"`
	LogLevel                      string `mapstructure:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool   `mapstructure:"PRETTY_LOGS" default:"false"`
	HttpServerWriteTimeoutSeconds int    `mapstructure:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" default:"30"`
	HttpServerReadTimeoutSeconds  int    `mapstructure:"HTTP_SERVER_READ_TIMEOUT_SECONDS" default:"10"`
	StartupMaxAttempts            int    `mapstructure:"STARTUP_MAX_ATTEMPTS" default:"5" validate:"min=1"`

	// Destination database
	DatabaseDriver              string        `mapstructure:"DATABASE_DRIVER" default:"postgres" validate:"oneof=postgres mysql sqlite"`
	DatabaseHost                string        `mapstructure:"DATABASE_HOST" default:"localhost"`
	DatabasePort                int           `mapstructure:"DATABASE_PORT" default:"5432"`
	DatabaseUserName            string        `mapstructure:"DATABASE_USER_NAME" default:""`
	DatabasePassword            string        `mapstructure:"DATABASE_PASSWORD" default:""`
	DatabaseName                string        `mapstructure:"DATABASE_NAME" default:"fern"`
	DatabaseSSLMode             string        `mapstructure:"DATABASE_SSL_MODE" default:"disable"`
	DatabaseDSN                 string        `mapstructure:"DATABASE_DSN" default:""`
	DatabaseMaxOpenConns        int           `mapstructure:"DATABASE_MAX_OPEN_CONNS" default:"25" validate:"min=0"`
	DatabaseMaxIdleConns        int           `mapstructure:"DATABASE_MAX_IDLE_CONNS" default:"10" validate:"min=0"`
	DatabaseConnMaxLifetime     time.Duration `mapstructure:"DATABASE_CONN_MAX_LIFETIME" default:"10m"`
	DatabaseMigrationFolderPath string        `mapstructure:"DATABASE_MIGRATION_FOLDER_PATH" default:"migrations"`

	// Source store
	SourceKind         string `mapstructure:"SOURCE_KIND" default:"neo4j" validate:"oneof=neo4j file"`
	SourceFilePath     string `mapstructure:"SOURCE_FILE_PATH" default:"" validate:"required_if=SourceKind file"`
	GraphDBHost        string `mapstructure:"GRAPH_DB_HOST" default:"localhost"`
	GraphDBPort        int    `mapstructure:"GRAPH_DB_PORT" default:"7687"`
	GraphDBUser        string `mapstructure:"GRAPH_DB_USER" default:""`
	GraphDBPassword    string `mapstructure:"GRAPH_DB_PASSWORD" default:""`
	GraphDBDatabase    string `mapstructure:"GRAPH_DB_DATABASE" default:""`
	GraphMetadataLabel string `mapstructure:"GRAPH_METADATA_LABEL" default:"Metadata"`
	GraphMetadataKey   string `mapstructure:"GRAPH_METADATA_KEY" default:"collection_schemas"`

	// Matrix files
	MatrixLocalRoot   string `mapstructure:"MATRIX_LOCAL_ROOT" default:""`
	S3Enabled         bool   `mapstructure:"S3_ENABLED" default:"false"`
	S3Endpoint        string `mapstructure:"S3_ENDPOINT" default:""`
	S3Region          string `mapstructure:"S3_REGION" default:"us-east-1"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID" default:""`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY" default:""`
	S3PathStyle       bool   `mapstructure:"S3_PATH_STYLE" default:"true"`

	// Kafka consumer (live ingestion)
	KafkaBrokers       []string      `mapstructure:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaInputTopic    string        `mapstructure:"KAFKA_INPUT_TOPIC" default:"kg-entities"`
	KafkaConsumerGroup string        `mapstructure:"KAFKA_CONSUMER_GROUP" default:"fern-ingest"`
	KafkaBatchSize     int           `mapstructure:"KAFKA_BATCH_SIZE" default:"500" validate:"min=1"`
	KafkaBatchTimeout  time.Duration `mapstructure:"KAFKA_BATCH_TIMEOUT" default:"2s"`

	// Failed converters are flushed again this many times before their messages are dead-lettered are flushed again this many times before their messages are dead-lettered
	IngestMaxRetries    int           `mapstructure:"INGEST_MAX_RETRIES" default:"3" validate:"min=0"`
	IngestRetryInterval time.Duration `mapstructure:"INGEST_RETRY_INTERVAL" default:"500ms"`

	// Redis
	RedisEnabled     bool          `mapstructure:"REDIS_ENABLED" default:"false"`
	RedisHost        string        `mapstructure:"REDIS_HOST" default:"localhost" validate:"required_if=RedisEnabled true"`
	RedisPort        int           `mapstructure:"REDIS_PORT" default:"6379"`
	RedisPassword    string        `mapstructure:"REDIS_PASSWORD" default:""`
	RedisDB          int           `mapstructure:"REDIS_DB" default:"0" validate:"min=0"`
	MergeLockTTL     time.Duration `mapstructure:"MERGE_LOCK_TTL" default:"5m"`
	MergeLockWait    time.Duration `mapstructure:"MERGE_LOCK_WAIT" default:"10m"`
	DeadLetterStream string        `mapstructure:"DEAD_LETTER_STREAM" default:"fern:dlq"`

	// Bulk copy
	CopyPageSize      int           `mapstructure:"COPY_PAGE_SIZE" default:"10000" validate:"min=1"`
	CopyConcurrency   int           `mapstructure:"COPY_CONCURRENCY" default:"4" validate:"min=1"`
	CopyMaxRetries    int           `mapstructure:"COPY_MAX_RETRIES" default:"1" validate:"min=0"`
	CopyRetryInterval time.Duration `mapstructure:"COPY_RETRY_INTERVAL" default:"100ms"`

	// Matrix melt
	MeltEnabled        bool   `mapstructure:"MELT_ENABLED" default:"true"`
	MeltChunkSize      int    `mapstructure:"MELT_CHUNK_SIZE" default:"10000" validate:"min=1"`
	FileReferenceField string `mapstructure:"FILE_REFERENCE_FIELD" default:"file_reference"`
	MatrixIndexColumn  string `mapstructure:"MATRIX_INDEX_COLUMN" default:""`

	// Merge
	MergeNoMerge          bool   `mapstructure:"MERGE_NO_MERGE" default:"false"`
	MergeConflictBehavior string `mapstructure:"MERGE_CONFLICT_BEHAVIOR" default:"KeepLast" validate:"oneof=KeepLast KeepFirst"`
	ConvertersPath        string `mapstructure:"CONVERTERS_PATH" default:""`

	// Planner
	PlannerSkipFields    []string `mapstructure:"PLANNER_SKIP_FIELDS" default:"sources,xref,provenance"`
	PlannerOverridesPath string   `mapstructure:"PLANNER_OVERRIDES_PATH" default:""`

	// Tracing
	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED" default:"false"`
	TracingEndpoint string `mapstructure:"TRACING_ENDPOINT" default:"localhost:4317" validate:"required_if=TracingEnabled true"`
	TracingProtocol string `mapstructure:"TRACING_PROTOCOL" default:"grpc" validate:"oneof=grpc http"`
	TracingInsecure bool   `mapstructure:"TRACING_INSECURE" default:"true"`
}

// Load reads configuration from, in rising precedence, field defaults, the
// optional YAML file at path and the environment (FERN_<KEY>). A .env file in
// the working directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// setDefaults registers every key with viper. Unregistered keys would be
// invisible to AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper) {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		v.SetDefault(key, f.Tag.Get("default"))
	}
}
