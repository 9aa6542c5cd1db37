package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Storage locations for job artifacts
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Pipeline engine configuration
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"PURECUT_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" json:"port" env:"PURECUT_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"PURECUT_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"PURECUT_WRITE_TIMEOUT" default:"30s"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors" env:"PURECUT_ENABLE_CORS" default:"true"`
}

// DatabaseConfig selects and configures the backing store
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"PURECUT_DATABASE_TYPE" default:"sqlite"`
	SQLitePath   string `yaml:"sqlite_path" json:"sqlite_path" env:"PURECUT_SQLITE_PATH" default:"./purecut-data/purecut.db"`
	PostgresHost string `yaml:"postgres_host" json:"postgres_host" env:"PURECUT_POSTGRES_HOST" default:"localhost"`
	PostgresPort int    `yaml:"postgres_port" json:"postgres_port" env:"PURECUT_POSTGRES_PORT" default:"5432"`
	PostgresUser string `yaml:"postgres_user" json:"postgres_user" env:"PURECUT_POSTGRES_USER"`
	PostgresPass string `yaml:"postgres_pass" json:"postgres_pass" env:"PURECUT_POSTGRES_PASSWORD"`
	PostgresDB   string `yaml:"postgres_db" json:"postgres_db" env:"PURECUT_POSTGRES_DB" default:"purecut"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"PURECUT_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"PURECUT_LOG_FORMAT" default:"text"`
}

// StorageConfig holds filesystem locations for per-job working data
type StorageConfig struct {
	DataDir       string `yaml:"data_dir" json:"data_dir" env:"PURECUT_DATA_DIR" default:"./purecut-data"`
	JobsDir       string `yaml:"jobs_dir" json:"jobs_dir" env:"PURECUT_JOBS_DIR" default:"./purecut-data/jobs"`
	RetainClips   bool   `yaml:"retain_clips" json:"retain_clips" env:"PURECUT_RETAIN_CLIPS" default:"false"`
	CleanupOnDone bool   `yaml:"cleanup_on_done" json:"cleanup_on_done" env:"PURECUT_CLEANUP_ON_DONE" default:"true"`
}

// PipelineConfig groups per-engine settings
type PipelineConfig struct {
	Probe       ProbeConfig       `yaml:"probe" json:"probe"`
	Detector    DetectorConfig    `yaml:"detector" json:"detector"`
	Alignment   AlignmentConfig   `yaml:"alignment" json:"alignment"`
	Advisory    AdvisoryConfig    `yaml:"advisory" json:"advisory"`
	Vision      VisionConfig      `yaml:"vision" json:"vision"`
	Aggregation AggregationConfig `yaml:"aggregation" json:"aggregation"`
	Replacement ReplacementConfig `yaml:"replacement" json:"replacement"`
	Stitch      StitchConfig      `yaml:"stitch" json:"stitch"`
	Audio       AudioConfig       `yaml:"audio" json:"audio"`
	Strict      bool              `yaml:"strict" json:"strict" env:"PURECUT_STRICT" default:"false"`
}

// ProbeConfig configures ffprobe/ffmpeg media access
type ProbeConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"PURECUT_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath string `yaml:"ffprobe_path" json:"ffprobe_path" env:"PURECUT_FFPROBE_PATH" default:"ffprobe"`
	FrameWidth  int    `yaml:"frame_width" json:"frame_width" env:"PURECUT_FRAME_WIDTH" default:"640"`
}

// DetectorConfig configures scene boundary detection
type DetectorConfig struct {
	Mode            string  `yaml:"mode" json:"mode" env:"PURECUT_DETECTOR_MODE" default:"content"`
	Sensitivity     float64 `yaml:"sensitivity" json:"sensitivity" env:"PURECUT_DETECTOR_SENSITIVITY" default:"22.0"`
	MinSceneLengthS float64 `yaml:"min_scene_length_s" json:"min_scene_length_s" env:"PURECUT_MIN_SCENE_LENGTH" default:"1.0"`
	AnalysisFPS     float64 `yaml:"analysis_fps" json:"analysis_fps" default:"4.0"`
	AnalysisWidth   int     `yaml:"analysis_width" json:"analysis_width" default:"160"`
	AnalysisHeight  int     `yaml:"analysis_height" json:"analysis_height" default:"90"`
}

// AlignmentConfig configures script/subtitle fuzzy matching
type AlignmentConfig struct {
	SimilarityFloor float64 `yaml:"similarity_floor" json:"similarity_floor" env:"PURECUT_SIMILARITY_FLOOR" default:"0.8"`
	LookAhead       int     `yaml:"look_ahead" json:"look_ahead" default:"50"`
	LookBehind      int     `yaml:"look_behind" json:"look_behind" default:"5"`
	PositionBonus   float64 `yaml:"position_bonus" json:"position_bonus" default:"0.15"`
}

// AdvisoryConfig configures the third-party content advisory fetcher
type AdvisoryConfig struct {
	BaseURL  string        `yaml:"base_url" json:"base_url" env:"PURECUT_ADVISORY_URL"`
	APIKey   string        `yaml:"api_key" json:"api_key" env:"PURECUT_ADVISORY_API_KEY"`
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"PURECUT_ADVISORY_TTL" default:"168h"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" default:"30s"`
}

// VisionConfig configures the visual classifier
type VisionConfig struct {
	Model             string        `yaml:"model" json:"model" env:"PURECUT_VISION_MODEL" default:"gpt-4o"`
	APIKey            string        `yaml:"api_key" json:"api_key" env:"OPENAI_API_KEY"`
	BaseURL           string        `yaml:"base_url" json:"base_url" env:"PURECUT_VISION_BASE_URL"`
	FramesPerScene    int           `yaml:"frames_per_scene" json:"frames_per_scene" env:"PURECUT_FRAMES_PER_SCENE" default:"10"`
	SampleRate        float64       `yaml:"sample_rate" json:"sample_rate" default:"0"`
	FrameWidth        int           `yaml:"frame_width" json:"frame_width" default:"640"`
	MaxWorkers        int           `yaml:"max_workers" json:"max_workers" env:"PURECUT_MAX_WORKERS" default:"4"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries" default:"2"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout" default:"90s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second" default:"2"`

	// Token prices in USD per million, for per-job cost accounting
	PriceInPerMTok  float64 `yaml:"price_in_per_mtok" json:"price_in_per_mtok" default:"2.50"`
	PriceOutPerMTok float64 `yaml:"price_out_per_mtok" json:"price_out_per_mtok" default:"10.0"`
}

// AggregationConfig configures confidence scoring and flagging
type AggregationConfig struct {
	ScriptWeight       float64 `yaml:"script_weight" json:"script_weight" default:"0.3"`
	VisionWeight       float64 `yaml:"vision_weight" json:"vision_weight" default:"0.5"`
	AdvisoryWeight     float64 `yaml:"advisory_weight" json:"advisory_weight" default:"0.2"`
	ConfidenceFloor    float64 `yaml:"confidence_floor" json:"confidence_floor" default:"0.35"`
	FlagThreshold      float64 `yaml:"flag_threshold" json:"flag_threshold" env:"PURECUT_FLAG_THRESHOLD" default:"0.4"`
	IntensityThreshold string  `yaml:"intensity_threshold" json:"intensity_threshold" default:"moderate"`
	MergeGapS          float64 `yaml:"merge_gap_s" json:"merge_gap_s" default:"2.0"`
}

// ReplacementConfig configures the generative replacement provider
type ReplacementConfig struct {
	BaseURL          string        `yaml:"base_url" json:"base_url" env:"PURECUT_GEN_URL" default:"https://queue.fal.run"`
	APIKey           string        `yaml:"api_key" json:"api_key" env:"FAL_KEY"`
	Model            string        `yaml:"model" json:"model" default:"fal-ai/veo3.1/first-last-frame-to-video"`
	Resolution       string        `yaml:"resolution" json:"resolution" env:"PURECUT_GEN_RESOLUTION" default:"720p"`
	BufferS          float64       `yaml:"buffer_s" json:"buffer_s" default:"1.5"`
	MaxClipDurationS float64       `yaml:"max_clip_duration_s" json:"max_clip_duration_s" default:"8.0"`
	MaxRetries       int           `yaml:"max_retries" json:"max_retries" default:"2"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout" default:"600s"`
	MaxWorkers       int           `yaml:"max_workers" json:"max_workers" default:"2"`
	FailurePolicy    string        `yaml:"failure_policy" json:"failure_policy" env:"PURECUT_FAILURE_POLICY" default:"keep_original"`
	FrameWidth       int           `yaml:"frame_width" json:"frame_width" default:"1280"`
}

// StitchConfig configures the output assembly stage
type StitchConfig struct {
	Preset       string `yaml:"preset" json:"preset" default:"fast"`
	CRF          int    `yaml:"crf" json:"crf" default:"18"`
	AudioBitrate string `yaml:"audio_bitrate" json:"audio_bitrate" default:"192k"`
}

// AudioConfig configures profanity muting on the output audio track
type AudioConfig struct {
	MuteProfanity bool  `yaml:"mute_profanity" json:"mute_profanity" env:"PURECUT_MUTE_PROFANITY" default:"true"`
	MutePadMs     int64 `yaml:"mute_pad_ms" json:"mute_pad_ms" default:"150"`
}

var (
	mu      sync.RWMutex
	current *Config
)

// Load reads configuration from an optional YAML file, then applies defaults
// and environment overrides. A missing path loads defaults only.
func Load(path string) error {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(reflect.ValueOf(cfg).Elem())
	applyEnvOverrides(reflect.ValueOf(cfg).Elem())

	if err := cfg.Validate(); err != nil {
		return err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return nil
}

// Get returns the active configuration, loading defaults if Load was never called.
func Get() *Config {
	mu.RLock()
	if current != nil {
		defer mu.RUnlock()
		return current
	}
	mu.RUnlock()

	_ = Load("")
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	agg := c.Pipeline.Aggregation
	sum := agg.ScriptWeight + agg.VisionWeight + agg.AdvisoryWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("aggregation source weights must sum to 1, got %.3f", sum)
	}
	if agg.FlagThreshold < 0 || agg.FlagThreshold > 1 {
		return fmt.Errorf("flag threshold must be in [0,1], got %.3f", agg.FlagThreshold)
	}
	switch c.Pipeline.Detector.Mode {
	case "content", "threshold":
	default:
		return fmt.Errorf("unknown detector mode %q", c.Pipeline.Detector.Mode)
	}
	switch c.Pipeline.Replacement.FailurePolicy {
	case "keep_original", "fail":
	default:
		return fmt.Errorf("unknown replacement failure policy %q", c.Pipeline.Replacement.FailurePolicy)
	}
	return nil
}

// applyDefaults walks the struct recursively and fills zero-valued fields
// from their `default` tags.
func applyDefaults(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			applyDefaults(field)
			continue
		}
		def := t.Field(i).Tag.Get("default")
		if def == "" || !field.IsZero() {
			continue
		}
		setField(field, def)
	}
}

// applyEnvOverrides walks the struct recursively and overlays values from the
// environment variables named by `env` tags.
func applyEnvOverrides(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			applyEnvOverrides(field)
			continue
		}
		envName := t.Field(i).Tag.Get("env")
		if envName == "" {
			continue
		}
		if val, ok := os.LookupEnv(envName); ok && val != "" {
			setField(field, val)
		}
	}
}

func setField(field reflect.Value, raw string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			if d, err := time.ParseDuration(raw); err == nil {
				field.SetInt(int64(d))
			}
			return
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(n)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			field.SetFloat(f)
		}
	}
}
