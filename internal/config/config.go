package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every subsystem's settings.
type Config struct {
	Server     ServerConfig
	AI         AIConfig
	Propaganda PropagandaConfig
	Redis      RedisConfig
	Stall      StallConfig
	Audio      AudioConfig
	Streaming  StreamingConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	prop, err := loadPropagandaConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	stall, err := loadStallConfig()
	if err != nil {
		return nil, err
	}

	streaming, err := loadStreamingConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		AI:         ai,
		Propaganda: prop,
		Redis:      redis,
		Stall:      stall,
		Audio:      loadAudioConfig(),
		Streaming:  streaming,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8000" or "127.0.0.1:8000" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the upstream model provider.
type AIConfig struct {
	APIKey          string
	BaseURL         string
	AudioModel      string
	Voice           string
	TranscribeModel string
	ClassifierModel string
	WorkerPoolSize  int
}

// Enabled reports whether the required credentials were provided.
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

// NewChatModel builds a text-only chat model for classifier workloads.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	return openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Model:   c.ClassifierModel,
	})
}

func loadAIConfig() (AIConfig, error) {
	poolSize := 8
	if override, err := parseOptionalIntEnv("AI_WORKER_POOL_SIZE"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			poolSize = 1
		} else {
			poolSize = *override
		}
	}

	return AIConfig{
		APIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:         getEnvOrDefault("OPENAI_BASE_URL", ""),
		AudioModel:      getEnvOrDefault("OPENAI_AUDIO_MODEL", "gpt-4o-audio-preview"),
		Voice:           getEnvOrDefault("OPENAI_VOICE", "alloy"),
		TranscribeModel: getEnvOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		ClassifierModel: getEnvOrDefault("OPENAI_CLASSIFIER_MODEL", "gpt-4o"),
		WorkerPoolSize:  poolSize,
	}, nil
}

// PropagandaConfig describes the external detection service.
type PropagandaConfig struct {
	WSURL        string
	ModelName    string
	CacheEnabled bool
}

func loadPropagandaConfig() (PropagandaConfig, error) {
	cacheEnabled, err := parseBoolEnv("PROPAGANDA_CACHE_ENABLED", false)
	if err != nil {
		return PropagandaConfig{}, err
	}

	return PropagandaConfig{
		WSURL:        getEnvOrDefault("PROPAGANDA_WS_URL", "ws://localhost:8001/ws/analyze_propaganda"),
		ModelName:    getEnvOrDefault("PROPAGANDA_MODEL", "gpt-4o"),
		CacheEnabled: cacheEnabled,
	}, nil
}

// RedisConfig describes the dialogue event log store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Enabled reports whether a store address was provided.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func loadRedisConfig() (RedisConfig, error) {
	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return RedisConfig{}, err
	} else if override != nil {
		db = *override
	}

	return RedisConfig{
		Addr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        db,
		KeyPrefix: getEnvOrDefault("DIALOGUE_LOG_PREFIX", "apollolytics_dialogues"),
	}, nil
}

// StallConfig gates the LLM-backed stall classifier.
type StallConfig struct {
	Enabled      bool
	HistoryLimit int
}

func loadStallConfig() (StallConfig, error) {
	enabled, err := parseBoolEnv("STALL_CHECK_ENABLED", true)
	if err != nil {
		return StallConfig{}, err
	}

	historyLimit := 20
	if override, err := parseOptionalIntEnv("STALL_HISTORY_LIMIT"); err != nil {
		return StallConfig{}, err
	} else if override != nil {
		if *override < 1 {
			historyLimit = 1
		} else {
			historyLimit = *override
		}
	}

	return StallConfig{Enabled: enabled, HistoryLimit: historyLimit}, nil
}

// AudioConfig describes audio normalization tooling.
type AudioConfig struct {
	FFmpegPath string
}

func loadAudioConfig() AudioConfig {
	return AudioConfig{
		FFmpegPath: getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
	}
}

// StreamingConfig controls the presentation-layer delta pacing. The provider
// returns the transcript in one piece; chunking is purely cosmetic.
type StreamingConfig struct {
	ChunkSize     int
	DelayMillis   int
	TimingCapture bool
}

func loadStreamingConfig() (StreamingConfig, error) {
	chunkSize := 20
	if override, err := parseOptionalIntEnv("DELTA_CHUNK_SIZE"); err != nil {
		return StreamingConfig{}, err
	} else if override != nil && *override > 0 {
		chunkSize = *override
	}

	delay := 100
	if override, err := parseOptionalIntEnv("DELTA_DELAY_MS"); err != nil {
		return StreamingConfig{}, err
	} else if override != nil && *override >= 0 {
		delay = *override
	}

	timing, err := parseBoolEnv("TIMING_CAPTURE_ENABLED", true)
	if err != nil {
		return StreamingConfig{}, err
	}

	return StreamingConfig{ChunkSize: chunkSize, DelayMillis: delay, TimingCapture: timing}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
