package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Addr            string        `mapstructure:"-"`
	StaticDir       string        `mapstructure:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins 为 CORS 白名单，"*" 表示允许任意来源。
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// OpenAIConfig 描述对话式 AI 实时服务的配置。
type OpenAIConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	RealtimeURL        string        `mapstructure:"realtime_url"`
	Model              string        `mapstructure:"model"`
	SessionTTL         time.Duration `mapstructure:"session_ttl"`
	OutputModalities   []string      `mapstructure:"output_modalities"`
	InputAudioFormat   string        `mapstructure:"input_audio_format"`
	InputSampleRate    int           `mapstructure:"input_sample_rate"`
	VADThreshold       float64       `mapstructure:"vad_threshold"`
	VADPrefixPadding   time.Duration `mapstructure:"vad_prefix_padding"`
	VADSilenceDuration time.Duration `mapstructure:"vad_silence_duration"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout"`
}

// ElevenLabsConfig 描述流式 TTS 服务的配置。
type ElevenLabsConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	VoiceID          string        `mapstructure:"voice_id"`
	ModelID          string        `mapstructure:"model_id"`
	OutputFormat     string        `mapstructure:"output_format"`
	Stability        float64       `mapstructure:"stability"`
	SimilarityBoost  float64       `mapstructure:"similarity_boost"`
	Style            float64       `mapstructure:"style"`
	SpeakerBoost     bool          `mapstructure:"speaker_boost"`
	ChunkSchedule    []int         `mapstructure:"chunk_schedule"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// RelayConfig holds the per-session relay tuning knobs.
type RelayConfig struct {
	FlushThreshold int           `mapstructure:"flush_threshold"`
	FlushDelay     time.Duration `mapstructure:"flush_delay"`
	CloseGrace     time.Duration `mapstructure:"close_grace"`
	Persona        string        `mapstructure:"persona"`
	MailboxSize    int           `mapstructure:"mailbox_size"`
}

// LogConfig selects log verbosity and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Enabled 表示是否提供了对话服务密钥。
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

// Enabled 表示是否提供了 TTS 密钥与音色。
func (c ElevenLabsConfig) Enabled() bool {
	return c.APIKey != "" && c.VoiceID != ""
}

// Load 从环境变量（以及可选的 CONFIG_FILE）加载配置。
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "PORT"); err != nil {
		return nil, fmt.Errorf("bind PORT: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	addr, err := resolveAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.OpenAI.APIKey = strings.TrimSpace(cfg.OpenAI.APIKey)
	cfg.ElevenLabs.APIKey = strings.TrimSpace(cfg.ElevenLabs.APIKey)
	cfg.ElevenLabs.VoiceID = strings.TrimSpace(cfg.ElevenLabs.VoiceID)

	if err := cfg.Relay.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.static_dir", "public")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com")
	v.SetDefault("openai.realtime_url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("openai.model", "gpt-realtime-mini")
	v.SetDefault("openai.session_ttl", 600*time.Second)
	v.SetDefault("openai.output_modalities", []string{"text"})
	v.SetDefault("openai.input_audio_format", "audio/pcm")
	v.SetDefault("openai.input_sample_rate", 24000)
	v.SetDefault("openai.vad_threshold", 0.5)
	v.SetDefault("openai.vad_prefix_padding", 300*time.Millisecond)
	v.SetDefault("openai.vad_silence_duration", 500*time.Millisecond)
	v.SetDefault("openai.handshake_timeout", 15*time.Second)

	v.SetDefault("elevenlabs.api_key", "")
	v.SetDefault("elevenlabs.base_url", "wss://api.elevenlabs.io")
	v.SetDefault("elevenlabs.voice_id", "")
	v.SetDefault("elevenlabs.model_id", "eleven_flash_v2_5")
	v.SetDefault("elevenlabs.output_format", "mp3_44100_128")
	v.SetDefault("elevenlabs.stability", 0.5)
	v.SetDefault("elevenlabs.similarity_boost", 0.8)
	v.SetDefault("elevenlabs.style", 0.0)
	v.SetDefault("elevenlabs.speaker_boost", true)
	v.SetDefault("elevenlabs.chunk_schedule", []int{120, 160, 250, 290})
	v.SetDefault("elevenlabs.handshake_timeout", 10*time.Second)

	v.SetDefault("relay.flush_threshold", 50)
	v.SetDefault("relay.flush_delay", 100*time.Millisecond)
	v.SetDefault("relay.close_grace", 500*time.Millisecond)
	v.SetDefault("relay.persona", "zener-agent")
	v.SetDefault("relay.mailbox_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// resolveAddr 解析服务器监听地址。
func resolveAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	return ":" + port, nil
}

func (c RelayConfig) validate() error {
	if c.FlushThreshold <= 0 {
		return fmt.Errorf("invalid RELAY_FLUSH_THRESHOLD value %d: must be positive", c.FlushThreshold)
	}
	if c.FlushDelay <= 0 {
		return fmt.Errorf("invalid RELAY_FLUSH_DELAY value %s: must be positive", c.FlushDelay)
	}
	if c.CloseGrace < 0 {
		return fmt.Errorf("invalid RELAY_CLOSE_GRACE value %s", c.CloseGrace)
	}
	return nil
}
