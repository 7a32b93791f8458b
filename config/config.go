package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Source 实际读取的配置文件，未找到文件时为空
	Source string `mapstructure:"-"`

	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Generation GenerationConfig `mapstructure:"generation"`
	Models     ModelsConfig     `mapstructure:"models"`
}

type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	Mode             string        `mapstructure:"mode"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	ExposeTraceback  bool          `mapstructure:"expose_traceback"`
	CORSAllowOrigins []string      `mapstructure:"cors_allow_origins"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	MaxSide      uint     `mapstructure:"max_side"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// InferenceConfig 描述外部推理后端
type InferenceConfig struct {
	SegmenterURL   string        `mapstructure:"segmenter_url"`
	GeneratorURL   string        `mapstructure:"generator_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	LoadTimeout    time.Duration `mapstructure:"load_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout"`
	FailFast       bool          `mapstructure:"fail_fast"`
}

// GenerationConfig 生成超参数，默认值为调优后的常量
type GenerationConfig struct {
	Compositor        string  `mapstructure:"compositor"`
	Strength          float64 `mapstructure:"strength"`
	Steps             int     `mapstructure:"steps"`
	GuidanceScale     float64 `mapstructure:"guidance_scale"`
	ConditioningScale float64 `mapstructure:"conditioning_scale"`
	Width             int     `mapstructure:"width"`
	Height            int     `mapstructure:"height"`
}

type ModelsConfig struct {
	ControlNet   string `mapstructure:"controlnet"`
	VAE          string `mapstructure:"vae"`
	Pipeline     string `mapstructure:"pipeline"`
	Segmentation string `mapstructure:"segmentation"`
}

const (
	CompositorPixelCopy = "pixel_copy"
	CompositorInpaint   = "inpaint"

	envPrefix = "STREETGEN"
)

// Load 从 YAML 文件加载配置，环境变量优先；文件不存在时使用默认值加环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	source := configPath
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		source = ""
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Source = source

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return &cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// New 先加载 .env，再按 Load 的规则读取配置
func New(configPath string) (*Config, error) {
	_ = godotenv.Load()

	if configPath == "" {
		configPath = "config.yaml"
	}
	return Load(configPath)
}

// Validate 检查配置的取值范围
func (c *Config) Validate() error {
	switch c.Generation.Compositor {
	case CompositorPixelCopy, CompositorInpaint:
	default:
		return fmt.Errorf("unknown compositor %q", c.Generation.Compositor)
	}
	if c.Generation.Width <= 0 || c.Generation.Height <= 0 {
		return fmt.Errorf("invalid canvas %dx%d", c.Generation.Width, c.Generation.Height)
	}
	if c.Inference.MaxConcurrent < 1 {
		return fmt.Errorf("inference.max_concurrent must be at least 1")
	}
	return nil
}

// ModelNames 返回需要后端预先加载的模型列表
func (m ModelsConfig) ModelNames() []string {
	names := make([]string, 0, 4)
	for _, n := range []string{m.ControlNet, m.VAE, m.Pipeline, m.Segmentation} {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.expose_traceback", d.Server.ExposeTraceback)
	v.SetDefault("server.cors_allow_origins", d.Server.CORSAllowOrigins)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.max_side", d.Upload.MaxSide)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("inference.segmenter_url", d.Inference.SegmenterURL)
	v.SetDefault("inference.generator_url", d.Inference.GeneratorURL)
	v.SetDefault("inference.request_timeout", d.Inference.RequestTimeout)
	v.SetDefault("inference.load_timeout", d.Inference.LoadTimeout)
	v.SetDefault("inference.max_concurrent", d.Inference.MaxConcurrent)
	v.SetDefault("inference.queue_timeout", d.Inference.QueueTimeout)
	v.SetDefault("inference.fail_fast", d.Inference.FailFast)

	v.SetDefault("generation.compositor", d.Generation.Compositor)
	v.SetDefault("generation.strength", d.Generation.Strength)
	v.SetDefault("generation.steps", d.Generation.Steps)
	v.SetDefault("generation.guidance_scale", d.Generation.GuidanceScale)
	v.SetDefault("generation.conditioning_scale", d.Generation.ConditioningScale)
	v.SetDefault("generation.width", d.Generation.Width)
	v.SetDefault("generation.height", d.Generation.Height)

	v.SetDefault("models.controlnet", d.Models.ControlNet)
	v.SetDefault("models.vae", d.Models.VAE)
	v.SetDefault("models.pipeline", d.Models.Pipeline)
	v.SetDefault("models.segmentation", d.Models.Segmentation)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             "0.0.0.0:5000",
			Mode:             "debug",
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     5 * time.Minute,
			ShutdownTimeout:  10 * time.Second,
			ExposeTraceback:  true,
			CORSAllowOrigins: []string{"*"},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			MaxSide:      2048,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg", "image/webp", "application/octet-stream"},
		},
		Inference: InferenceConfig{
			SegmenterURL:   "http://127.0.0.1:8001",
			GeneratorURL:   "http://127.0.0.1:8002",
			RequestTimeout: 3 * time.Minute,
			LoadTimeout:    10 * time.Minute,
			MaxConcurrent:  1,
			QueueTimeout:   60 * time.Second,
			FailFast:       false,
		},
		Generation: GenerationConfig{
			Compositor:        CompositorPixelCopy,
			Strength:          0.9,
			Steps:             2,
			GuidanceScale:     0.9,
			ConditioningScale: 1.0,
			Width:             1024,
			Height:            512,
		},
		Models: ModelsConfig{
			ControlNet:   "model",
			VAE:          "madebyollin/sdxl-vae-fp16-fix",
			Pipeline:     "stabilityai/sdxl-turbo",
			Segmentation: "openmmlab/upernet-convnext-small",
		},
	}
}

// Default 返回内置默认配置
func Default() *Config {
	return getDefaultConfig()
}
