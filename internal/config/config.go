// Package config loads the application configuration from defaults, an
// optional config file, environment variables (TACOTTS_ prefix) and command
// line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Server  ServerConfig  `mapstructure:"server"`
	TTS     TTSConfig     `mapstructure:"tts"`
	Frames  FramesConfig  `mapstructure:"frames"`
	Audio   AudioConfig   `mapstructure:"audio"`

	LogLevel string `mapstructure:"log_level"`
}

type PathsConfig struct {
	GeneratorModel string `mapstructure:"generator_model"`
	WaveRNNModel   string `mapstructure:"wavernn_model"`
	WaveGlowModel  string `mapstructure:"waveglow_model"`
	Lexicon        string `mapstructure:"lexicon"`

	// ONNX graph exports, used when runtime.backend is "onnx".
	ONNXGenerator string `mapstructure:"onnx_generator"`
	ONNXVocoder   string `mapstructure:"onnx_vocoder"`
}

type RuntimeConfig struct {
	Backend        string `mapstructure:"backend"` // native | onnx
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTAPIVersion  uint32 `mapstructure:"ort_api_version"`
}

type ServerConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	Concurrency int    `mapstructure:"concurrency"`
}

type TTSConfig struct {
	Strategy        string  `mapstructure:"strategy"` // char | phoneme
	Vocoder         string  `mapstructure:"vocoder"`  // griffinlim | wavernn | waveglow
	GriffinLimIters int     `mapstructure:"griffinlim_iters"`
	Sigma           float64 `mapstructure:"sigma"`
	GateThreshold   float64 `mapstructure:"gate_threshold"`
	MaxDecoderSteps int     `mapstructure:"max_decoder_steps"`
	Seed            int64   `mapstructure:"seed"` // 0 means non-reproducible
}

// FramesConfig pins the spectrogram frame conventions the checkpoints were
// trained with. Generator and vocoder must agree on all of them.
type FramesConfig struct {
	Mels       int `mapstructure:"mels"`
	FFTSize    int `mapstructure:"fft_size"`
	HopSize    int `mapstructure:"hop_size"`
	WinSize    int `mapstructure:"win_size"`
	SampleRate int `mapstructure:"sample_rate"`
}

type AudioConfig struct {
	Normalize bool    `mapstructure:"normalize"`
	FadeMs    float64 `mapstructure:"fade_ms"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			GeneratorModel: "models/generator.safetensors",
			WaveRNNModel:   "models/wavernn.safetensors",
			WaveGlowModel:  "models/waveglow.safetensors",
			Lexicon:        "",
			ONNXGenerator:  "models/generator.onnx",
			ONNXVocoder:    "models/vocoder.onnx",
		},
		Runtime: RuntimeConfig{
			Backend:        "native",
			ORTLibraryPath: "",
			ORTAPIVersion:  0,
		},
		Server: ServerConfig{
			ListenAddr:  ":8080",
			Concurrency: 2,
		},
		TTS: TTSConfig{
			Strategy:        "char",
			Vocoder:         "griffinlim",
			GriffinLimIters: 32,
			Sigma:           0.9,
			GateThreshold:   0.5,
			MaxDecoderSteps: 1000,
			Seed:            0,
		},
		Frames: FramesConfig{
			Mels:       80,
			FFTSize:    1024,
			HopSize:    256,
			WinSize:    1024,
			SampleRate: 22050,
		},
		Audio: AudioConfig{
			Normalize: true,
			FadeMs:    5,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-generator-model", defaults.Paths.GeneratorModel, "Path to generator safetensors checkpoint")
	fs.String("paths-wavernn-model", defaults.Paths.WaveRNNModel, "Path to WaveRNN safetensors checkpoint")
	fs.String("paths-waveglow-model", defaults.Paths.WaveGlowModel, "Path to WaveGlow safetensors checkpoint")
	fs.String("paths-lexicon", defaults.Paths.Lexicon, "Path to pronunciation lexicon (phoneme strategy)")
	fs.String("paths-onnx-generator", defaults.Paths.ONNXGenerator, "Path to exported generator ONNX graph")
	fs.String("paths-onnx-vocoder", defaults.Paths.ONNXVocoder, "Path to exported vocoder ONNX graph")
	fs.String("runtime-backend", defaults.Runtime.Backend, "Inference backend: native or onnx")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.Uint32("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime API version (0 for default)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-concurrency", defaults.Server.Concurrency, "Max concurrent synthesis requests")
	fs.String("tts-strategy", defaults.TTS.Strategy, "Text encoding strategy: char or phoneme")
	fs.String("tts-vocoder", defaults.TTS.Vocoder, "Vocoder: griffinlim, wavernn or waveglow")
	fs.Int("tts-griffinlim-iters", defaults.TTS.GriffinLimIters, "Griffin-Lim phase recovery iterations")
	fs.Float64("tts-sigma", defaults.TTS.Sigma, "WaveGlow latent scale")
	fs.Float64("tts-gate-threshold", defaults.TTS.GateThreshold, "Stop gate threshold")
	fs.Int("tts-max-decoder-steps", defaults.TTS.MaxDecoderSteps, "Decoder step cap per utterance")
	fs.Int64("tts-seed", defaults.TTS.Seed, "RNG seed (0 for non-reproducible output)")
	fs.Int("frames-mels", defaults.Frames.Mels, "Mel band count")
	fs.Int("frames-fft-size", defaults.Frames.FFTSize, "FFT size")
	fs.Int("frames-hop-size", defaults.Frames.HopSize, "Hop size in samples")
	fs.Int("frames-win-size", defaults.Frames.WinSize, "Analysis window size in samples")
	fs.Int("frames-sample-rate", defaults.Frames.SampleRate, "Audio sample rate")
	fs.Bool("audio-normalize", defaults.Audio.Normalize, "Peak-normalize output audio")
	fs.Float64("audio-fade-ms", defaults.Audio.FadeMs, "Fade-in/out duration in milliseconds")
	fs.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("TACOTTS")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "TACOTTS_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("tacotts")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.generator_model", c.Paths.GeneratorModel)
	v.SetDefault("paths.wavernn_model", c.Paths.WaveRNNModel)
	v.SetDefault("paths.waveglow_model", c.Paths.WaveGlowModel)
	v.SetDefault("paths.lexicon", c.Paths.Lexicon)
	v.SetDefault("paths.onnx_generator", c.Paths.ONNXGenerator)
	v.SetDefault("paths.onnx_vocoder", c.Paths.ONNXVocoder)
	v.SetDefault("runtime.backend", c.Runtime.Backend)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.concurrency", c.Server.Concurrency)
	v.SetDefault("tts.strategy", c.TTS.Strategy)
	v.SetDefault("tts.vocoder", c.TTS.Vocoder)
	v.SetDefault("tts.griffinlim_iters", c.TTS.GriffinLimIters)
	v.SetDefault("tts.sigma", c.TTS.Sigma)
	v.SetDefault("tts.gate_threshold", c.TTS.GateThreshold)
	v.SetDefault("tts.max_decoder_steps", c.TTS.MaxDecoderSteps)
	v.SetDefault("tts.seed", c.TTS.Seed)
	v.SetDefault("frames.mels", c.Frames.Mels)
	v.SetDefault("frames.fft_size", c.Frames.FFTSize)
	v.SetDefault("frames.hop_size", c.Frames.HopSize)
	v.SetDefault("frames.win_size", c.Frames.WinSize)
	v.SetDefault("frames.sample_rate", c.Frames.SampleRate)
	v.SetDefault("audio.normalize", c.Audio.Normalize)
	v.SetDefault("audio.fade_ms", c.Audio.FadeMs)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.generator_model", "paths-generator-model")
	v.RegisterAlias("paths.wavernn_model", "paths-wavernn-model")
	v.RegisterAlias("paths.waveglow_model", "paths-waveglow-model")
	v.RegisterAlias("paths.lexicon", "paths-lexicon")
	v.RegisterAlias("paths.onnx_generator", "paths-onnx-generator")
	v.RegisterAlias("paths.onnx_vocoder", "paths-onnx-vocoder")
	v.RegisterAlias("runtime.backend", "runtime-backend")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_api_version", "runtime-ort-api-version")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.concurrency", "server-concurrency")
	v.RegisterAlias("tts.strategy", "tts-strategy")
	v.RegisterAlias("tts.vocoder", "tts-vocoder")
	v.RegisterAlias("tts.griffinlim_iters", "tts-griffinlim-iters")
	v.RegisterAlias("tts.sigma", "tts-sigma")
	v.RegisterAlias("tts.gate_threshold", "tts-gate-threshold")
	v.RegisterAlias("tts.max_decoder_steps", "tts-max-decoder-steps")
	v.RegisterAlias("tts.seed", "tts-seed")
	v.RegisterAlias("frames.mels", "frames-mels")
	v.RegisterAlias("frames.fft_size", "frames-fft-size")
	v.RegisterAlias("frames.hop_size", "frames-hop-size")
	v.RegisterAlias("frames.win_size", "frames-win-size")
	v.RegisterAlias("frames.sample_rate", "frames-sample-rate")
	v.RegisterAlias("audio.normalize", "audio-normalize")
	v.RegisterAlias("audio.fade_ms", "audio-fade-ms")
	v.RegisterAlias("log_level", "log-level")
}
