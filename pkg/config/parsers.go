package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// holds parsed command-line flag values and which were set
type Flags struct {
	Addr     string
	Config   string
	Provider string
	Set      map[string]bool
}

// holds what the environment contributed
type EnvResult struct {
	EnvUsed bool
}

// holds the result of loadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	Source string // "flags", "config", or "env"
}

// parses command-line flags and returns them as a Flags struct
func ParseConfigFlags() Flags {
	return ParseConfigFlagSet(flag.CommandLine, os.Args[1:])
}

// parses args into fs; split out so tests can use their own flag set
func ParseConfigFlagSet(fs *flag.FlagSet, args []string) Flags {
	addrPtr := fs.String("addr", ":8080", "HTTP listen address")
	cfgPtr := fs.String("config", "./config.yaml", "Path to config file")
	providerPtr := fs.String("provider", DefaultProviderKind, "Model source: echo, openai or azure")
	_ = fs.Parse(args)

	// record which flags were set explicitly
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	return Flags{Addr: *addrPtr, Config: *cfgPtr, Provider: *providerPtr, Set: setFlags}
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// loads environment variables into a new Config and returns it with EnvResult; caller config is unchanged
func ParseConfigEnvs() (*Config, EnvResult) {
	// gather all relevant env variables
	envs := map[string]string{
		"ADDR":           os.Getenv("CHATRELAY_ADDR"),
		"SERVER_ADDRESS": os.Getenv("CHATRELAY_SERVER_ADDRESS"),
		"SERVER_PORT":    os.Getenv("CHATRELAY_SERVER_PORT"),
		"READ_TIMEOUT":   os.Getenv("CHATRELAY_READ_TIMEOUT"),
		"WRITE_TIMEOUT":  os.Getenv("CHATRELAY_WRITE_TIMEOUT"),
		"IDLE_TIMEOUT":   os.Getenv("CHATRELAY_IDLE_TIMEOUT"),
		"MAX_BODY_SIZE":  os.Getenv("CHATRELAY_MAX_BODY_SIZE"),
		"CORS_ORIGINS":   os.Getenv("CHATRELAY_CORS_ORIGINS"),
		"RATE_RPS":       os.Getenv("CHATRELAY_RATE_RPS"),
		"RATE_BURST":     os.Getenv("CHATRELAY_RATE_BURST"),
		"DEBUG_ROUTES":   os.Getenv("CHATRELAY_DEBUG_ROUTES"),

		// logging
		"LOG_LEVEL":  os.Getenv("CHATRELAY_LOG_LEVEL"),
		"LOG_FORMAT": os.Getenv("CHATRELAY_LOG_FORMAT"),
		"LOG_SINK":   os.Getenv("CHATRELAY_LOG_SINK"),

		// provider
		"PROVIDER":             os.Getenv("CHATRELAY_PROVIDER"),
		"PROVIDER_ENDPOINT":    os.Getenv("CHATRELAY_PROVIDER_ENDPOINT"),
		"PROVIDER_DEPLOYMENT":  os.Getenv("CHATRELAY_PROVIDER_DEPLOYMENT"),
		"PROVIDER_API_KEY":     os.Getenv("CHATRELAY_PROVIDER_API_KEY"),
		"PROVIDER_API_KEY_ENV": os.Getenv("CHATRELAY_PROVIDER_API_KEY_ENV"),
		"PROVIDER_API_VERSION": os.Getenv("CHATRELAY_PROVIDER_API_VERSION"),
		"PROVIDER_MODEL":       os.Getenv("CHATRELAY_PROVIDER_MODEL"),
		"PROVIDER_MAX_TOKENS":  os.Getenv("CHATRELAY_PROVIDER_MAX_TOKENS"),
		"SYSTEM_PROMPT":        os.Getenv("CHATRELAY_SYSTEM_PROMPT"),
		"ECHO_DELAY":           os.Getenv("CHATRELAY_ECHO_DELAY"),

		// relay
		"CHAT_PATH":     os.Getenv("CHATRELAY_CHAT_PATH"),
		"ERROR_MESSAGE": os.Getenv("CHATRELAY_ERROR_MESSAGE"),
	}

	envCfg := &Config{}
	envUsed := false
	for _, v := range envs {
		if v != "" {
			envUsed = true
			break
		}
	}

	// address may arrive as host:port or as separate parts
	if v := envs["ADDR"]; v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	}
	if v := envs["SERVER_ADDRESS"]; v != "" {
		envCfg.Server.Address = v
	}
	if v := envs["SERVER_PORT"]; v != "" {
		if pi, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envCfg.Server.Port = pi
		}
	}
	if v := envs["READ_TIMEOUT"]; v != "" {
		envCfg.Server.ReadTimeout = parseEnvDuration(v)
	}
	if v := envs["WRITE_TIMEOUT"]; v != "" {
		envCfg.Server.WriteTimeout = parseEnvDuration(v)
	}
	if v := envs["IDLE_TIMEOUT"]; v != "" {
		envCfg.Server.IdleTimeout = parseEnvDuration(v)
	}
	if v := envs["MAX_BODY_SIZE"]; v != "" {
		envCfg.Server.MaxBodySize = parseEnvSizeBytes(v)
	}
	if v := envs["CORS_ORIGINS"]; v != "" {
		envCfg.Server.CORS.AllowedOrigins = parseList(v)
	}
	if v := envs["RATE_RPS"]; v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envCfg.Server.RateLimit.RPS = f
		}
	}
	if v := envs["RATE_BURST"]; v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envCfg.Server.RateLimit.Burst = n
		}
	}
	if v := envs["DEBUG_ROUTES"]; v != "" {
		b := parseBool(v, true)
		envCfg.Server.DebugRoutes = &b
	}

	envCfg.Logging.Level = strings.TrimSpace(envs["LOG_LEVEL"])
	envCfg.Logging.Format = strings.ToLower(strings.TrimSpace(envs["LOG_FORMAT"]))
	envCfg.Logging.Sink = strings.TrimSpace(envs["LOG_SINK"])

	envCfg.Provider.Kind = strings.ToLower(strings.TrimSpace(envs["PROVIDER"]))
	envCfg.Provider.Endpoint = strings.TrimSpace(envs["PROVIDER_ENDPOINT"])
	envCfg.Provider.Deployment = strings.TrimSpace(envs["PROVIDER_DEPLOYMENT"])
	envCfg.Provider.APIKey = strings.TrimSpace(envs["PROVIDER_API_KEY"])
	envCfg.Provider.APIKeyEnv = strings.TrimSpace(envs["PROVIDER_API_KEY_ENV"])
	envCfg.Provider.APIVersion = strings.TrimSpace(envs["PROVIDER_API_VERSION"])
	envCfg.Provider.Model = strings.TrimSpace(envs["PROVIDER_MODEL"])
	if v := envs["PROVIDER_MAX_TOKENS"]; v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envCfg.Provider.MaxTokens = n
		}
	}
	if v, ok := os.LookupEnv("CHATRELAY_SYSTEM_PROMPT"); ok {
		envCfg.Provider.SystemPrompt = &v
	}
	if v := envs["ECHO_DELAY"]; v != "" {
		envCfg.Provider.EchoDelay = parseEnvDuration(v)
	}

	envCfg.Relay.ChatPath = strings.TrimSpace(envs["CHAT_PATH"])
	envCfg.Relay.ErrorMessage = envs["ERROR_MESSAGE"]

	return envCfg, EnvResult{EnvUsed: envUsed}
}

func parseList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func parseEnvDuration(v string) Duration {
	d, err := parseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func parseEnvSizeBytes(v string) SizeBytes {
	s, err := parseSizeBytes(v)
	if err != nil {
		return 0
	}
	return s
}

// decides which single source to use (config file or env) and returns the effective config plus resolved addr.
// if --config is set, only the config file is used; otherwise the config file if present, else env.
// explicitly set flags are laid over whichever source won.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	switch {
	case flags.Set["config"]:
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Source = "config"
	case fileExists:
		res.Config = fileCfg
		res.Source = "config"
	default:
		if envCfg == nil {
			envCfg = &Config{}
		}
		res.Config = envCfg
		res.Source = "env"
	}

	if flags.Set["addr"] || flags.Set["provider"] {
		if flags.Set["addr"] {
			host, port, err := splitAddr(flags.Addr)
			if err != nil {
				return res, err
			}
			res.Config.Server.Address = host
			res.Config.Server.Port = port
		}
		if flags.Set["provider"] {
			res.Config.Provider.Kind = strings.ToLower(strings.TrimSpace(flags.Provider))
		}
		res.Source = "flags+" + res.Source
	}

	res.Addr = res.Config.Addr()
	return res, nil
}

// splits host:port for the --addr flag; an empty host means every interface
func splitAddr(a string) (string, int, error) {
	h, p, err := net.SplitHostPort(a)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --addr %q: %w", a, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --addr port %q", p)
	}
	if h == "" {
		h = DefaultAddress
	}
	return h, port, nil
}
