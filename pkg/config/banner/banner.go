package banner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"chatrelay/pkg/config"
	"chatrelay/pkg/provider"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║     ███████║███████║   ██║   ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██║     ██╔══██║██╔══██║   ██║   ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
╚██████╗██║  ██║██║  ██║   ██║   ██║  ██║███████╗███████╗██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`

// PrintWithEff prints the banner using an EffectiveConfigResult which
// provides richer context (config, addr, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	Fprint(os.Stdout, eff, version)
}

// Fprint writes the banner and config overview to w.
func Fprint(w io.Writer, eff config.EffectiveConfigResult, version string) {
	var addr = eff.Addr
	if eff.Config != nil {
		addr = eff.Config.Addr()
	}
	var src = eff.Source
	if src == "" {
		src = "flags"
	}
	cfg := eff.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", addr)
	fmt.Fprintf(w, "Chat:     POST %s\n", cfg.Relay.ChatPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config: %s\n", src)

	fmt.Fprintln(w, "\n== Production? =================================================")
	p := cfg.Provider
	switch p.Kind {
	case provider.KindAzure:
		fmt.Fprintf(w, "- Provider: azure (deployment %s)\n", p.Deployment)
	case provider.KindOpenAI:
		model := p.Model
		if model == "" {
			model = "default model"
		}
		fmt.Fprintf(w, "- Provider: openai (%s)\n", model)
	default:
		fmt.Fprintln(w, "- Provider: echo (development only, replies repeat the user)")
	}
	if p.Kind != provider.KindEcho && p.Kind != "" {
		switch {
		case strings.TrimSpace(p.APIKey) != "":
			fmt.Fprintln(w, "- API key: OK (config)")
		case p.APIKeyEnv != "" && os.Getenv(p.APIKeyEnv) != "":
			fmt.Fprintf(w, "- API key: OK (%s)\n", p.APIKeyEnv)
		default:
			fmt.Fprintln(w, "- API key: from provider default env")
		}
	}

	if n := len(cfg.Server.CORS.AllowedOrigins); n > 0 {
		fmt.Fprintf(w, "- CORS: %d origin(s)\n", n)
	} else {
		fmt.Fprintln(w, "- CORS: no origins allowed (browser clients blocked)")
	}
	if rl := cfg.Server.RateLimit; rl.RPS > 0 {
		fmt.Fprintf(w, "- Rate limit: %.1f rps, burst %d per client\n", rl.RPS, rl.Burst)
	} else {
		fmt.Fprintln(w, "- Rate limit: disabled")
	}
	fmt.Fprintf(w, "- Max request body: %s\n", cfg.Server.MaxBodySize)
	if cfg.DebugRoutes() {
		fmt.Fprintln(w, "- Debug routes: enabled (/debug/prometheus, /debug/pprof)")
	} else {
		fmt.Fprintln(w, "- Debug routes: disabled")
	}
	fmt.Fprintln(w)
}
