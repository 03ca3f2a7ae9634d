package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/coder/websocket"
	"github.com/urfave/cli/v3"

	"github.com/aetherius/gcs-realtime/internal/history"
	"github.com/aetherius/gcs-realtime/internal/logcodec"
)

// DoctorCommand returns the CLI command definition for the 'doctor' subcommand.
// This command runs diagnostic checks against the effective configuration.
func DoctorCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose common setup and configuration issues",
		Description: `Run checks to verify gcs-realtime can reach the backend.

This command checks:
  - Binary location and permissions
  - MCP agent configuration
  - Log template file
  - Backend realtime stream (WebSocket)
  - Backend historical API

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Flags: connectionFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDoctorWithEnv(ctx, version, cfg, &realEnv{}, os.Stdout)
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
	IsCritical bool
}

// doctorEnv is everything the checks touch outside the process.
type doctorEnv interface {
	Executable() (string, error)
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	UserHomeDir() (string, error)
	Getwd() (string, error)
	DialStream(ctx context.Context, url string) error
	FetchHistory(ctx context.Context, baseURL string) (int, error)
}

type realEnv struct{}

func (r *realEnv) Executable() (string, error)           { return os.Executable() }
func (r *realEnv) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (r *realEnv) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }
func (r *realEnv) UserHomeDir() (string, error)          { return os.UserHomeDir() }
func (r *realEnv) Getwd() (string, error)                { return os.Getwd() }

func (r *realEnv) DialStream(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	return conn.Close(websocket.StatusNormalClosure, "doctor")
}

func (r *realEnv) FetchHistory(ctx context.Context, baseURL string) (int, error) {
	client, err := history.NewClient(history.Config{BaseURL: baseURL})
	if err != nil {
		return 0, err
	}
	records, err := client.FetchLogs(ctx, 0, 0)
	return len(records), err
}

const doctorProbeTimeout = 5 * time.Second

func runDoctorWithEnv(ctx context.Context, version string, cfg *Config, env doctorEnv, out io.Writer) error {
	fmt.Fprintf(out, "🔍 gcs-realtime doctor v%s\n\n", version)

	checks := []func(ctx context.Context, cfg *Config, env doctorEnv) checkResult{
		checkBinaryLocation,
		checkMCPConfig,
		checkTemplates,
		checkStream,
		checkHistoryAPI,
	}

	results := make([]checkResult, 0, len(checks))
	for _, check := range checks {
		result := check(ctx, cfg, env)
		results = append(results, result)
		printCheckResult(out, result)
	}

	fmt.Fprintln(out)
	summary := summarizeResults(results)
	printSummary(out, summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}

	return nil
}

func printCheckResult(out io.Writer, result checkResult) {
	var icon string
	switch result.Status {
	case "pass":
		icon = "✓"
	case "warn":
		icon = "⚠"
	case "fail":
		icon = "✗"
	}

	fmt.Fprintf(out, "%s %s\n", icon, result.Message)

	if result.Suggestion != "" {
		fmt.Fprintf(out, "  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func summarizeResults(results []checkResult) resultSummary {
	var summary resultSummary
	for _, r := range results {
		switch r.Status {
		case "pass":
			summary.PassCount++
		case "warn":
			summary.WarnCount++
		case "fail":
			summary.FailCount++
		}
	}
	return summary
}

func printSummary(out io.Writer, summary resultSummary) {
	if summary.FailCount > 0 {
		fmt.Fprintf(out, "❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Fprintf(out, "⚠️  %d warning(s)\n", summary.WarnCount)
		}
	} else if summary.WarnCount > 0 {
		fmt.Fprintf(out, "✅ All critical checks passed!\n")
		fmt.Fprintf(out, "⚠️  %d optional warning(s)\n", summary.WarnCount)
		fmt.Fprintf(out, "💡 Run 'gcs-realtime serve --verbose' to start the server\n")
	} else {
		fmt.Fprintf(out, "✅ All checks passed!\n")
		fmt.Fprintf(out, "💡 Run 'gcs-realtime serve --verbose' to start the server\n")
	}
}

// Check 1: Binary location and permissions
func checkBinaryLocation(_ context.Context, _ *Config, env doctorEnv) checkResult {
	executable, err := env.Executable()
	if err != nil {
		return checkResult{
			Name:       "binary_location",
			Status:     "fail",
			Message:    "Could not determine binary location",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	absPath, err := filepath.Abs(executable)
	if err != nil {
		absPath = executable
	}

	info, err := env.Stat(executable)
	if err != nil || info == nil {
		return checkResult{
			Name:       "binary_location",
			Status:     "fail",
			Message:    fmt.Sprintf("Could not stat binary %s", absPath),
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}
	if info.Mode()&0111 == 0 {
		return checkResult{
			Name:       "binary_location",
			Status:     "fail",
			Message:    "Binary is not executable",
			Suggestion: fmt.Sprintf("Run: chmod +x %s", absPath),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    "binary_location",
		Status:  "pass",
		Message: fmt.Sprintf("Binary location: %s", absPath),
	}
}

// Check 2: MCP agent configuration
func checkMCPConfig(_ context.Context, _ *Config, env doctorEnv) checkResult {
	configPath := getMCPConfigPath(env)
	allPaths := getMCPConfigPaths(env)

	if _, err := env.Stat(configPath); err != nil {
		executable, _ := env.Executable()
		absPath, _ := filepath.Abs(executable)

		locationsList := ""
		for _, p := range allPaths {
			locationsList += fmt.Sprintf("  - %s\n", p)
		}

		return checkResult{
			Name:    "mcp_config",
			Status:  "warn",
			Message: "MCP agent config not found",
			Suggestion: fmt.Sprintf(`Checked:
%s
  Example config:
  {
    "mcpServers": {
      "gcs-realtime": {
        "command": "%s",
        "args": ["serve"]
      }
    }
  }`, locationsList, absPath),
		}
	}

	data, err := env.ReadFile(configPath)
	if err != nil {
		return checkResult{
			Name:       "mcp_config",
			Status:     "fail",
			Message:    "Could not read MCP config",
			Suggestion: fmt.Sprintf("Error reading %s: %v", configPath, err),
			IsCritical: true,
		}
	}

	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		return checkResult{
			Name:       "mcp_config",
			Status:     "fail",
			Message:    "MCP config is not valid JSON",
			Suggestion: fmt.Sprintf("Error parsing %s: %v", configPath, err),
			IsCritical: true,
		}
	}

	servers, _ := config["mcpServers"].(map[string]any)
	entry, ok := servers["gcs-realtime"].(map[string]any)
	if !ok {
		return checkResult{
			Name:       "mcp_config",
			Status:     "warn",
			Message:    fmt.Sprintf("MCP config found: %s", configPath),
			Suggestion: "Config does not contain a 'gcs-realtime' server entry",
		}
	}

	configured, _ := entry["command"].(string)
	executable, _ := env.Executable()
	absExecutable, _ := filepath.Abs(executable)
	if configured != "" && configured != absExecutable {
		return checkResult{
			Name:    "mcp_config",
			Status:  "warn",
			Message: fmt.Sprintf("MCP config found: %s", configPath),
			Suggestion: fmt.Sprintf("Config path (%s) differs from current binary (%s)",
				configured, absExecutable),
		}
	}

	return checkResult{
		Name:    "mcp_config",
		Status:  "pass",
		Message: fmt.Sprintf("MCP config found: %s", configPath),
	}
}

// Check 3: Log templates
func checkTemplates(_ context.Context, cfg *Config, env doctorEnv) checkResult {
	if cfg.TemplatesFile == "" {
		return checkResult{
			Name:       "templates",
			Status:     "warn",
			Message:    "No log template file configured",
			Suggestion: "Logs will show raw identifiers. Set templates_file or pass --templates.",
		}
	}

	if _, err := env.Stat(cfg.TemplatesFile); err != nil {
		return checkResult{
			Name:       "templates",
			Status:     "fail",
			Message:    fmt.Sprintf("Template file not found: %s", cfg.TemplatesFile),
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	templates, err := logcodec.LoadTemplateFile(cfg.TemplatesFile)
	if err != nil {
		return checkResult{
			Name:       "templates",
			Status:     "fail",
			Message:    "Template file does not parse",
			Suggestion: err.Error(),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    "templates",
		Status:  "pass",
		Message: fmt.Sprintf("Loaded %d log templates from %s", len(templates), cfg.TemplatesFile),
	}
}

// Check 4: Realtime stream
func checkStream(ctx context.Context, cfg *Config, env doctorEnv) checkResult {
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	if err := env.DialStream(ctx, cfg.WebSocketURL); err != nil {
		return checkResult{
			Name:       "stream",
			Status:     "fail",
			Message:    fmt.Sprintf("Cannot open realtime stream %s", cfg.WebSocketURL),
			Suggestion: fmt.Sprintf("Is the backend running? Error: %v", err),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    "stream",
		Status:  "pass",
		Message: fmt.Sprintf("Realtime stream reachable: %s", cfg.WebSocketURL),
	}
}

// Check 5: Historical API
func checkHistoryAPI(ctx context.Context, cfg *Config, env doctorEnv) checkResult {
	if cfg.APIURL == "" {
		return checkResult{
			Name:       "history",
			Status:     "warn",
			Message:    "No backend API configured",
			Suggestion: "Logs will not be backfilled after reconnecting. Set api_url or pass --api-url.",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	n, err := env.FetchHistory(ctx, cfg.APIURL)
	if err != nil {
		return checkResult{
			Name:       "history",
			Status:     "fail",
			Message:    fmt.Sprintf("Historical log fetch from %s failed", cfg.APIURL),
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    "history",
		Status:  "pass",
		Message: fmt.Sprintf("Historical API reachable: %d log records", n),
	}
}

// getMCPConfigPaths returns possible MCP config file paths for various agents
func getMCPConfigPaths(env doctorEnv) []string {
	homeDir, err := env.UserHomeDir()
	if err != nil {
		return nil
	}

	cwd, _ := env.Getwd()

	var paths []string

	// Project-level configs first
	if cwd != "" {
		paths = append(paths,
			filepath.Join(cwd, ".mcp.json"),
			filepath.Join(cwd, ".gemini", "settings.json"),
		)
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		paths = append(paths, filepath.Join(appData, "Claude", "claude_desktop_config.json"))
	case "darwin":
		paths = append(paths, filepath.Join(homeDir, "Library", "Application Support", "Claude", "claude_desktop_config.json"))
	default:
		paths = append(paths, filepath.Join(homeDir, ".config", "Claude", "claude_desktop_config.json"))
	}

	return paths
}

// getMCPConfigPath returns the first existing MCP config file path
func getMCPConfigPath(env doctorEnv) string {
	paths := getMCPConfigPaths(env)
	for _, path := range paths {
		if _, err := env.Stat(path); err == nil {
			return path
		}
	}
	if len(paths) > 0 {
		return paths[0]
	}
	return ""
}
