package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/plantctl/internal/config"
	"github.com/mattjoyce/plantctl/internal/doctor"
)

// loadConfig loads path, or the first discovered config when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(stderr, "Using discovered config: %s\n", discovered)
		path = discovered
	}
	return config.Load(path)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp()
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp()
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	case "get":
		return runConfigGet(actionArgs)
	case "doctor":
		return runConfigDoctor(actionArgs)
	default:
		fmt.Fprintf(stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp() {
	fmt.Fprint(stderr, `Usage: plantctl config <check|show|get|doctor> [flags]

Actions:
  check             Validate a configuration file and print its digest
  show              Print the effective configuration with defaults applied
  get <path>        Read one value by dot path or type:name address
  doctor            Check the device, lock, trace path and timing on this host

Flags:
  --config PATH     Configuration file (default: discovered)
  --json            JSON output (show, get, doctor)
  --url URL         check: compare against the digest of a running loop
`)
}

func runConfigCheck(args []string) int {
	fs := newFlagSet("config check")
	configPath := fs.String("config", "", "Path to configuration file")
	url := fs.String("url", "", "Compare against the digest of the loop serving this API")
	apiKey := fs.String("api-key", "", "Bearer key for --url")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Config invalid: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "OK %s\n", cfg.SourcePath)
	fmt.Fprintf(stdout, "digest: %s\n", cfg.Digest)
	fmt.Fprintf(stdout, "channels: %d sensors, %d actuators\n", len(cfg.Channels.Sensors), len(cfg.Channels.Actuators))
	fmt.Fprintf(stdout, "strategies: %d\n", len(cfg.Strategies))

	if *url == "" {
		return 0
	}
	remote := remoteFlags{url: url, apiKey: apiKey}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reg, err := c.Registry(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read registry: %v\n", err)
		return 1
	}
	if reg.Digest != cfg.Digest {
		fmt.Fprintf(stderr, "Running loop %s uses a different config (digest %s)\n", reg.RunID, reg.Digest)
		return 1
	}
	fmt.Fprintf(stdout, "running loop %s uses this config\n", reg.RunID)
	return 0
}

func runConfigDoctor(args []string) int {
	fs := newFlagSet("config doctor")
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	strict := fs.Bool("strict", false, "Treat warnings as failures")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Config invalid: %v\n", err)
		return 1
	}
	result := doctor.New(cfg).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	} else {
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}

	if !result.Valid || (*strict && len(result.Warnings) > 0) {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := newFlagSet("config show")
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Load error: %v\n", err)
		return 1
	}

	var result any = cfg
	if fs.NArg() > 0 {
		res, err := cfg.GetPath(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		result = res
	}
	return printValue(result, *jsonOut, true)
}

func runConfigGet(args []string) int {
	fs := newFlagSet("config get")
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: plantctl config get <path> [--json]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	val, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printValue(val, *jsonOut, false)
}

// printValue writes v as JSON or YAML. Scalars print bare unless asYAML.
func printValue(v any, jsonOut, asYAML bool) int {
	if jsonOut {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}
	if !asYAML && isScalar(v) {
		fmt.Fprintf(stdout, "%v\n", v)
		return 0
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to render YAML: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, string(data))
	return 0
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, uint64, float64:
		return true
	default:
		return false
	}
}
