package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Phala-Network/sidevm-quickjs/internal/bridge"
	"github.com/Phala-Network/sidevm-quickjs/internal/config"
	"github.com/Phala-Network/sidevm-quickjs/internal/logging"
	"github.com/Phala-Network/sidevm-quickjs/internal/monitoring"
	"github.com/Phala-Network/sidevm-quickjs/internal/sandbox"
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	sources, scriptArgs, dev, err := parseArgs(argv[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		return 2
	}

	cfg := config.LoadOrDefault()
	if dev {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		logger = logging.NewDefault()
	}
	defer logger.Sync()

	metrics := monitoring.New(prometheus.DefaultRegisterer)

	hostBridge := bridge.New(bridge.Config{
		DefaultTimeout:    cfg.HTTP.DefaultTimeout(),
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
		MaxResponseBytes:  cfg.HTTP.MaxResponseBytes,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Retries:           cfg.HTTP.Retries,
		UserAgent:         cfg.HTTP.UserAgent,
	}, logger)

	source, err := readSource(sources)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	sb, err := sandbox.New(sandbox.Config{
		Deadline:                cfg.Sandbox.Deadline(),
		MemoryCeiling:           cfg.Sandbox.MemoryCeilingBytes,
		MaxConcurrentAsyncCalls: cfg.Sandbox.MaxConcurrentAsyncCalls,
		AllowedOrigins:          cfg.Sandbox.AllowedOrigins,
		MinTimerDelay:           cfg.Sandbox.MinTimerDelay(),
		MaxCallStackSize:        cfg.Sandbox.MaxCallStackSize,
		EnableConsole:           true,
		Logger:                  logger,
		Metrics:                 metrics,
	}, hostBridge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create sandbox: %v\n", err)
		return 1
	}

	if err := sb.VM().Set("scriptArgs", scriptArgs); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set scriptArgs: %v\n", err)
		return 1
	}

	result := sb.Evaluate(context.Background(), source)
	if result.Outcome != sandbox.OutcomeCompleted {
		fmt.Fprintf(os.Stderr, "%s: %v\n", result.Outcome, result.Err)
		return 1
	}

	printValue(result.Value)
	return 0
}

// parseArgs splits the command line into script sources, script-visible
// arguments, and flags.
func parseArgs(args []string) (sources []scriptSource, scriptArgs []string, dev bool, err error) {
	i := 0
	for i < len(args) {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			sources = append(sources, scriptSource{path: arg})
			i++
			continue
		}
		switch arg {
		case "--":
			scriptArgs = args[i+1:]
			return sources, scriptArgs, dev, nil
		case "-c":
			if i+1 >= len(args) {
				return nil, nil, false, fmt.Errorf("missing code after -c")
			}
			sources = append(sources, scriptSource{inline: args[i+1]})
			i += 2
		case "-dev":
			dev = true
			i++
		default:
			return nil, nil, false, fmt.Errorf("unknown option: %s", arg)
		}
	}
	return sources, scriptArgs, dev, nil
}

type scriptSource struct {
	path   string // file path, empty for inline
	inline string
}

// readSource concatenates the requested scripts, falling back to stdin.
func readSource(sources []scriptSource) (string, error) {
	if len(sources) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read script from stdin: %w", err)
		}
		return string(data), nil
	}

	var sb strings.Builder
	for _, src := range sources {
		if src.path == "" {
			sb.WriteString(src.inline)
		} else {
			data, err := os.ReadFile(src.path)
			if err != nil {
				return "", fmt.Errorf("failed to read script file: %w", err)
			}
			sb.Write(data)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// printValue writes the completion value to stdout: strings verbatim,
// everything else as JSON.
func printValue(v interface{}) {
	switch val := v.(type) {
	case nil:
		return
	case string:
		fmt.Println(val)
	case []byte:
		fmt.Printf("0x%x\n", val)
	default:
		out, err := sonic.MarshalString(val)
		if err != nil {
			fmt.Println(val)
			return
		}
		fmt.Println(out)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: sidejs [options] [script..] [-- [args]]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Options:")
	fmt.Fprintln(os.Stderr, "  -c <code>  Evaluate code")
	fmt.Fprintln(os.Stderr, "  -dev       Colored debug logging")
	fmt.Fprintln(os.Stderr, "  --         Stop processing options")
}
