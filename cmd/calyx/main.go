// Command calyx runs Calyx programs: scripts, one-shot expressions,
// or an interactive REPL when stdin is a terminal.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docopt/docopt-go"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/calyx/interp"
	"github.com/chazu/calyx/pkg/bytecode"
	"github.com/chazu/calyx/pkg/cache"
	"github.com/chazu/calyx/pkg/value"
)

const version = "0.1.0"

const usage = `calyx

Usage:
  calyx [options] [SCRIPT]
  calyx [options] -e SOURCE
  calyx -h | --help
  calyx -v | --version

Arguments:
  SCRIPT  Path to a .cx script. Without one, and with a TTY on stdin,
          calyx starts a REPL.

Options:
  -e, --eval=SOURCE   Evaluate SOURCE and print each result.
  -d, --disasm        Show bytecode instead of executing.
  -n, --no-cache      Skip the compile cache.
  --config=PATH       Config file path.
  -V, --verbose       Increase log verbosity (repeatable).
  -h, --help          Display this help.
  -v, --version       Print the calyx version.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		panic(err.Error())
	}

	configPath, _ := opts.String("--config")
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "calyx: bad config %s: %v\n", configPath, err)
		os.Exit(2)
	}

	verbosity := cfg.Log.Verbosity
	if n, _ := opts.Int("--verbose"); n > 0 {
		verbosity += n
	}
	commonlog.Configure(verbosity, nil)

	disasm, _ := opts.Bool("--disasm")
	noCache, _ := opts.Bool("--no-cache")
	source, _ := opts.String("--eval")
	script, _ := opts.String("SCRIPT")

	in := interp.New(os.Stdout)

	switch {
	case source != "":
		if disasm {
			os.Exit(runDisasm(in, source))
		}
		os.Exit(runEval(in, source, true))

	case script != "":
		text, err := os.ReadFile(script)
		if err != nil {
			fmt.Fprintf(os.Stderr, "calyx: %v\n", err)
			os.Exit(2)
		}
		if disasm {
			os.Exit(runDisasm(in, string(text)))
		}
		os.Exit(runScript(in, string(text), cfg, noCache))

	case isatty.IsTerminal(os.Stdin.Fd()):
		os.Exit(runRepl(in, cfg))

	default:
		text, err := readAllStdin()
		if err != nil {
			fmt.Fprintf(os.Stderr, "calyx: %v\n", err)
			os.Exit(2)
		}
		os.Exit(runEval(in, text, false))
	}
}

func readAllStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// runEval evaluates one unit, optionally printing each form's value.
func runEval(in *interp.Interp, source string, print bool) int {
	results, err := in.Eval(source)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, v := range results {
		if print {
			fmt.Println(value.Format(v))
		}
		in.Release(v)
	}
	return 0
}

// runScript evaluates a whole file, using the compile cache when
// enabled. Script values are discarded; output happens via print.
func runScript(in *interp.Interp, source string, cfg Config, noCache bool) int {
	var results []value.Value
	var err error

	if !noCache && cfg.Cache.Enabled && cfg.Cache.Path != "" {
		if c, cerr := openCache(cfg.Cache.Path); cerr == nil {
			defer c.Close()
			results, err = in.EvalCached(source, c)
		} else {
			results, err = in.Eval(source)
		}
	} else {
		results, err = in.Eval(source)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, v := range results {
		in.Release(v)
	}
	return 0
}

func openCache(path string) (*cache.Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return cache.Open(path)
}

// runDisasm compiles without executing and prints the bytecode.
func runDisasm(in *interp.Interp, source string) int {
	clauses, err := in.CompileOnly(source)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, c := range clauses {
		fmt.Print(bytecode.Disassemble(c.Chunk))
	}
	return 0
}
