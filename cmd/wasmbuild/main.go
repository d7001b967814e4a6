// wasmbuild compiles a Rust workspace to WebAssembly, derives the
// disassembled, stripped, bytecode and precompiled forms of the module, and
// records them with their digests under artifacts/<arch>/<timestamp>/.
//
// Usage:
//
//	wasmbuild [build] [flags]
//	wasmbuild verify [--public-key file] <dir>
//	wasmbuild keygen <dir>
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-build/config"
	"github.com/wippyai/wasm-build/derive"
	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/pipeline"
	"github.com/wippyai/wasm-build/provenance"
)

// version is set at link time.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(errors.ExitCoder); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "--version" {
		fmt.Println("wasmbuild", version)
		return nil
	}

	sub := "build"
	if len(args) > 0 {
		switch args[0] {
		case "build", "verify", "keygen":
			sub, args = args[0], args[1:]
		}
	}

	switch sub {
	case "verify":
		return runVerify(args)
	case "keygen":
		return runKeygen(args)
	}
	return runBuild(args)
}

type buildFlags struct {
	configPath        string
	manifestPath      string
	targetDir         string
	outputRoot        string
	workDir           string
	signingKey        string
	features          []string
	stackSize         uint64
	parallelism       int
	noDefaultFeatures bool
	interactive       bool
	verbose           bool
}

func runBuild(args []string) error {
	var f buildFlags
	flagSet := pflag.NewFlagSet("wasmbuild", pflag.ContinueOnError)
	flagSet.StringVar(&f.configPath, "config", "", "configuration file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&f.manifestPath, "manifest-path", "", "workspace Cargo.toml")
	flagSet.StringVar(&f.targetDir, "target-dir", "", "cargo target directory")
	flagSet.StringVar(&f.outputRoot, "output-root", "", "directory receiving artifacts/<arch>/<timestamp>")
	flagSet.StringVar(&f.workDir, "work-dir", "", "directory for derived artifacts (default: <target-dir>/wasmbuild)")
	flagSet.StringVar(&f.signingKey, "signing-key", "", "Ed25519 private key used to sign the build record")
	flagSet.StringSliceVar(&f.features, "features", nil, "cargo features to enable")
	flagSet.BoolVar(&f.noDefaultFeatures, "no-default-features", false, "disable the default cargo features")
	flagSet.Uint64Var(&f.stackSize, "stack-size", 0, "linker stack size in bytes")
	flagSet.IntVar(&f.parallelism, "parallelism", 0, "concurrent derivation stages (0: unbounded)")
	flagSet.BoolVarP(&f.interactive, "interactive", "i", false, "show build progress in a terminal UI")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "development logging at debug level")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return errors.InvalidInput(errors.PhaseConfig, "unexpected argument: "+flagSet.Arg(0))
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	f.apply(flagSet, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	interactive := f.interactive && term.IsTerminal(int(os.Stdout.Fd()))
	logOutput := io.Writer(os.Stderr)
	if interactive {
		// Log lines would tear the terminal UI.
		logOutput = io.Discard
	}
	logger := newLogger(f.verbose, logOutput)
	defer func() { _ = logger.Sync() }()
	derive.SetLogger(logger.Named("derive"))
	pipeline.SetLogger(logger.Named("pipeline"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New()
	opts, err := pipeline.OptionsFromConfig(cfg, p.Runner)
	if err != nil {
		return err
	}

	if interactive {
		return runInteractive(ctx, p, opts)
	}

	opts.Stdout, opts.Stderr = os.Stderr, os.Stderr
	res, err := p.Run(ctx, opts)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, res)
	return nil
}

// apply overrides configuration values with the flags given explicitly.
func (f *buildFlags) apply(flagSet *pflag.FlagSet, cfg *config.Config) {
	set := flagSet.Changed
	if set("manifest-path") {
		cfg.ManifestPath = f.manifestPath
	}
	if set("target-dir") {
		cfg.TargetDir = f.targetDir
	}
	if set("output-root") {
		cfg.OutputRoot = f.outputRoot
	}
	if set("work-dir") {
		cfg.WorkDir = f.workDir
	}
	if set("signing-key") {
		cfg.Signing.KeyFile = f.signingKey
	}
	if set("features") {
		cfg.Features = f.features
	}
	if set("no-default-features") {
		cfg.NoDefaultFeatures = f.noDefaultFeatures
	}
	if set("stack-size") {
		cfg.StackSize = f.stackSize
	}
	if set("parallelism") {
		cfg.Parallelism = f.parallelism
	}
}

func newLogger(verbose bool, out io.Writer) *zap.Logger {
	var encoderConfig zapcore.EncoderConfig
	var encoder zapcore.Encoder
	level := zapcore.InfoLevel
	if verbose {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
		level = zapcore.DebugLevel
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	return zap.New(core)
}

func printSummary(w io.Writer, res *pipeline.Result) {
	for _, o := range res.Report.Outcomes {
		if o.Status == derive.Produced {
			continue
		}
		fmt.Fprintf(w, "%-14s %s", o.Stage, o.Status)
		if o.Reason != "" {
			fmt.Fprintf(w, ": %s", o.Reason)
		}
		fmt.Fprintln(w)
	}
	for _, d := range res.Record.Record.Digests {
		fmt.Fprintf(w, "%s  %s\n", d.Hex, d.Name)
	}
	signed := ""
	if res.Record.Signed {
		signed = " (signed)"
	}
	fmt.Fprintf(w, "recorded %s%s\n", res.Record.Dir, signed)
}

func runVerify(args []string) error {
	var publicKeyPath string
	flagSet := pflag.NewFlagSet("wasmbuild verify", pflag.ContinueOnError)
	flagSet.StringVar(&publicKeyPath, "public-key", "", "Ed25519 public key; requires a valid signature")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.InvalidInput(errors.PhaseVerify, "usage: wasmbuild verify [--public-key file] <dir>")
	}
	dir := flagSet.Arg(0)

	var publicKey ed25519.PublicKey
	if publicKeyPath != "" {
		key, err := provenance.LoadPublicKey(publicKeyPath)
		if err != nil {
			return err
		}
		publicKey = key
	}

	v, err := provenance.Verify(dir, publicKey)
	if err != nil {
		return err
	}
	for _, p := range v.Problems {
		fmt.Println(p)
	}
	if !v.OK() {
		return errors.New(errors.PhaseVerify, errors.KindInvalidData).
			Subject(dir).
			Detail("%d problem(s) found", len(v.Problems)).
			Build()
	}
	fmt.Printf("%s: %d file(s) verified\n", dir, len(v.Record.Digests))
	return nil
}

func runKeygen(args []string) error {
	flagSet := pflag.NewFlagSet("wasmbuild keygen", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.InvalidInput(errors.PhaseSign, "usage: wasmbuild keygen <dir>")
	}
	dir := flagSet.Arg(0)
	public, private, err := provenance.GenerateKey()
	if err != nil {
		return err
	}
	if err := provenance.SaveKey(dir, public, private); err != nil {
		return err
	}
	fmt.Printf("wrote %s and %s to %s\n", provenance.PrivateKeyFile, provenance.PublicKeyFile, dir)
	return nil
}
