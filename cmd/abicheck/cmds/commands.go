package cmds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tuiwidgets/abicheck/pkg/config"
	"github.com/tuiwidgets/abicheck/pkg/demangle"
	"github.com/tuiwidgets/abicheck/pkg/elfsym"
	"github.com/tuiwidgets/abicheck/pkg/locator"
	"github.com/tuiwidgets/abicheck/pkg/logflags"
	"github.com/tuiwidgets/abicheck/pkg/policy"
	"github.com/tuiwidgets/abicheck/pkg/probe"
	"github.com/tuiwidgets/abicheck/pkg/probe/classify"
	"github.com/tuiwidgets/abicheck/pkg/report"
	"github.com/tuiwidgets/abicheck/pkg/toolchain"
	"github.com/tuiwidgets/abicheck/pkg/version"
)

// Exit statuses.
const (
	exitOK         = 0
	exitViolations = 1
	exitFatal      = 2
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath is the configuration file given with --config.
	configPath string
	// colorMode selects colored diagnostics.
	colorMode string
	// timeout bounds the whole run, zero means no limit.
	timeout time.Duration

	// symbols flags
	projectRoot    string
	systemIncludes []string
	locatorBackend string
	resolver       string
	debuginfodFlag bool
	summary        bool

	// special-members flags
	cxx      string
	cxxflags string
	sources  []string
	libs     []string
	output   string
	runner   string
	keep     bool

	// probe-gen flags
	genOutput string

	// config flags
	defaultConfig bool
	writeConfig   string

	// version flags
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const abicheckCommandLongDesc = `abicheck verifies the ABI hygiene of a versioned C++ shared library.

The symbols command checks that every symbol exported by the library carries
a version tag starting with the library's prefix, unless it can be attributed
to a system header or to compiler generated data.

The special-members command compiles and runs a probe program against the
library to check that the special member functions of every ABI relevant
class are defined out of line.

Exit status is 0 when the library passes, 1 when violations were found and 2
on errors that prevented the check from completing.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Main abicheck root command.
	rootCommand = &cobra.Command{
		Use:           "abicheck",
		Short:         "abicheck verifies symbol versioning and special members of C++ shared libraries.",
		Long:          abicheckCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logflags.Setup(log, logOutput, logDest); err != nil {
				return err
			}
			var err error
			conf, err = config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("color") {
				conf.Color = colorMode
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
	}

	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default .abicheck.yml or $XDG_CONFIG_HOME/abicheck/config.yml).")
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'abicheck help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'abicheck help log').")
	rootCommand.PersistentFlags().StringVar(&colorMode, "color", "auto", "Colored diagnostics: auto, always or never.")
	rootCommand.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Abort the run after this duration.")

	// 'symbols' subcommand.
	symbolsCommand := &cobra.Command{
		Use:   "symbols <library> [<version-prefix>]",
		Short: "Check symbol versioning of a shared library.",
		Long: `Check symbol versioning of a shared library.

Every defined, non local dynamic symbol of the library is resolved to the
source file it was compiled from:

	own sources	the symbol must carry a version starting with <version-prefix>
	system headers	the symbol must be weak
	unresolved	the symbol must be a weak or unique data object matching
			an exemption (vtables, typeinfo, ...) or be versioned
	anything else	always a violation

The version prefix defaults to version-prefix of the configuration file.
All violations are printed before abicheck exits.`,
		Args: cobra.RangeArgs(1, 2),
		Run:  symbolsCmd,
	}
	symbolsCommand.Flags().StringVar(&projectRoot, "project-root", "", "Directory holding the library's sources (default from config or working directory).")
	symbolsCommand.Flags().StringArrayVar(&systemIncludes, "system-include", nil, "Directory holding system headers, can be repeated (default /usr/include).")
	symbolsCommand.Flags().StringVar(&locatorBackend, "locator", "", "Source locator backend: addr2line or dwarf.")
	symbolsCommand.Flags().StringVar(&resolver, "resolver", "", `Resolver command of the addr2line backend, {binary}, {symbol} and {address} are substituted.`)
	symbolsCommand.Flags().BoolVar(&debuginfodFlag, "debuginfod", false, "Download missing debug info with debuginfod-find (dwarf backend).")
	symbolsCommand.Flags().BoolVar(&summary, "summary", false, "Print a summary table.")
	rootCommand.AddCommand(symbolsCommand)

	// 'special-members' subcommand.
	specialMembersCommand := &cobra.Command{
		Use:   "special-members",
		Short: "Check that special members of library classes are defined out of line.",
		Long: `Compiles the probe program, runs it and checks that every special member
it expects is imported from the library.

The probe prints one CLASS record per class, one EXPECT record per special
member and ERROR records for inconsistencies it detects itself. Expected
members the probe does not import are reported as missing unless the class
is of kind Inline. Use 'abicheck probe-gen' to generate a probe.`,
		Args: cobra.NoArgs,
		Run:  specialMembersCmd,
	}
	specialMembersCommand.Flags().StringVar(&cxx, "cxx", "", "C++ compiler command (default from config or c++).")
	specialMembersCommand.Flags().StringVar(&cxxflags, "cxxflags", "", "Flags passed to the compiler, single quotes group words.")
	specialMembersCommand.Flags().StringArrayVar(&sources, "source", nil, "Probe source file, can be repeated.")
	specialMembersCommand.Flags().StringArrayVar(&libs, "lib", nil, "Library or linker argument appended after the sources, can be repeated.")
	specialMembersCommand.Flags().StringVarP(&output, "output", "o", "", "Output path of the probe executable (default a temporary file).")
	specialMembersCommand.Flags().StringVar(&runner, "runner", "", "Command prefix used to run the probe.")
	specialMembersCommand.Flags().BoolVar(&keep, "keep", false, "Keep the probe executable.")
	specialMembersCommand.Flags().BoolVar(&summary, "summary", false, "Print a table of the probed classes.")
	rootCommand.AddCommand(specialMembersCommand)

	// 'probe-gen' subcommand.
	probeGenCommand := &cobra.Command{
		Use:   "probe-gen",
		Short: "Generate the probe program from the configuration.",
		Long: `Writes the C++ source of a probe exercising every class listed under
probe.classes in the configuration file.`,
		Args: cobra.NoArgs,
		Run:  probeGenCmd,
	}
	probeGenCommand.Flags().StringVarP(&genOutput, "output", "o", "", "Output file (default standard output).")
	rootCommand.AddCommand(probeGenCommand)

	// 'dump' subcommand.
	dumpCommand := &cobra.Command{
		Use:   "dump <elf>",
		Short: "Print the dynamic symbols and version tables of an ELF object.",
		Args:  cobra.ExactArgs(1),
		Run:   dumpCmd,
	}
	rootCommand.AddCommand(dumpCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration.",
		Args:  cobra.NoArgs,
		Run:   configCmd,
	}
	configCommand.Flags().BoolVar(&defaultConfig, "default", false, "Print a commented default configuration file instead.")
	configCommand.Flags().StringVar(&writeConfig, "write", "", "Save the effective configuration to this file, e.g. .abicheck.yml.")
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("abicheck\n%s\n", version.Current)
			if verbose {
				fmt.Printf("Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	symbols		Log symbol table reading and policy decisions
	locator		Log source location lookups
	probe		Log probe runs and equivalence rule matches
	toolchain	Log compiler and resolver invocations
	config		Log configuration loading

Without --log-output, symbols and probe are logged.

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// override sets *dst to v if the flag called name was given on the
// command line.
func override(flags *pflag.FlagSet, name string, dst *string, v string) {
	if flags.Changed(name) {
		*dst = v
	}
}

// runContext returns a context cancelled on SIGINT or SIGTERM and after
// --timeout.
func runContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func fatal(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "abicheck: %v\n", err)
	return exitFatal
}

func stdoutPrinter() (*report.Printer, error) {
	return report.NewFile(os.Stdout, conf.Color)
}

func symbolsCmd(cmd *cobra.Command, args []string) {
	if err := applySymbolsFlags(cmd.Flags(), conf); err != nil {
		os.Exit(fatal(os.Stderr, err))
	}

	p, err := stdoutPrinter()
	if err != nil {
		os.Exit(fatal(os.Stderr, err))
	}
	loc, err := newLocator(conf)
	if err != nil {
		os.Exit(fatal(os.Stderr, err))
	}

	ctx, cancel := runContext()
	prefix := conf.VersionPrefix
	if len(args) > 1 {
		prefix = args[1]
	}
	status := checkSymbols(ctx, args[0], prefix, conf, loc, p, os.Stderr)
	cancel()
	logflags.Close()
	os.Exit(status)
}

// applySymbolsFlags overrides conf with the symbols flags given on the
// command line. Directories are made absolute against the working
// directory.
func applySymbolsFlags(flags *pflag.FlagSet, conf *config.Config) error {
	override(flags, "locator", &conf.Locator, locatorBackend)
	override(flags, "resolver", &conf.Resolver, resolver)
	if flags.Changed("project-root") {
		dir, err := filepath.Abs(projectRoot)
		if err != nil {
			return err
		}
		conf.ProjectRoot = dir
	}
	if flags.Changed("system-include") {
		roots := make([]string, len(systemIncludes))
		for i, r := range systemIncludes {
			dir, err := filepath.Abs(r)
			if err != nil {
				return err
			}
			roots[i] = dir
		}
		conf.SystemIncludeRoots = roots
	}
	if flags.Changed("debuginfod") {
		conf.Debuginfod = debuginfodFlag
	}
	return nil
}

// newLocator builds the source locator selected by conf.
func newLocator(conf *config.Config) (locator.Locator, error) {
	c := &locator.Classifier{ProjectRoot: conf.ProjectRoot, SystemRoots: conf.SystemIncludeRoots}
	switch conf.Locator {
	case "", "addr2line":
		a, err := locator.NewAddr2Line(conf.Resolver, c)
		if err != nil {
			return nil, err
		}
		return locator.NewCached(a), nil
	case "dwarf":
		return locator.NewCached(locator.NewDWARF(c, conf.DebugInfoDirectories, conf.Debuginfod)), nil
	}
	return nil, fmt.Errorf("unknown locator %q, must be addr2line or dwarf", conf.Locator)
}

func exemptions(conf *config.Config) *policy.Exemptions {
	if len(conf.Exemptions) == 0 {
		return policy.NewExemptions(policy.DefaultExemptions)
	}
	entries := make([]policy.Exemption, len(conf.Exemptions))
	for i, e := range conf.Exemptions {
		entries[i] = policy.Exemption{Name: e.Name, Prefixes: e.Prefixes}
	}
	return policy.NewExemptions(entries)
}

// checkSymbols runs the symbol versioning check on lib and returns the
// exit status.
func checkSymbols(ctx context.Context, lib, prefix string, conf *config.Config, loc locator.Locator, p *report.Printer, stderr io.Writer) int {
	if prefix == "" {
		return fatal(stderr, errors.New("empty version prefix"))
	}
	tab, err := elfsym.Read(lib)
	if err != nil {
		return fatal(stderr, err)
	}
	dem, err := demangle.New(conf.DemangleCacheSize)
	if err != nil {
		return fatal(stderr, err)
	}
	engine := &policy.Engine{
		Prefix:     prefix,
		Locator:    loc,
		Demangler:  dem,
		Exemptions: exemptions(conf),
	}
	rep, err := engine.Check(ctx, tab)
	if err != nil {
		return fatal(stderr, err)
	}
	p.Violations(rep)
	if summary {
		p.Summary(rep)
	}
	if !rep.OK() {
		p.Verdict(rep)
		return exitViolations
	}
	return exitOK
}

func specialMembersCmd(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	pc := &conf.Probe
	override(flags, "cxx", &pc.Compiler, cxx)
	override(flags, "cxxflags", &pc.Flags, cxxflags)
	override(flags, "output", &pc.Output, output)
	override(flags, "runner", &pc.Runner, runner)
	if flags.Changed("source") {
		pc.Sources = sources
	}
	if flags.Changed("lib") {
		pc.Libraries = libs
	}

	p, err := stdoutPrinter()
	if err != nil {
		os.Exit(fatal(os.Stderr, err))
	}
	tc, err := newToolchain(pc)
	if err != nil {
		os.Exit(fatal(os.Stderr, err))
	}

	ctx, cancel := runContext()
	status := checkSpecialMembers(ctx, pc, tc, p, os.Stderr)
	cancel()
	logflags.Close()
	os.Exit(status)
}

// newToolchain returns the toolchain described by pc.
func newToolchain(pc *config.ProbeConfig) (*toolchain.Exec, error) {
	compiler, err := toolchain.ParseCommand(pc.Compiler)
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}
	if len(compiler) == 0 {
		return nil, errors.New("no compiler configured")
	}
	run, err := toolchain.ParseCommand(pc.Runner)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	return &toolchain.Exec{
		Compiler:  compiler,
		Libraries: pc.Libraries,
		Output:    pc.Output,
		Runner:    run,
		Env:       pc.Env,
	}, nil
}

// checkSpecialMembers runs the probe and returns the exit status.
func checkSpecialMembers(ctx context.Context, pc *config.ProbeConfig, tc toolchain.Toolchain, p *report.Printer, stderr io.Writer) int {
	if len(pc.Sources) == 0 {
		return fatal(stderr, errors.New("no probe sources configured, use --source or probe.sources"))
	}
	rules, err := classify.RulesFromConfig(pc.EquivalenceRules)
	if err != nil {
		return fatal(stderr, err)
	}

	h := &probe.Harness{Toolchain: tc, Stderr: stderr, Keep: keep}
	out, err := h.Run(ctx, probe.SpecFromConfig(pc))
	if err != nil {
		return fatal(stderr, err)
	}

	res := classify.New(rules).Classify(out.Report, out.Undefined)
	p.SpecialMembers(res)
	if summary {
		p.ProbeSummary(out.Report, res)
	}
	if !res.OK() {
		return exitViolations
	}
	return exitOK
}

func probeGenCmd(cmd *cobra.Command, args []string) {
	os.Exit(generateProbe(genOutput, &conf.Probe, os.Stdout, os.Stderr))
}

func generateProbe(path string, pc *config.ProbeConfig, stdout, stderr io.Writer) int {
	gc := probe.GenConfigFromConfig(pc)
	if path == "" {
		if err := probe.Generate(stdout, gc); err != nil {
			return fatal(stderr, err)
		}
		return exitOK
	}
	f, err := os.Create(path)
	if err != nil {
		return fatal(stderr, err)
	}
	if err := probe.Generate(f, gc); err != nil {
		f.Close()
		return fatal(stderr, err)
	}
	if err := f.Close(); err != nil {
		return fatal(stderr, err)
	}
	return exitOK
}

func dumpCmd(cmd *cobra.Command, args []string) {
	p, err := stdoutPrinter()
	if err != nil {
		os.Exit(fatal(os.Stderr, err))
	}
	tab, err := elfsym.Read(args[0], elfsym.AllowMissingVerdef())
	if err != nil {
		os.Exit(fatal(os.Stderr, err))
	}
	p.Dump(tab)
}

func configCmd(cmd *cobra.Command, args []string) {
	os.Exit(showConfig(conf, defaultConfig, writeConfig, os.Stdout, os.Stderr))
}

// showConfig prints conf, or the commented template with defaultOnly. With
// a non empty path conf is saved there instead.
func showConfig(conf *config.Config, defaultOnly bool, path string, stdout, stderr io.Writer) int {
	var err error
	switch {
	case path != "":
		err = config.SaveConfig(conf, path)
		if err == nil {
			fmt.Fprintf(stdout, "configuration written to %s\n", path)
		}
	case defaultOnly:
		err = config.WriteDefaultConfig(stdout)
	default:
		if p := conf.Path(); p != "" {
			fmt.Fprintf(stdout, "# loaded from %s\n", p)
		}
		err = config.WriteConfig(stdout, conf)
	}
	if err != nil {
		return fatal(stderr, err)
	}
	return exitOK
}
