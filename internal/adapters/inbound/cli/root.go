package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openkraft/categoryassert/internal/adapters/outbound/config"
	"github.com/openkraft/categoryassert/internal/adapters/outbound/loader"
	"github.com/openkraft/categoryassert/internal/adapters/outbound/locator"
	"github.com/openkraft/categoryassert/internal/adapters/outbound/tui"
	"github.com/openkraft/categoryassert/internal/application"
	"github.com/openkraft/categoryassert/internal/domain"
	"github.com/openkraft/categoryassert/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
)

// Exit codes returned by Run. Positive values are violation counts.
const (
	ExitOK               = 0
	ExitNoArguments      = -1
	ExitParseError       = -2
	ExitExtraArguments   = -3
	ExitUnclassified     = -100
	ExitTypeLoad         = -101
	ExitFrameworkVersion = -102
)

// maxStatus keeps violation counts clear of the values the negative codes
// take after truncation to an unsigned byte.
const maxStatus = 125

var helpTokens = map[string]bool{
	"help": true, "/help": true, "-help": true, "--help": true, "?": true, "/?": true,
}

type options struct {
	assembliesPath   string
	excluded         []string
	categories       []string
	prohibited       []string
	configFile       string
	frameworkVersion string
	format           string
	verbose          bool
}

// argError is an invalid invocation; the run never starts.
type argError struct {
	code int
	err  error
}

func (e *argError) Error() string { return e.err.Error() }
func (e *argError) Unwrap() error { return e.err }

func newRootCmd(stdout, stderr io.Writer, total *int) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "categoryassert [flags]",
		Short: "Fail the build when NUnit tests lack an approved category",
		Long: "categoryassert reads the metadata of compiled NUnit test binaries and reports every test " +
			"without one of the required categories and every prohibited assembly-level category. " +
			"The exit status is the number of violations found.",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &argError{code: ExitExtraArguments, err: fmt.Errorf("unrecognized arguments: %s", strings.Join(args, " "))}
			}
			if err := applyEnv(cmd.Flags()); err != nil {
				return &argError{code: ExitParseError, err: err}
			}
			n, err := run(opts, stdout, stderr)
			*total = n
			return err
		},
	}
	cmd.SetVersionTemplate(fmt.Sprintf("categoryassert {{.Version}} (%s)\n", commit))
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &argError{code: ExitParseError, err: err}
	})

	f := cmd.Flags()
	f.StringVar(&opts.assembliesPath, "assembliesPath", ".", "Directory holding the test binaries")
	f.StringSliceVar(&opts.excluded, "excludedAssembly", nil, "Comma-separated binaries to skip (file names or globs)")
	f.StringSliceVar(&opts.categories, "category", nil, "Comma-separated categories every test must carry at least one of")
	f.StringSliceVar(&opts.prohibited, "prohibitedAssemblyCategories", nil, "Comma-separated categories not allowed at assembly level")
	f.StringVar(&opts.configFile, "config", "", "Config file (default ./"+config.FileName+" when present)")
	f.StringVar(&opts.frameworkVersion, "frameworkVersion", "", "Expected nunit.framework version (default "+domain.DefaultFrameworkVersion+")")
	f.StringVar(&opts.format, "format", "text", "Report format: text or json")
	f.BoolVar(&opts.verbose, "verbose", false, "Log debug output and phase timings")
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest(stdout, stderr io.Writer) *cobra.Command {
	var total int
	return newRootCmd(stdout, stderr, &total)
}

// Run executes the command line and returns the exit code: the violation
// count on success, one of the negative Exit codes otherwise.
func Run(args []string, stdout, stderr io.Writer) int {
	var total int
	cmd := newRootCmd(stdout, stderr, &total)
	if len(args) == 0 {
		_ = cmd.Usage()
		return ExitNoArguments
	}
	if len(args) == 1 && helpTokens[args[0]] {
		_ = cmd.Help()
		return ExitOK
	}

	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		var ae *argError
		if errors.As(err, &ae) {
			fmt.Fprintf(stderr, "Invalid arguments: %v\n", ae.err)
			_ = cmd.Usage()
			return ae.code
		}
		fmt.Fprintln(stderr, err)
		return exitCode(err)
	}
	return total
}

// Execute runs the process command line and returns the process exit status.
func Execute() int {
	return ProcessStatus(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// ProcessStatus caps a Run result for use with os.Exit.
func ProcessStatus(code int) int {
	if code > maxStatus {
		return maxStatus
	}
	return code
}

func exitCode(err error) int {
	var fve *domain.FrameworkVersionError
	var tle *domain.TypeLoadError
	switch {
	case errors.As(err, &fve):
		return ExitFrameworkVersion
	case errors.As(err, &tle):
		return ExitTypeLoad
	default:
		return ExitUnclassified
	}
}

func run(opts *options, stdout, stderr io.Writer) (int, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return 0, &argError{code: ExitParseError, err: err}
	}

	format := strings.ToLower(opts.format)
	var reporter domain.Reporter
	switch format {
	case "text":
		reporter = tui.NewTextReporter(stderr)
	case "json":
		reporter = NewJSONReporter(stdout)
	default:
		return 0, &argError{code: ExitParseError, err: fmt.Errorf("unknown format %q", opts.format)}
	}

	dir := opts.assembliesPath
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if format == "text" {
		fmt.Fprintf(stdout, "Loading assemblies from '%s'\n", dir)
	}

	svc := application.NewAssertService(
		func(include string) domain.BinaryLocator { return locator.New(include) },
		func(dir string) (domain.BinaryLoader, error) { return loader.New(dir) },
		logger.New(stderr, opts.verbose),
	)
	summary, err := svc.Run(dir, cfg, reporter)
	if err != nil {
		return 0, err
	}
	return summary.Violations, nil
}

// loadConfig reads the config file and overlays the flag values.
func loadConfig(opts *options) (domain.Config, error) {
	files := config.New()
	var (
		fileCfg domain.Config
		err     error
	)
	if opts.configFile != "" {
		fileCfg, err = files.LoadFile(opts.configFile)
	} else {
		var wd string
		if wd, err = os.Getwd(); err == nil {
			fileCfg, err = files.Load(wd)
		}
	}
	if err != nil {
		return domain.Config{}, err
	}

	override := domain.Config{
		ExcludedAssemblies:           opts.excluded,
		RequiredCategories:           opts.categories,
		ProhibitedAssemblyCategories: opts.prohibited,
		Framework:                    domain.FrameworkConfig{Version: opts.frameworkVersion},
	}
	if err := override.Validate(); err != nil {
		return domain.Config{}, err
	}
	return fileCfg.Merge(override), nil
}
