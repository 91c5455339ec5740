// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Morganamilo/paccat/internal/alpm"
	"github.com/Morganamilo/paccat/internal/archive"
	"github.com/Morganamilo/paccat/internal/config"
	"github.com/Morganamilo/paccat/internal/fetch"
	"github.com/Morganamilo/paccat/internal/issue"
	"github.com/Morganamilo/paccat/internal/match"
	"github.com/Morganamilo/paccat/internal/output"
	"github.com/Morganamilo/paccat/internal/pacmanconf"
	"github.com/Morganamilo/paccat/internal/resolve"
	"github.com/Morganamilo/paccat/internal/scan"
	"github.com/Morganamilo/paccat/internal/verify"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// runFlags holds the root command's flag values.
type runFlags struct {
	regex       bool
	all         bool
	quiet       bool
	binary      bool
	extract     bool
	install     bool
	executables bool
	filesDB     bool
	query       bool
	refresh     int
	colorWhen   string
	rootDir     string
	dbPath      string
	confPath    string
	cacheDir    string
	verbose     bool
}

var flags runFlags

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "paccat [flags] <target>... -- <file>...",
	Short: "Print files from pacman packages",
	Long: TitleStyle.Render("paccat") + SubtitleStyle.Render(" - print files from pacman packages") + `

paccat locates files inside pacman packages and prints them to the
terminal without installing the package. Targets may be repository
packages, package file paths, or download URLs; files are matched by
base name unless a pattern contains a slash.

` + SubtitleStyle.Render("Examples:") + `
  ` + CmdStyle.Render("paccat pacman -- pacman.conf") + `      Print pacman.conf from the pacman package
  ` + CmdStyle.Render("paccat -F -- libalpm.so") + `           Search the file databases for libalpm.so
  ` + CmdStyle.Render("paccat -x linux -- 'vmlinuz.*'") + `    Match file names by regular expression
  ` + CmdStyle.Render("paccat -e pacman -- pacman.conf") + `   Extract instead of printing`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&flags.regex, "regex", "x", false, "treat file patterns as regular expressions")
	f.BoolVarP(&flags.all, "all", "a", false, "print every match instead of only the first per pattern")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "print matching file paths instead of content")
	f.BoolVar(&flags.binary, "binary", false, "print binary files to the terminal")
	f.BoolVarP(&flags.extract, "extract", "e", false, "extract matched files to the current directory")
	f.BoolVarP(&flags.install, "install", "i", false, "extract matched files under the configured root")
	f.BoolVarP(&flags.executables, "executables", "X", false, "only match executable files")
	f.BoolVarP(&flags.filesDB, "files", "F", false, "search the .files sync databases")
	f.BoolVarP(&flags.query, "query", "Q", false, "search the local package database")
	f.CountVarP(&flags.refresh, "refresh", "y", "download fresh package databases (pass twice to force)")
	f.StringVar(&flags.colorWhen, "color", "", "colorize output (auto, always, never)")
	f.StringVarP(&flags.rootDir, "root", "r", "", "set an alternative installation root")
	f.StringVarP(&flags.dbPath, "dbpath", "b", "", "set an alternative database location")
	f.StringVar(&flags.confPath, "config", "", "pacman config file to use")
	f.StringVar(&flags.cacheDir, "cachedir", "", "directory used to cache downloaded packages")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(handleError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// handleError prints fatal errors. Silent exits (unmatched patterns,
// broken downstream pipes) carry no message.
func handleError(w io.Writer, _ fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	if issue.IsBrokenPipe(err) {
		return
	}
	msg := issue.Render(err)
	if rest, ok := strings.CutPrefix(msg, "error:"); ok {
		msg = ErrorStyle.Render("error:") + rest
	}
	fmt.Fprintln(w, msg)
}

func run(cmd *cobra.Command, args []string) error {
	targets, patterns := splitArgs(args, cmd.ArgsLenAtDash())

	patterns, err := expandStdinPatterns(patterns, cmd.InOrStdin())
	if err != nil {
		return err
	}
	refreshOnly := flags.refresh > 0 && len(patterns) == 0 && len(targets) == 0
	if len(patterns) == 0 && !refreshOnly {
		return errors.New("no files to search for")
	}
	if len(targets) == 0 && !flags.query && !flags.filesDB && !refreshOnly {
		return errors.New("no targets specified (use -Q or -F to search the databases)")
	}
	if flags.install && os.Geteuid() != 0 && flags.rootDir == "" {
		return errors.New("installing to the system root requires root privileges")
	}

	// A broken config file should not make the whole tool unusable;
	// warn and fall back to the defaults.
	cfg, err := config.Load(config.LoadOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("warning:")+" "+err.Error())
		cfg = config.DefaultConfig()
	}

	verbose := flags.verbose || cfg.Verbose
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}

	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd())
	colorWhen := cfg.Color
	if flags.colorWhen != "" {
		colorWhen = config.ColorMode(flags.colorWhen)
	}
	color, err := colorEnabled(colorWhen, stdoutTTY)
	if err != nil {
		return err
	}

	conf, err := pacmanconf.Load(pacmanconf.Options{
		Path:    flags.confPath,
		RootDir: flags.rootDir,
		DBPath:  flags.dbPath,
	})
	if err != nil {
		return err
	}

	cacheDir, err := pickCacheDir(flags.cacheDir, cfg.CacheDir, conf)
	if err != nil {
		return err
	}
	logger.Debugf("using cache directory %s", cacheDir)

	alpmOpts := []alpm.Option{alpm.WithLogger(logger)}
	if flags.filesDB {
		alpmOpts = append(alpmOpts, alpm.WithFileDB())
	}
	handle := alpm.New(conf, alpmOpts...)

	fetcher := fetch.New(fetch.WithProgress(func(file string, status fetch.Status) {
		switch status {
		case fetch.StatusDownloading:
			logger.Infof("downloading %s...", file)
		case fetch.StatusUpToDate:
			logger.Infof("%s is up to date", file)
		case fetch.StatusFailed:
			logger.Errorf("%s failed to download", file)
		case fetch.StatusDone:
			logger.Debugf("finished %s", file)
		}
	}))

	ctx := cmd.Context()

	if flags.refresh > 0 {
		if err := handle.Refresh(ctx, fetcher, flags.refresh > 1); err != nil {
			return err
		}
		if refreshOnly {
			return nil
		}
	}

	matcher, err := match.New(patterns, flags.regex)
	if err != nil {
		return err
	}

	behavior := scan.BehaviorPrint
	destDir := ""
	switch {
	case flags.install:
		behavior = scan.BehaviorInstall
		destDir = conf.RootDir
	case flags.extract:
		behavior = scan.BehaviorExtract
		destDir = "."
	case flags.quiet:
		behavior = scan.BehaviorList
	}

	// A pager only makes sense when content is printed to a terminal.
	pager := ""
	if behavior == scan.BehaviorPrint && stdoutTTY {
		pager = cfg.Pager
		if pager == "" {
			pager = output.DiscoverPager()
		}
	}

	router := output.NewRouter(
		output.WithColor(color),
		output.WithPager(pager),
		output.WithElevated(os.Geteuid() == 0),
	)

	resolver := resolve.New(handle, fetcher, verify.NewGate(conf), matcher, resolve.Options{
		LocalDB:         flags.query,
		FileDB:          flags.filesDB,
		All:             flags.all,
		ExecutablesOnly: flags.executables,
		CacheDir:        cacheDir,
	})

	files, err := resolver.Resolve(ctx, targets)
	if err != nil {
		return err
	}

	scanner := scan.New(matcher, router, scan.Options{
		Behavior:        behavior,
		All:             flags.all,
		Binary:          flags.binary || !stdoutTTY,
		ExecutablesOnly: flags.executables,
		DestDir:         destDir,
	}, cmd.OutOrStdout(), logger)

	for _, file := range files {
		if err := scanFile(scanner, file); err != nil {
			if issue.IsBrokenPipe(err) {
				return &ExitError{Code: 1}
			}
			return err
		}
	}

	if !scanner.AllMatched() {
		return &ExitError{Code: 1}
	}
	return nil
}

// scanFile decodes one archive through the scanner.
func scanFile(scanner *scan.Scanner, path string) error {
	r, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	return scanner.ScanArchive(r)
}
