// Package cmd provides the command-line interface for paq.
//
// Configuration is merged from several sources, highest priority first:
//
//  1. Command-line flags (--join, --minify, ...)
//  2. Environment variables with the PAQ_ prefix (PAQ_JOIN, PAQ_DOXOR_ENABLED, ...)
//  3. The configuration file: --config, else PAQ_CONFIG_FILE, else .paq.yml
//  4. Built-in defaults
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/paq/internal/build"
	"github.com/conneroisu/paq/internal/config"
	"github.com/conneroisu/paq/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "paq [flags] <source...>",
	Short: "Join, minify, test and document JavaScript sources",
	Long: `paq collects .js and .coffee files from the given sources and joins them
into a single bundle. Every file becomes a module named after its path
(src/utils/Helper.js is utils.Helper); files whose name starts with "_" are
emitted unwrapped before all modules.

Sources may be directories, files or glob patterns such as "lib/**/*.js".

Examples:
  paq -j dist/app.js src                 Join src into dist/app.js
  paq -j dist/app.js -m dist/app.min.js src
  paq -w -j dist/app.js -t test src      Rebuild and test on every change
  paq --docco --docco-output site src    Generate annotated sources`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPaq,
}

// buildFlagBindings maps build flags to their configuration keys.
var buildFlagBindings = map[string]string{
	"join":              "join",
	"minify":            "minify",
	"watch":             "watch",
	"test":              "test",
	"test-command":      "test_command",
	"doxor":             "doxor.enabled",
	"doxor-output":      "doxor.output",
	"docco":             "docco.enabled",
	"docco-output":      "docco.output",
	"debounce":          "debounce",
	"ignore":            "ignore",
	"strict-namespaces": "strict_namespaces",
	"bundle-version":    "version",
}

// reportedError marks an error the build already logged.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error { return e.error }

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	persistent := rootCmd.PersistentFlags()
	persistent.StringVar(&cfgFile, "config", "", "config file (default is .paq.yml, can also use PAQ_CONFIG_FILE env var)")
	persistent.String("log-level", "info", "log level (debug, info, warn, error)")
	persistent.String("log-format", "pretty", "log format (pretty, text, json)")
	_ = viper.BindPFlag("log.level", persistent.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", persistent.Lookup("log-format"))

	flags := rootCmd.Flags()
	flags.StringP("join", "j", "", "write the joined bundle to this file")
	flags.StringP("minify", "m", "", "write the minified bundle to this file")
	flags.BoolP("watch", "w", false, "rebuild whenever a source changes")
	flags.StringP("test", "t", "", "run the test command against this path after building")
	flags.String("test-command", config.DefaultTestCommand, "command used to run tests")
	flags.Bool("doxor", false, "generate API documentation with doxor")
	flags.String("doxor-output", config.DefaultDoxorOutput, "doxor output directory")
	flags.Bool("docco", false, "generate annotated sources with docco")
	flags.String("docco-output", config.DefaultDoccoOutput, "docco output directory")
	flags.Duration("debounce", config.DefaultDebounce, "quiet period before a rebuild in watch mode")
	flags.StringSlice("ignore", nil, "glob patterns of paths whose changes never trigger a rebuild")
	flags.Bool("strict-namespaces", false, "fail the build when two files define the same module")
	flags.String("bundle-version", "", "version stamped into the bundle header (default is the paq version)")

	AddFlagValidation(rootCmd, "log-level", validateLogLevel)
	AddFlagValidation(rootCmd, "log-format", validateLogFormat)
	SetViperBindings(rootCmd, buildFlagBindings)
}

// initConfig initializes the configuration system.
//
// The configuration file is taken from --config, then PAQ_CONFIG_FILE, then
// .paq.yml in the current directory. A missing file is not an error.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PAQ_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".paq")
	}

	// PAQ_DOXOR_ENABLED sets doxor.enabled, PAQ_TEST_COMMAND sets test_command.
	viper.SetEnvPrefix("PAQ")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(cmd *cobra.Command) (logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, err
	}

	format := viper.GetString("log.format")
	if format == "" {
		format = "pretty"
	}
	if err := validateLogFormat(format); err != nil {
		return nil, err
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: format,
		Output: cmd.ErrOrStderr(),
	}), nil
}

func runPaq(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}

	if err := validateSources(args); err != nil {
		return err
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	options, err := config.Load()
	if err != nil {
		return err
	}
	options.Sources = args

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	if !options.HasWork() && !options.Watch {
		logger.Info(ctx, "No build step selected (see --join, --minify, --test, --doxor, --docco)")
	}

	pipeline := build.NewPipeline(*options,
		build.WithLogger(logger),
		build.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()),
	)

	session, err := build.NewSession(pipeline, args, logger)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info(ctx, "Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := session.Run(ctx); err != nil {
		return reportedError{err}
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
