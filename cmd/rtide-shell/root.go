package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/criyle/go-rtide/cmd/rtide/version"
	"github.com/criyle/go-rtide/ide"
	"github.com/criyle/go-rtide/judge0"
	"github.com/criyle/go-rtide/language"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultURL = "https://judge0.usaco.guide"

var rootCmd = &cobra.Command{
	Use:   "rtide-shell",
	Short: "Edit and run C++, Java and Python programs on a Judge0 service",
	Long: `rtide-shell - a terminal IDE backed by a remote Judge0 execution service.

Every language keeps its own source; switch with 'lang' in the REPL or pick
one with --lang for a single run. Standard input is sent along with the
source and the decoded output is printed with a status line.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("url", envOr("RTIDE_JUDGE0_URL", defaultURL), "Judge0 service base url")
	rootCmd.PersistentFlags().String("token", os.Getenv("RTIDE_JUDGE0_TOKEN"), "X-Auth-Token for the service")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Timeout for a single run (0 waits for the service)")
	rootCmd.PersistentFlags().String("languages", "", "Language table override file (YAML)")
	rootCmd.PersistentFlags().Bool("debug", false, "Print debug logs to stderr")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// newExecutor creates the executor used by run and repl
var newExecutor = func(cmd *cobra.Command, logger *zap.Logger) (ide.Executor, error) {
	url, _ := cmd.Flags().GetString("url")
	token, _ := cmd.Flags().GetString("token")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	c, err := judge0.New(judge0.Config{
		URL:       url,
		AuthToken: token,
		Timeout:   timeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newLogger(cmd *cobra.Command) *zap.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.Level.SetLevel(zap.WarnLevel)
	if debug {
		config.Level.SetLevel(zap.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func loadLanguages(cmd *cobra.Command) (*language.Table, error) {
	path, _ := cmd.Flags().GetString("languages")
	if path == "" {
		return language.Default(), nil
	}
	return language.Load(path)
}

// newOrchestrator wires a fresh editor state to the executor
func newOrchestrator(cmd *cobra.Command, langs *language.Table, logger *zap.Logger) (*ide.Orchestrator, error) {
	exec, err := newExecutor(cmd, logger)
	if err != nil {
		return nil, err
	}
	return ide.NewOrchestrator(ide.Config{
		Store:     ide.NewStore(ide.NewState(langs)),
		Executor:  exec,
		Languages: langs,
		Logger:    logger,
	}), nil
}

// languageOf guesses the language from a file extension
func languageOf(langFlag, filename string) (language.Name, error) {
	if langFlag != "" {
		return language.ParseName(langFlag)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".cpp", ".cc", ".cxx", ".c++":
		return language.Cpp, nil
	case ".java":
		return language.Java, nil
	case ".py":
		return language.Python, nil
	}
	return "", fmt.Errorf("language required: use --lang %s", strings.Join(nameStrings(), ", "))
}

func nameStrings() []string {
	ns := language.Names()
	rt := make([]string, 0, len(ns))
	for _, n := range ns {
		rt = append(rt, string(n))
	}
	return rt
}

// timeoutOrNone formats a run timeout for messages
func timeoutOrNone(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.String()
}
