package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive editor session",
	Long: `Start an interactive session holding one source per language and a
standard input text.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line source and input with 'edit' and 'input'

Type 'help' for commands, 'exit' or Ctrl+D to quit.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.rtide_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, _ []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".rtide_history")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	url, _ := cmd.Flags().GetString("url")

	logger := newLogger(cmd)
	defer logger.Sync()
	langs, err := loadLanguages(cmd)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(cmd, langs, logger)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "cpp> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	sh := &shell{
		orch:  orch,
		langs: langs,
		out:   rl.Stdout(),
		readLine: func(prompt string) (string, error) {
			rl.SetPrompt(prompt)
			return rl.Readline()
		},
	}

	fmt.Fprintf(rl.Stderr(), "rtide-shell connected to %s (timeout %s), type 'help' for commands\n", url, timeoutOrNone(timeout))
	for {
		rl.SetPrompt(sh.prompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(rl.Stdout())
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		err = sh.exec(cmd.Context(), line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case errors.Is(err, readline.ErrInterrupt):
			fmt.Fprintln(rl.Stderr(), "cancelled")
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			fmt.Fprintf(rl.Stderr(), "Error: %v\n", err)
		}
	}
}
