package main

import (
	"fmt"
	"io"
	"os"

	"github.com/criyle/go-rtide/ide"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a source file once",
	Long: `Submit a source file and print the decoded output.

Standard input comes from --stdin, or from the process stdin when it is not
a terminal:
  rtide-shell run main.py --stdin in.txt
  echo "1 2 3" | rtide-shell run main.py`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("lang", "l", "", "Language: cpp, java, py (default: from extension)")
	runCmd.Flags().String("stdin", "", "File used as standard input")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	langFlag, _ := cmd.Flags().GetString("lang")
	stdinFile, _ := cmd.Flags().GetString("stdin")

	lang, err := languageOf(langFlag, args[0])
	if err != nil {
		return err
	}
	src, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	stdin, err := readStdin(cmd.InOrStdin(), stdinFile)
	if err != nil {
		return err
	}

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
	store := orch.Store()
	for _, ev := range []ide.Event{
		ide.SelectLanguage{Language: lang},
		ide.EditSource{Text: string(src)},
		ide.EditStdin{Text: stdin},
	} {
		if err := store.Dispatch(ev); err != nil {
			return err
		}
	}

	out, err := orch.RunAndWait(cmd.Context())
	if err != nil {
		return err
	}
	st := store.GetState()
	printResult(cmd.OutOrStdout(), st)
	if out.Err != nil && st.Notice == "" {
		return fmt.Errorf("run failed: %w", out.Err)
	}
	return nil
}

// readStdin reads the stdin file, or r when it is piped
func readStdin(r io.Reader, file string) (string, error) {
	if file != "" {
		b, err := os.ReadFile(file)
		return string(b), err
	}
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
