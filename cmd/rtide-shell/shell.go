package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/criyle/go-rtide/ide"
	"github.com/criyle/go-rtide/language"
	"github.com/google/shlex"
)

// errQuit ends the REPL
var errQuit = errors.New("quit")

const helpText = `Commands:
  lang <name>          select the active language (cpp, java, py)
  langs                list languages
  load <file> [lang]   load a file into the source of lang (default: active)
  edit                 type the active source, end with a line "."
  input                type the standard input, end with a line "."
  stdin <file>         load the standard input from a file
  show                 print the active source and the standard input
  run                  run the active source
  result               print the last result
  help                 show this help
  exit                 quit
`

// shell executes REPL command lines against one editor state
type shell struct {
	orch  *ide.Orchestrator
	langs *language.Table
	out   io.Writer
	// readLine reads one continuation line for edit and input
	readLine func(prompt string) (string, error)
}

func (s *shell) store() *ide.Store {
	return s.orch.Store()
}

// prompt shows the active language
func (s *shell) prompt() string {
	return string(s.store().GetState().Language) + "> "
}

// exec runs one command line. It returns errQuit on exit.
func (s *shell) exec(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "exit", "quit":
		return errQuit

	case "help":
		fmt.Fprint(s.out, helpText)
		return nil

	case "lang":
		if len(args) != 1 {
			return errors.New("usage: lang <name>")
		}
		l, err := language.ParseName(args[0])
		if err != nil {
			return err
		}
		return s.store().Dispatch(ide.SelectLanguage{Language: l})

	case "langs":
		s.printLanguages()
		return nil

	case "load":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: load <file> [lang]")
		}
		var l language.Name
		if len(args) == 2 {
			if l, err = language.ParseName(args[1]); err != nil {
				return err
			}
		}
		b, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return s.store().Dispatch(ide.EditSource{Language: l, Text: string(b)})

	case "edit":
		text, err := s.readBlock()
		if err != nil {
			return err
		}
		return s.store().Dispatch(ide.EditSource{Text: text})

	case "input":
		text, err := s.readBlock()
		if err != nil {
			return err
		}
		return s.store().Dispatch(ide.EditStdin{Text: text})

	case "stdin":
		if len(args) != 1 {
			return errors.New("usage: stdin <file>")
		}
		b, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return s.store().Dispatch(ide.EditStdin{Text: string(b)})

	case "show":
		s.printSource()
		return nil

	case "run":
		out, err := s.orch.RunAndWait(ctx)
		if err != nil {
			return err
		}
		st := s.store().GetState()
		printResult(s.out, st)
		if out.Err != nil && st.Notice == "" {
			return fmt.Errorf("run failed: %w", out.Err)
		}
		return nil

	case "result":
		printResult(s.out, s.store().GetState())
		return nil
	}
	return fmt.Errorf("unknown command %q, type help", cmd)
}

// readBlock reads lines until a line with a single "."
func (s *shell) readBlock() (string, error) {
	var b strings.Builder
	for {
		line, err := s.readLine("... ")
		if err != nil {
			return "", err
		}
		if line == "." {
			return b.String(), nil
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func (s *shell) printLanguages() {
	active := s.store().GetState().Language
	for _, sp := range s.langs.Specs() {
		mark := " "
		if sp.Name == active {
			mark = "*"
		}
		fmt.Fprintf(s.out, "%s %-5s %-10s id=%d\n", mark, sp.Name, sp.FileName, sp.ServiceID)
	}
}

func (s *shell) printSource() {
	st := s.store().GetState()
	name := string(st.Language)
	if sp, ok := s.langs.Lookup(st.Language); ok {
		name = sp.FileName
	}
	printSection(s.out, name, st.Source())
	printSection(s.out, "stdin", st.Stdin)
}
