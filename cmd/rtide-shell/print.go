package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/criyle/go-rtide/ide"
)

// printResult prints the outcome shown below the editor: the service error,
// or the decoded output sections followed by the summary line
func printResult(w io.Writer, st ide.State) {
	if st.Notice != "" {
		fmt.Fprintf(w, "service error: %s\n", st.Notice)
		return
	}
	r := st.Result
	if r == nil {
		fmt.Fprintln(w, "no result")
		return
	}
	printSection(w, "compile output", r.CompileOutput)
	printSection(w, "stdout", r.Stdout)
	printSection(w, "stderr", r.Stderr)
	printSection(w, "message", r.Message)
	fmt.Fprintln(w, r.Summary())
}

func printSection(w io.Writer, name, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(w, "--- %s ---\n", name)
	fmt.Fprint(w, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(w)
	}
}
