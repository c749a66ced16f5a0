package judge0

import (
	"bytes"
	"fmt"
	"strconv"
)

// Submission is the body of a submission request. Text fields carry base64
// transport text.
type Submission struct {
	SourceCode             string `json:"source_code"`
	LanguageID             int    `json:"language_id"`
	Stdin                  string `json:"stdin"`
	CompilerOptions        string `json:"compiler_options"`
	CommandLineArguments   string `json:"command_line_arguments"`
	RedirectStderrToStdout bool   `json:"redirect_stderr_to_stdout"`
}

// Status is the submission status reported by the service
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is the body of a finished submission. Stdout, Stderr, CompileOutput
// and Message carry base64 transport text when requested with base64_encoded.
type Result struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Message       string `json:"message"`
	Status        Status `json:"status"`
	Time          Number `json:"time"`   // seconds
	Memory        Number `json:"memory"` // KB
	Token         string `json:"token,omitempty"`
	ExitCode      *int   `json:"exit_code,omitempty"`

	// Error is set by the service instead of the fields above when the
	// submission was refused (rate limit, authentication, queue full).
	Error string `json:"error,omitempty"`
}

// RemoteLanguage is one entry of the service language listing
type RemoteLanguage struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Number is a JSON number that may also arrive as a quoted string or null
type Number struct {
	Value float64
	Valid bool
}

// NewNumber creates a valid Number
func NewNumber(v float64) Number {
	return Number{Value: v, Valid: true}
}

// Ptr returns nil for a null Number
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// MarshalJSON encodes a null Number as null
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, n.Value, 'f', -1, 64), nil
}

// UnmarshalJSON accepts 0.01, "0.01", "" and null
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	if s == "" {
		*n = Number{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("judge0: invalid number %s: %w", b, err)
	}
	*n = Number{Value: v, Valid: true}
	return nil
}
