package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/taskdeck/taskdeck/internal/task"
)

// printJSON pretty-prints a result to stdout.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// jsonError is the structured error object written to stderr.
type jsonError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// PrintError writes an engine error as a JSON object. Used by main for
// the non-zero exit path.
func PrintError(w io.Writer, err error) {
	var body jsonError
	body.Error.Code = task.ErrorCode(err)
	body.Error.Message = err.Error()
	data, marshalErr := json.MarshalIndent(body, "", "  ")
	if marshalErr != nil {
		fmt.Fprintln(w, err)
		return
	}
	fmt.Fprintln(w, string(data))
}
