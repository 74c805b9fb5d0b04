// Package prompt supplies the confirmation hook destructive operations
// require before dispatching a request.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrDeclined is returned by callers when the user answers no. No
// request is issued in that case.
var ErrDeclined = errors.New("cancelled by user")

// Func asks the user to confirm an action and reports their answer.
type Func func(message string) bool

// Terminal returns a Func that prompts on out and reads a y/N answer
// from in. Anything but an explicit yes declines.
func Terminal(in io.Reader, out io.Writer) Func {
	reader := bufio.NewReader(in)
	return func(message string) bool {
		fmt.Fprintf(out, "%s [y/N]: ", message)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

// Always returns a Func that confirms everything. Used by tests and by
// --yes flags.
func Always() Func {
	return func(string) bool { return true }
}

// Never returns a Func that declines everything.
func Never() Func {
	return func(string) bool { return false }
}
