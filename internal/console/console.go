// Package console reads interactive answers for !Input and !HiddenInput
// prompts.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Terminal prompts on an output stream and reads lines from an input
// stream. Hidden reads turn off echo when the input is a terminal.
type Terminal struct {
	in     *bufio.Reader
	out    io.Writer
	fd     int
	isTerm bool
}

// New returns a Terminal reading from in and writing prompts to out.
func New(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
		t.isTerm = true
	}
	return t
}

// Stdio returns a Terminal on the process's stdin with prompts on stderr,
// so prompts never mix with task output.
func Stdio() *Terminal {
	return New(os.Stdin, os.Stderr)
}

func (t *Terminal) Write(text string) error {
	_, err := io.WriteString(t.out, text)
	return err
}

// ReadLine reads one line without its line ending. End of input before any
// character is an error.
func (t *Terminal) ReadLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return trimEOL(line), nil
		}
		return "", err
	}
	return trimEOL(line), nil
}

// ReadHiddenLine reads one line with echo disabled.
func (t *Terminal) ReadHiddenLine() (string, error) {
	if !t.isTerm {
		return t.ReadLine()
	}
	b, err := term.ReadPassword(t.fd)
	// the user's Enter was not echoed
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func trimEOL(s string) string {
	return strings.TrimRight(s, "\r\n")
}
