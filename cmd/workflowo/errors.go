package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// errorChain splits err into one message per wrapping level. A level whose
// message ends with its cause's message keeps only its own prefix.
func errorChain(err error) []string {
	var chain []string
	for err != nil {
		msg := err.Error()
		next := errors.Unwrap(err)
		if next != nil {
			inner := next.Error()
			if own, ok := strings.CutSuffix(msg, inner); ok {
				own = strings.TrimRight(own, " :")
				if own != "" {
					msg = own
				} else {
					// a transparent wrapper adds nothing
					err = next
					continue
				}
			}
		}
		chain = append(chain, msg)
		err = next
	}
	return chain
}

// printErrorChain writes err and its causes framed as
//
//	Error: outermost
//	║
//	╠══ Caused by: inner
//	║
//	╚══ Caused by: innermost
func printErrorChain(w io.Writer, err error) {
	chain := errorChain(err)
	if len(chain) == 0 {
		return
	}
	red := color.New(color.FgRed, color.Bold)
	red.Fprint(w, "Error:")
	fmt.Fprintf(w, " %s\n", chain[0])
	for i, msg := range chain[1:] {
		corner := "╠══"
		if i == len(chain)-2 {
			corner = "╚══"
		}
		fmt.Fprintln(w, "║")
		red.Fprint(w, corner+" Caused by:")
		fmt.Fprintf(w, " %s\n", msg)
	}
}
