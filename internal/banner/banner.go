package banner

import (
	"fmt"
	"io"
	"strings"
)

const logo = `
==================================================
 ____  _       _
|  _ \(_) __ _| | ___ _ __
| | | | |/ _` + "`" + ` | |/ _ \ '__|
| |_| | | (_| | |  __/ |
|____/|_|\__,_|_|\___|_|
--------------------------------------------------`

const footer = `==================================================`

// Line is one label/value pair shown under the logo.
type Line struct {
	Label string
	Value string
}

// Fprint writes the startup banner for service to w, with labels aligned.
func Fprint(w io.Writer, service string, lines []Line) {
	fmt.Fprintln(w, logo)
	fmt.Fprintln(w, service)

	width := 0
	for _, l := range lines {
		width = max(width, len(l.Label))
	}
	for _, l := range lines {
		value := l.Value
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(w, "  %s%s : %s\n", l.Label, strings.Repeat(" ", width-len(l.Label)), value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ready.")
	fmt.Fprintln(w, footer)
	fmt.Fprintln(w)
}
