package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"chatrelay/pkg/models"
)

// renderer prints transcript revisions incrementally: each assistant
// message gets a label once, then only the text it gained since the last
// revision.
type renderer struct {
	out     io.Writer
	printed map[models.Key]int
	closed  map[models.Key]bool
	label   func(a ...interface{}) string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:     out,
		printed: make(map[models.Key]int),
		closed:  make(map[models.Key]bool),
		label:   color.New(color.FgGreen, color.Bold).SprintFunc(),
	}
}

func (r *renderer) render(tr []models.Message) {
	present := make(map[models.Key]bool, len(tr))
	for _, m := range tr {
		if m.Role != models.RoleAssistant {
			continue
		}
		k := m.Key()
		present[k] = true
		if r.closed[k] {
			continue
		}
		n, seen := r.printed[k]
		if !seen {
			fmt.Fprint(r.out, r.label("assistant> "))
		}
		text := m.Text()
		if len(text) > n {
			fmt.Fprint(r.out, text[n:])
			n = len(text)
		}
		r.printed[k] = n
		if m.Complete {
			fmt.Fprintln(r.out)
			r.closed[k] = true
		}
	}

	// an open reply that vanished was rolled back
	for k := range r.printed {
		if !r.closed[k] && !present[k] {
			fmt.Fprintln(r.out, color.RedString(" [discarded]"))
			r.closed[k] = true
		}
	}
}
