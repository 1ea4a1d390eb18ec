// Lists are rendered left to right as their values joined by a separator and terminated by a line break,
// e.g. "one <-> two <-> three\n". Rendering is lazy; each call walks the list again from the head.

package list

import (
	"fmt"
	"io"
	"iter"
	"strings"
)

const (
	Separator  = " <-> "
	Terminator = "\n"
)

// Values lazily yields the values of the list from head to tail.
func (l *List) Values() iter.Seq[string] {
	return func(yield func(string) bool) {
		for slot := l.head; slot != noSlot; slot = l.slots[slot].next {
			if !yield(l.slots[slot].value) {
				return
			}
		}
	}
}

// Render lazily yields the tokens of the list rendering: values, separators and the final line break.
func (l *List) Render() iter.Seq[string] {
	return func(yield func(string) bool) {
		first := true
		for value := range l.Values() {
			if !first && !yield(Separator) {
				return
			}
			first = false
			if !yield(value) {
				return
			}
		}
		yield(Terminator)
	}
}

// Dump writes the rendering of the list to `w`.
func (l *List) Dump(w io.Writer) error {
	for token := range l.Render() {
		if _, err := io.WriteString(w, token); err != nil {
			return fmt.Errorf("failed to dump list: %w", err)
		}
	}
	return nil
}

// String returns the rendering of the list without the line break.
func (l *List) String() string {
	var builder strings.Builder
	for token := range l.Render() {
		builder.WriteString(token)
	}
	return strings.TrimSuffix(builder.String(), Terminator)
}
