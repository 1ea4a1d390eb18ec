// Demonstrates the list: builds one, two, three, four out of order, prints it while deleting nodes and tears it down.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nobletooth/dlist/pkg/config"
	"github.com/nobletooth/dlist/pkg/list"
	"github.com/nobletooth/dlist/pkg/utils"
)

func main() {
	config.InitFlags()
	utils.InitLogging()

	if err := run(os.Stdout); err != nil {
		slog.Error("Demo failed.", "error", err)
		os.Exit(1)
	}
}

// insertAfterKey inserts `value` after the first node holding `key`; an empty key inserts at the head.
func insertAfterKey(l *list.List, key, value string) error {
	after := list.Nil
	if key != "" {
		after, _ = l.Find(key) // Not found inserts at the head.
	}
	if _, err := l.Insert(after, value); err != nil {
		return fmt.Errorf("failed to insert %q: %w", value, err)
	}
	return nil
}

// dump prints the list on a single line.
func dump(out io.Writer, l *list.List) error {
	if _, err := io.WriteString(out, "List: "); err != nil {
		return err
	}
	return l.Dump(out)
}

// deleteKey prints a banner and deletes the first node holding `key`.
func deleteKey(out io.Writer, l *list.List, key string) error {
	if _, err := fmt.Fprintf(out, "-- delete %s --\n", key); err != nil {
		return err
	}
	node, _ := l.Find(key)
	l.Delete(node) // Not found is a no-op.
	return dump(out, l)
}

func run(out io.Writer) error {
	if _, err := fmt.Fprintln(out, "Hello, world!"); err != nil {
		return err
	}

	l := list.New()
	defer l.FreeAll()

	for _, step := range []struct{ afterKey, value string }{
		{afterKey: "", value: "four"},
		{afterKey: "", value: "one"},
		{afterKey: "one", value: "two"},
		{afterKey: "two", value: "three"},
	} {
		if err := insertAfterKey(l, step.afterKey, step.value); err != nil {
			return err
		}
	}
	if err := dump(out, l); err != nil {
		return err
	}

	for _, key := range []string{"three", "one"} {
		if err := deleteKey(out, l, key); err != nil {
			return err
		}
	}
	slog.Debug("Demo finished.", "allocated", l.Stats().Allocated, "released", l.Stats().Released)
	return nil
}
