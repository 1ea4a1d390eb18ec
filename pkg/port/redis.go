// Dlist serves named lists over the Redis protocol. Commands live in the "DL." namespace:
//
//	DL.INSERT name value [AFTER pivot]  -> new length; a missing pivot inserts at the head.
//	DL.FIND name key                    -> position of the first match or nil.
//	DL.DEL name key                     -> 1 if the first match was deleted, else 0.
//	DL.DUMP name                        -> "v1 <-> v2 <-> ..."
//	DL.LEN name                         -> number of values.
//	DL.MATCH name pattern               -> values matching a glob pattern.
//	DL.FREE name                        -> tears the list down.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/nobletooth/dlist/pkg/list"
	"github.com/nobletooth/dlist/pkg/scan"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var (
	address   = flag.String("address", ":6390", "The ip:port to listen on for Redis protocol.")
	idleClose = flag.Duration("idle_close", 0, "Closes Redis connections idle for this long; 0 disables it.")
)

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       *string  // Writes a bulk string if set.
	writeArray      []string // Writes an array of bulk strings if non-nil.
	writeString     string   // Writes a simple string otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisBulk(s string) redisOutput {
	return redisOutput{writeBulk: &s}
}

func writeRedisArray(values []string) redisOutput {
	if values == nil {
		values = make([]string, 0)
	}
	return redisOutput{writeArray: values}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArgs(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// writeTo sends the output to the client connection.
func (o redisOutput) writeTo(conn redcon.Conn) {
	switch {
	case o.err != nil:
		conn.WriteError(*o.err)
	case o.writeNil:
		conn.WriteNull()
	case o.writeInt != nil:
		conn.WriteInt(*o.writeInt)
	case o.writeBulk != nil:
		conn.WriteBulkString(*o.writeBulk)
	case o.writeArray != nil:
		conn.WriteArray(len(o.writeArray))
		for _, value := range o.writeArray {
			conn.WriteBulkString(value)
		}
	default:
		conn.WriteString(o.writeString)
	}
}

type redisHandler struct {
	registry *Registry
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(registry *Registry) (*redisHandler, error) {
	if registry == nil {
		return nil, errors.New("expected a non-nil registry")
	}
	return &redisHandler{registry: registry}, nil
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	command := strings.ToUpper(cmd.command)
	switch command {
	case "PING":
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "DL.INSERT":
		return rh.insert(cmd.args)
	case "DL.FIND":
		if len(cmd.args) != 2 {
			return wrongArgs(command)
		}
		position := -1
		rh.registry.View(cmd.args[0], func(l *list.List) {
			node, found := l.Find(cmd.args[1])
			if !found {
				return
			}
			position = 0
			for current := l.Front(); current != node; current = l.Next(current) {
				position++
			}
		})
		if position < 0 {
			return writeRedisNil()
		}
		return writeRedisInt(position)
	case "DL.DEL":
		if len(cmd.args) != 2 {
			return wrongArgs(command)
		}
		deleted := false
		_ = rh.registry.Update(cmd.args[0], func(l *list.List) error {
			node, _ := l.Find(cmd.args[1])
			deleted = l.Delete(node) // Not found is the nil handle, which is a no-op.
			return nil
		})
		if deleted {
			return writeRedisInt(1)
		}
		return writeRedisInt(0)
	case "DL.DUMP":
		if len(cmd.args) != 1 {
			return wrongArgs(command)
		}
		rendered := ""
		rh.registry.View(cmd.args[0], func(l *list.List) { rendered = l.String() })
		return writeRedisBulk(rendered)
	case "DL.LEN":
		if len(cmd.args) != 1 {
			return wrongArgs(command)
		}
		length := 0
		rh.registry.View(cmd.args[0], func(l *list.List) { length = l.Len() })
		return writeRedisInt(length)
	case "DL.MATCH":
		if len(cmd.args) != 2 {
			return wrongArgs(command)
		}
		var matched []string
		rh.registry.View(cmd.args[0], func(l *list.List) {
			matched = slices.Collect(scan.MatchGlob(cmd.args[1], l.Values()))
		})
		return writeRedisArray(matched)
	case "DL.FREE":
		if len(cmd.args) != 1 {
			return wrongArgs(command)
		}
		rh.registry.Drop(cmd.args[0])
		return writeRedisString(RedisOk)
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// insert handles DL.INSERT name value [AFTER pivot].
func (rh *redisHandler) insert(args []string) redisOutput {
	if len(args) != 2 && len(args) != 4 {
		return wrongArgs("DL.INSERT")
	}
	name, value := args[0], args[1]
	hasPivot := len(args) == 4
	if hasPivot && !strings.EqualFold(args[2], "AFTER") {
		return writeRedisError(errors.New("syntax error"))
	}

	length := 0
	err := rh.registry.Update(name, func(l *list.List) error {
		after := list.Nil
		if hasPivot {
			after, _ = l.Find(args[3]) // A missing pivot is the nil handle, i.e. insert at head.
		}
		if _, err := l.Insert(after, value); err != nil {
			return err
		}
		length = l.Len()
		return nil
	})
	if err != nil {
		return writeRedisError(err)
	}
	return writeRedisInt(length)
}

// serveConn converts a redcon command, handles it and writes the output back.
func (rh *redisHandler) serveConn(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		return
	}
	command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
	for i := 1; i < len(cmd.Args); i++ {
		command.args[i-1] = string(cmd.Args[i])
	}
	output := rh.handle(command)
	output.writeTo(conn)
	if output.closeConnection {
		if err := conn.Close(); err != nil {
			slog.Error("Failed to close connection.", "error", err)
		}
	}
}

// RunRedisServer starts a Redis protocol server serving the lists of `registry` until `ctx` is cancelled.
func RunRedisServer(ctx context.Context, registry *Registry) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(registry)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ redisHandler.serveConn,
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted connection.", "remote", conn.RemoteAddr())
			return true // Accept all connections.
		},
		/*closed*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Connection closed with error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})
	if *idleClose > 0 {
		redisServer.SetIdleClose(*idleClose)
	}

	listenSignal := make(chan error, 1)
	serverErrSignal := make(chan error, 1)
	go func() { serverErrSignal <- redisServer.ListenServeAndSignal(listenSignal) }()
	if err := <-listenSignal; err != nil { // Close fails on a server that is not listening yet.
		return fmt.Errorf("failed to listen on %s: %w", *address, err)
	}
	slog.Info("Serving Redis protocol.", "address", *address)

	select {
	case <-ctx.Done():
		serverErr := redisServer.Close()
		if serverErr == nil {
			serverErr = <-serverErrSignal // Wait for open connections to be closed.
		}
		registryErr := registry.Close()
		if exitErr := errors.Join(serverErr, registryErr); exitErr != nil {
			return fmt.Errorf("failed to close dlist: %w", exitErr)
		}
	case err := <-serverErrSignal:
		if err == nil {
			err = errors.New("listener closed")
		}
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
