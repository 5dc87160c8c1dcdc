package fgrib

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cloudflare/fgrib/prefix"
	"github.com/cloudflare/fgrib/rib"
	log "github.com/sirupsen/logrus"
)

const (
	COMMAND_UPDATE = iota
	COMMAND_WITHDRAW
	COMMAND_RESOLVE
	COMMAND_PRINT
	COMMAND_FLUSH
)

var commandFromStr = map[string]int{
	"update":   COMMAND_UPDATE,
	"withdraw": COMMAND_WITHDRAW,
	"resolve":  COMMAND_RESOLVE,
	"print":    COMMAND_PRINT,
	"flush":    COMMAND_FLUSH,
}

// Command is one line of a feed:
//
//	update <neighbor> <prefix>/<len> <as1,as2,...>
//	withdraw <neighbor> <prefix>/<len>
//	resolve <address>
//	print
//	flush
type Command struct {
	Type    int
	Route   rib.Route
	Address string
}

func parsePath(s string) ([]uint32, error) {
	if s == "" || s == "-" {
		return []uint32{}, nil
	}
	fields := strings.Split(s, ",")
	path := make([]uint32, len(fields))
	for i := range fields {
		as, err := strconv.ParseUint(strings.TrimSpace(fields[i]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad AS %q in path", fields[i])
		}
		path[i] = uint32(as)
	}
	return path, nil
}

// ParseLine reads a single feed line. Blank lines and lines starting with #
// yield ok == false.
func ParseLine(line string) (Command, bool, error) {
	var cmd Command
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return cmd, false, nil
	}

	t, ok := commandFromStr[strings.ToLower(fields[0])]
	if !ok {
		return cmd, false, fmt.Errorf("unknown command %q", fields[0])
	}
	cmd.Type = t
	args := fields[1:]

	switch t {
	case COMMAND_UPDATE, COMMAND_WITHDRAW:
		// withdrawals may carry a path, it is ignored
		if len(args) != 2 && len(args) != 3 {
			return cmd, false, fmt.Errorf("%v: expected <neighbor> <prefix>/<len> [path]", fields[0])
		}
		addr, length, err := prefix.ParseCIDR(args[1])
		if err != nil {
			return cmd, false, err
		}
		cmd.Route = rib.Route{
			Neighbor:  args[0],
			Prefix:    addr,
			PrefixLen: length,
		}
		if len(args) == 3 {
			if cmd.Route.Path, err = parsePath(args[2]); err != nil {
				return cmd, false, err
			}
		}
	case COMMAND_RESOLVE:
		if len(args) != 1 {
			return cmd, false, fmt.Errorf("resolve: expected <address>")
		}
		if _, err := prefix.ToBits(args[0]); err != nil {
			return cmd, false, err
		}
		cmd.Address = args[0]
	default:
		if len(args) != 0 {
			return cmd, false, fmt.Errorf("%v: unexpected arguments", fields[0])
		}
	}
	return cmd, true, nil
}

// scanLines reads rd on its own goroutine so callers can stop waiting on a
// blocked Read. The goroutine exits once done is closed and the pending Read
// returns.
func scanLines(rd io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(rd)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

// RunFeed executes a feed line by line. Updates and withdrawals go through the
// handler's workers; resolve and print wait for them first and write their
// output to out. Cancelling ctx returns at once, even while rd blocks; rd is
// not closed.
func RunFeed(ctx context.Context, rd io.Reader, uh *UpdateHandler, out io.Writer) error {
	done := make(chan struct{})
	defer close(done)
	lines, errc := scanLines(rd, done)

	lineno := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var line string
		var more bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, more = <-lines:
		}
		if !more {
			break
		}
		lineno++

		cmd, ok, err := ParseLine(line)
		if err != nil {
			return fmt.Errorf("line %v: %w", lineno, err)
		}
		if !ok {
			continue
		}

		switch cmd.Type {
		case COMMAND_UPDATE:
			uh.ProcessEvent(Event{Type: EVENT_UPDATE, Route: cmd.Route})
		case COMMAND_WITHDRAW:
			uh.ProcessEvent(Event{Type: EVENT_WITHDRAW, Route: cmd.Route})
		case COMMAND_FLUSH:
			uh.Flush()
		case COMMAND_RESOLVE:
			uh.Flush()
			nh, found, err := uh.Rib.Resolve(cmd.Address)
			if err != nil {
				return fmt.Errorf("line %v: %w", lineno, err)
			}
			if !found {
				nh = "none"
			}
			log.Debugf("Resolved %v to %v", cmd.Address, nh)
			fmt.Fprintf(out, "%v %v\n", cmd.Address, nh)
		case COMMAND_PRINT:
			uh.Flush()
			if err := rib.Print(out, uh.Rib); err != nil {
				return err
			}
		}
	}
	uh.Flush()
	return <-errc
}
