// Command loadtest hammers a running server with concurrent users
// exchanging direct messages. Run the server with the friendship gate
// disabled (MESS_REQUIRE_FRIENDSHIP=false), since generated users are
// not friends with each other.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"mess/db"
	"mess/protocol"

	"golang.org/x/sync/errgroup"
)

type counters struct {
	sent     atomic.Int64
	received atomic.Int64
	errors   atomic.Int64
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "server address")
	dbPath := flag.String("db", "", "server database path; when set, test users are created there first")
	users := flag.Int("users", 3, "number of concurrent users")
	messages := flag.Int("messages", 10, "messages each user sends")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if *dbPath != "" {
		if err := createUsers(*dbPath, *users); err != nil {
			slog.Error("failed to create test users", "err", err)
			os.Exit(1)
		}
	}

	var stats counters
	start := time.Now()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < *users; i++ {
		i := i
		g.Go(func() error {
			return runUser(ctx, *addr, i, *users, *messages, &stats)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("load test failed", "err", err)
		os.Exit(1)
	}

	slog.Info("load test finished",
		"users", *users,
		"sent", stats.sent.Load(),
		"received", stats.received.Load(),
		"errors", stats.errors.Load(),
		"elapsed", time.Since(start).String())
}

func createUsers(path string, n int) error {
	database, err := db.New(path)
	if err != nil {
		return err
	}
	defer database.Close()

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("user%d", i)
		if _, err := database.FindUserByName(name); err == nil {
			continue
		} else if !errors.Is(err, db.ErrNoRows) {
			return err
		}
		if err := database.CreateUser(name, fmt.Sprintf("pass%d", i)); err != nil {
			return err
		}
	}
	return nil
}

// runUser logs in, sends its quota of messages to the next user in the
// ring, and logs out. Incoming traffic is drained concurrently and
// counted.
func runUser(ctx context.Context, addr string, id, users, messages int, stats *counters) error {
	name := fmt.Sprintf("user%d", id)
	peer := fmt.Sprintf("user%d", (id+1)%users)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", name, err)
	}
	defer conn.Close()

	login := protocol.NormalMessage{
		Cmd:    protocol.CmdLogin,
		Params: []string{name, fmt.Sprintf("pass%d", id)},
	}
	if _, err := conn.Write(login.Bytes()); err != nil {
		return fmt.Errorf("login %s: %w", name, err)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		drain(conn, name, stats)
	}()

	for i := 0; i < messages; i++ {
		msg := protocol.PayloadMessage{
			Cmd:     protocol.CmdMessage,
			Params:  []string{peer},
			Payload: []byte(fmt.Sprintf("msg %d from %s", i, name)),
		}
		if _, err := conn.Write(msg.Bytes()); err != nil {
			stats.errors.Add(1)
			return fmt.Errorf("send %s: %w", name, err)
		}
		stats.sent.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	// give in-flight deliveries a moment before logging out
	time.Sleep(500 * time.Millisecond)

	logout := protocol.NormalMessage{Cmd: protocol.CmdLogout}
	if _, err := conn.Write(logout.Bytes()); err != nil {
		stats.errors.Add(1)
	}

	conn.Close()
	<-readerDone
	return nil
}

// drain reads frames until the connection closes, counting received
// direct messages and reporting server-side errors.
func drain(conn net.Conn, name string, stats *counters) {
	buffer := protocol.NewBuffer(0)
	chunk := make([]byte, 4096)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			frames, perr := buffer.Push(chunk[:n])
			if perr != nil {
				stats.errors.Add(1)
				return
			}
			for _, frame := range frames {
				msg, perr := protocol.Parse(frame)
				if perr != nil {
					continue
				}
				switch m := msg.(type) {
				case protocol.PayloadMessage:
					if m.Cmd == protocol.CmdMessage {
						stats.received.Add(1)
					}
				case protocol.ErrorMessage:
					stats.errors.Add(1)
					slog.Warn("server error", "user", name, "code", m.Code)
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("reader stopped", "user", name, "err", err)
			}
			return
		}
	}
}
