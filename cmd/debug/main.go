package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/touka-aoi/low-level-relay/core/logging"
)

// stdin の各行をリレーに送り、リレーから届いたバイトを stdout に書き出す
func main() {
	addr := flag.String("addr", "127.0.0.1:8888", "Relay address")
	flag.Parse()

	logger := slog.New(logging.NewHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", *addr)
	if err != nil {
		slog.Error("Failed to connect", "address", *addr, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	slog.Info("Connected", "local", conn.LocalAddr(), "remote", conn.RemoteAddr())

	if err := pump(ctx, conn, os.Stdin, os.Stdout); err != nil {
		slog.Error("Connection error", "error", err)
		os.Exit(1)
	}
}

// pump sends every line of in to conn and copies conn to out until the relay
// closes the connection or ctx is done. The end of in does not end the session:
// a half-close would read as a disconnect on the relay side.
func pump(ctx context.Context, conn net.Conn, in io.Reader, out io.Writer) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	received := make(chan error, 1)
	go func() {
		n, err := io.Copy(out, conn)
		slog.Debug("Relay closed the connection", "bytes", n)
		received <- err
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := append(scanner.Bytes(), '\n')
		if _, err := conn.Write(line); err != nil {
			slog.Error("Failed to send", "error", err)
			break
		}
	}

	err := <-received
	if ctx.Err() != nil {
		return nil
	}
	return err
}
