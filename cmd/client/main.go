// Command client is a terminal client for the mycord chat server.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Tyrowin/mycord/internal/protocol"
)

type settings struct {
	host     string
	port     int
	quiet    bool
	username string
}

func main() {
	s, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(2)
	}
	if err := run(s); err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (settings, error) {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	ip := fs.String("ip", "127.0.0.1", "IP to connect to")
	domain := fs.String("domain", "", "Domain name to connect to (if domain is specified, IP must not be)")
	port := fs.Int("port", 8080, "port to connect to")
	quiet := fs.Bool("quiet", false, "do not perform alerts or mention highlighting")
	username := fs.String("username", "", "username to log in with (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return settings{}, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["ip"] && set["domain"] {
		return settings{}, errors.New("--ip and --domain are mutually exclusive")
	}
	if *port <= 0 || *port > 65535 {
		return settings{}, fmt.Errorf("invalid port %d", *port)
	}

	host := *ip
	if *domain != "" {
		host = *domain
	}
	return settings{host: host, port: *port, quiet: *quiet, username: *username}, nil
}

func run(s settings) error {
	stdin := bufio.NewScanner(os.Stdin)

	if s.username == "" {
		name, err := promptUsername(stdin, os.Stdout)
		if err != nil {
			return err
		}
		s.username = name
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, protocol.NewMessage(protocol.KindLogin, s.username, "")); err != nil {
		return fmt.Errorf("send LOGIN: %w", err)
	}

	color := term.IsTerminal(int(os.Stdout.Fd()))
	p := newPrinter(os.Stdout, s.username, s.quiet, color)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	received := make(chan error, 1)
	go func() { received <- receive(conn, p) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for stdin.Scan() {
			lines <- stdin.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return logout(conn, s.username)
		case err := <-received:
			return err
		case line, ok := <-lines:
			if !ok {
				return logout(conn, s.username)
			}
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			msg := protocol.NewMessage(protocol.KindMessageSend, s.username, protocol.Clip(line, protocol.BodySize-1))
			if err := protocol.WriteMessage(conn, msg); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

// receive prints frames until the server disconnects us or the stream ends.
func receive(r io.Reader, p *printer) error {
	for {
		m, err := protocol.ReadMessage(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if p.print(m) {
			return nil
		}
	}
}

func logout(conn net.Conn, username string) error {
	if err := protocol.WriteMessage(conn, protocol.NewMessage(protocol.KindLogout, username, "")); err != nil {
		return fmt.Errorf("send LOGOUT: %w", err)
	}
	return nil
}

func promptUsername(in *bufio.Scanner, out io.Writer) (string, error) {
	for {
		fmt.Fprint(out, "Username: ")
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		name := strings.TrimSpace(in.Text())
		if name != "" {
			return protocol.Clip(name, protocol.UsernameSize-1), nil
		}
	}
}
