// Package main provides a CI-friendly smoke test for the wastewise live channel.
//
// It validates:
//   - handshake with the credential as the last path segment
//   - every received frame decodes as a v1 envelope of a known kind
//   - optionally, that a client frame can be written
//   - a clean close
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"wastewise/cmd/identity/ids"
	"wastewise/shared/contracts/isotime"
	v1 "wastewise/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"
)

const maxReadBytes = 64 << 10

func main() {
	var (
		baseURL  = pflag.String("url", "ws://127.0.0.1:8000/ws", "live channel base URL")
		token    = pflag.String("token", os.Getenv("WASTEWISE_TOKEN"), "bearer credential (default $WASTEWISE_TOKEN)")
		count    = pflag.Int("count", 1, "envelopes to wait for before closing (0 = handshake only)")
		sendKind = pflag.String("send-kind", "", "kind of one client frame to write after connecting")
		sendData = pflag.String("send-data", "{}", "JSON payload of the client frame")
		timeout  = pflag.Duration("timeout", 10*time.Second, "overall timeout")
		verbose  = pflag.BoolP("verbose", "v", false, "print every envelope")
	)
	pflag.Parse()

	if strings.TrimSpace(*token) == "" {
		fatalf("missing --token (or WASTEWISE_TOKEN)")
	}
	if err := validateWSURL(*baseURL); err != nil {
		fatalf("invalid --url: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target := strings.TrimRight(*baseURL, "/") + "/" + url.PathEscape(strings.TrimSpace(*token))
	conn, resp, err := websocket.Dial(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fatalf("connect: %v (status=%d)", err, status)
	}
	defer closeWS(conn)
	conn.SetReadLimit(maxReadBytes)

	fmt.Println("OK: connected")

	if *sendKind != "" {
		mustSend(ctx, conn, v1.Kind(*sendKind), *sendData)
		fmt.Printf("OK: sent %s\n", *sendKind)
	}

	for i := 0; i < *count; i++ {
		env := mustReadEnvelope(ctx, conn)
		if *verbose {
			b, _ := json.Marshal(env)
			fmt.Println(string(b))
		}
		fmt.Printf("OK: envelope %d type=%s\n", i+1, env.Type)
	}

	fmt.Println("PASS")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustSend(ctx context.Context, conn *websocket.Conn, kind v1.Kind, data string) {
	if !kind.Valid() {
		fatalf("unknown --send-kind %q", kind)
	}
	if !json.Valid([]byte(data)) {
		fatalf("--send-data is not valid JSON")
	}

	now := time.Now().UTC()
	env := v1.Envelope{Type: kind, Data: json.RawMessage(data), Timestamp: isotime.From(now), ID: ids.MustULID(now)}
	if err := env.Validate(); err != nil {
		fatalf("--send-data: %v", err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("encode frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("send: %v", err)
	}
}

func mustReadEnvelope(ctx context.Context, conn *websocket.Conn) v1.Envelope {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		fatalf("unexpected frame type %v", typ)
	}
	env, err := v1.Decode(data)
	if err != nil {
		fatalf("decode: %v (frame=%q)", err, truncate(string(data), 200))
	}
	return env
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
