// Package main provides a CI-friendly WebSocket smoke test for the fintrack chat gateway.
//
// It validates:
//   - token auth on the handshake
//   - live direct delivery between two users
//   - offline queueing and drain on reconnect
//   - the unknown-recipient notice
//
// Tokens are signed locally, so the server must run with FINTRACK_JWT_ALGORITHM=HS256
// and the same FINTRACK_JWT_SECRET.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	v1 "fintrack/shared/contracts/chat/v1"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

const maxReadBytes = 1 << 16

// inbound accepts both server frame shapes.
type inbound struct {
	Sender  int64  `json:"sender"`
	Content string `json:"content"`
	Error   string `json:"Error"`
}

type smokeClient struct {
	name string
	conn *websocket.Conn
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		secret  = flag.String("secret", os.Getenv("FINTRACK_JWT_SECRET"), "HS256 secret shared with the server")
		issuer  = flag.String("issuer", os.Getenv("FINTRACK_JWT_ISSUER"), "Token issuer")
		alice   = flag.Int64("alice", 1, "Sender user id")
		bob     = flag.Int64("bob", 2, "Recipient user id")
		ghost   = flag.Int64("ghost", 987654321, "User id that must not exist")
		text    = flag.String("text", "lunch 12.50 RUB", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if len(*secret) < 32 {
		fatalf("-secret must be at least 32 bytes")
	}

	root := context.Background()
	connect := func(name string, id int64) *smokeClient {
		tok, err := issueAccessToken([]byte(*secret), *issuer, id, 5*time.Minute)
		if err != nil {
			fatalf("issue token %s: %v", name, err)
		}
		return mustConnect(root, name, *wsURL, *origin, tok, *timeout)
	}

	b := connect("bob", *bob)
	a := connect("alice", *alice)
	defer closeWS(a.conn)

	// live
	live := *text + " (live)"
	mustSend(root, a, v1.ChatMessage{Recipient: []int64{*bob}, Message: live}, *timeout)
	mustReceive(root, b, *alice, live, *timeout)
	if *verbose {
		fmt.Println("live delivery ok")
	}

	// offline
	closeWS(b.conn)
	time.Sleep(250 * time.Millisecond)

	queued := *text + " (queued)"
	mustSend(root, a, v1.ChatMessage{Recipient: []int64{*bob}, Message: queued}, *timeout)

	b = connect("bob", *bob)
	defer closeWS(b.conn)
	mustReceive(root, b, *alice, queued, *timeout)
	if *verbose {
		fmt.Println("offline drain ok")
	}

	// unknown recipient
	mustSend(root, a, v1.ChatMessage{Recipient: []int64{*ghost}, Message: *text}, *timeout)
	want := v1.NoUserNotice(*ghost)
	if f := mustRead(root, a, *timeout); f.Error != want {
		fatalf("unknown recipient: got=%+v want notice %q", f, want)
	}

	fmt.Printf("OK: alice=%d bob=%d\n", *alice, *bob)
}

// issueAccessToken signs an HS256 token in the accounts-service format:
// string user id in "sub" and "type": "access".
func issueAccessToken(secret []byte, issuer string, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(userID, 10),
		"type": "access",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
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

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	return &smokeClient{name: name, conn: conn}
}

func mustSend(parent context.Context, c *smokeClient, msg v1.ChatMessage, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(msg)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", c.name, err)
	}
}

func mustRead(parent context.Context, c *smokeClient, stepTimeout time.Duration) inbound {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	if err != nil {
		fatalf("read %s: %v", c.name, err)
	}
	var f inbound
	if err := json.Unmarshal(data, &f); err != nil {
		fatalf("bad json (%s): %v", c.name, err)
	}
	return f
}

func mustReceive(parent context.Context, c *smokeClient, sender int64, content string, stepTimeout time.Duration) {
	f := mustRead(parent, c, stepTimeout)
	if f.Error != "" {
		fatalf("server notice (%s): %q", c.name, f.Error)
	}
	if f.Sender != sender || f.Content != content {
		fatalf("unexpected frame (%s): got=%+v want sender=%d content=%q", c.name, f, sender, content)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
