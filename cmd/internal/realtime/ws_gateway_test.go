package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	v1 "fintrack/shared/contracts/chat/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"
)

// frame decodes either server frame shape.
type frame struct {
	Sender  int64  `json:"sender"`
	Content string `json:"content"`
	Error   string `json:"Error"`
}

type gatewayFixture struct {
	srv *httptest.Server
	reg *Registry
	mb  *InMemoryMailbox
	dir *MemoryDirectory
}

// tokenAuth accepts "u<id>" tokens.
var tokenAuth = AuthenticatorFunc(func(_ context.Context, token string) (UserID, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(token, "u"), 10, 64)
	if err != nil || !strings.HasPrefix(token, "u") {
		return 0, errors.New("bad token")
	}
	return UserID(id), nil
})

func newGatewayFixture(t *testing.T, cfg GatewayConfig, known ...UserID) *gatewayFixture {
	t.Helper()

	reg := NewRegistry(discardLogger(), nil)
	mb := NewInMemoryMailbox(0)
	dir := NewMemoryDirectory(known...)
	router := NewRouter(discardLogger(), reg, mb, dir, nil)
	gw := NewWSGateway(discardLogger(), cfg, tokenAuth, router)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	return &gatewayFixture{srv: srv, reg: reg, mb: mb, dir: dir}
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + token
	c, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

// connect dials as id and waits until the session is registered.
func (f *gatewayFixture) connect(t *testing.T, id UserID) *websocket.Conn {
	t.Helper()
	c := f.dial(t, "u"+strconv.FormatInt(int64(id), 10))
	require.Eventually(t, func() bool { return f.reg.Online(id) }, 2*time.Second, 10*time.Millisecond)
	return c
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, v))
}

func sendRaw(t *testing.T, c *websocket.Conn, s string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(s)))
}

func recv(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var f frame
	require.NoError(t, wsjson.Read(ctx, c, &f))
	return f
}

func TestWSGateway_OnlineOfflineReconnect(t *testing.T) {
	t.Parallel()

	const alice, bob UserID = 1, 2
	f := newGatewayFixture(t, DefaultGatewayConfig(), alice, bob)

	a := f.connect(t, alice)
	b := f.connect(t, bob)

	send(t, b, v1.ChatMessage{Recipient: []int64{int64(alice)}, Message: "hey"})
	require.Equal(t, frame{Sender: int64(bob), Content: "hey"}, recv(t, a))
	require.Zero(t, f.mb.Len(alice))

	require.NoError(t, a.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return !f.reg.Online(alice) }, 2*time.Second, 10*time.Millisecond)

	send(t, b, v1.ChatMessage{Recipient: []int64{int64(alice)}, Message: "you there?"})
	require.Eventually(t, func() bool { return f.mb.Len(alice) == 1 }, 2*time.Second, 10*time.Millisecond)

	a = f.connect(t, alice)
	require.Equal(t, frame{Sender: int64(bob), Content: "you there?"}, recv(t, a))
	require.Zero(t, f.mb.Len(alice))

	send(t, b, v1.ChatMessage{Recipient: []int64{int64(alice)}, Message: "live again"})
	require.Equal(t, frame{Sender: int64(bob), Content: "live again"}, recv(t, a))
}

func TestWSGateway_BacklogPrecedesLiveTraffic(t *testing.T) {
	t.Parallel()

	const alice, bob UserID = 1, 2
	f := newGatewayFixture(t, DefaultGatewayConfig(), alice, bob)

	for i := 0; i < 20; i++ {
		require.NoError(t, f.mb.Enqueue(context.Background(), alice, RoutedMessage{Sender: bob, Content: "q" + strconv.Itoa(i)}))
	}

	b := f.connect(t, bob)
	a := f.dial(t, "u1")

	go func() {
		for i := 0; i < 5; i++ {
			_ = wsjson.Write(context.Background(), b, v1.ChatMessage{Recipient: []int64{int64(alice)}, Message: "live"})
		}
	}()

	for i := 0; i < 20; i++ {
		require.Equal(t, "q"+strconv.Itoa(i), recv(t, a).Content)
	}
}

func TestWSGateway_TokenError(t *testing.T) {
	t.Parallel()

	f := newGatewayFixture(t, DefaultGatewayConfig())
	c := f.dial(t, "garbage")

	require.Equal(t, frame{Error: v1.NoticeTokenError}, recv(t, c))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	require.Zero(t, f.reg.Len())
}

func TestWSGateway_BearerHeader(t *testing.T) {
	t.Parallel()

	f := newGatewayFixture(t, DefaultGatewayConfig(), 7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer u7"}},
	})
	require.NoError(t, err)
	defer c.CloseNow()

	require.Eventually(t, func() bool { return f.reg.Online(7) }, 2*time.Second, 10*time.Millisecond)
}

func TestWSGateway_BadFramesKeepSessionOpen(t *testing.T) {
	t.Parallel()

	f := newGatewayFixture(t, DefaultGatewayConfig(), 1)
	c := f.connect(t, 1)

	cases := []struct {
		raw  string
		want string
	}{
		{raw: "not json", want: v1.NoticeInvalidJSON},
		{raw: `{"recipient":"1","message":"x"}`, want: v1.NoticeInvalidFormat},
		{raw: `null`, want: v1.NoticeInvalidFormat},
		{raw: `{"recipient":[1],"message":null}`, want: v1.NoticeInvalidFormat},
		{raw: `{"recipient":null,"message":"x"}`, want: v1.NoticeInvalidFormat},
		{raw: `{"recipient":[1],"message":""}`, want: v1.NoticeEnterMessage},
		{raw: `{"message":"x"}`, want: v1.NoticeRecipientMissing},
		{raw: `{"recipient":[99],"message":"x"}`, want: v1.NoticeNoSuchUser},
		{raw: `{"recipient":[98,99],"message":"x"}`, want: v1.NoticeNoSuchUsers},
	}
	for _, tc := range cases {
		sendRaw(t, c, tc.raw)
		require.Equal(t, frame{Error: tc.want}, recv(t, c), "frame %s", tc.raw)
	}

	send(t, c, v1.ChatMessage{Recipient: []int64{1}, Message: "still open"})
	require.Equal(t, frame{Sender: 1, Content: "still open"}, recv(t, c))
}

func TestWSGateway_PartialUnknownNotices(t *testing.T) {
	t.Parallel()

	f := newGatewayFixture(t, DefaultGatewayConfig(), 1)
	c := f.connect(t, 1)

	send(t, c, v1.ChatMessage{Recipient: []int64{1, 42}, Message: "hi"})

	got := []frame{recv(t, c), recv(t, c)}
	require.ElementsMatch(t, []frame{
		{Sender: 1, Content: "hi"},
		{Error: v1.NoUserNotice(42)},
	}, got)
}

func TestWSGateway_ReplacesOlderSession(t *testing.T) {
	t.Parallel()

	f := newGatewayFixture(t, DefaultGatewayConfig(), 1, 2)
	first := f.connect(t, 1)
	firstConn, ok := f.reg.Lookup(1)
	require.True(t, ok)

	second := f.dial(t, "u1")
	require.Eventually(t, func() bool {
		c, ok := f.reg.Lookup(1)
		return ok && c != firstConn
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	// The replaced session's cleanup must not evict the new one.
	time.Sleep(50 * time.Millisecond)
	require.True(t, f.reg.Online(1))

	b := f.connect(t, 2)
	send(t, b, v1.ChatMessage{Recipient: []int64{1}, Message: "to the new one"})
	require.Equal(t, frame{Sender: 2, Content: "to the new one"}, recv(t, second))
}

func TestWSGateway_RateLimited(t *testing.T) {
	t.Parallel()

	cfg := DefaultGatewayConfig()
	cfg.RateEvents = 2
	cfg.RateWindow = time.Hour

	f := newGatewayFixture(t, cfg, 1)
	c := f.connect(t, 1)

	for i := 0; i < 3; i++ {
		send(t, c, v1.ChatMessage{Recipient: []int64{1}, Message: "m" + strconv.Itoa(i)})
	}

	require.Equal(t, frame{Sender: 1, Content: "m0"}, recv(t, c))
	require.Equal(t, frame{Sender: 1, Content: "m1"}, recv(t, c))
	require.Equal(t, frame{Error: v1.NoticeTooManyMessages}, recv(t, c))
}

func TestWSGateway_RemembersUsers(t *testing.T) {
	t.Parallel()

	f := newGatewayFixture(t, DefaultGatewayConfig())
	f.connect(t, 5)

	ids, err := f.dir.ListUserIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []UserID{5}, ids)
}

func TestWSGateway_RejectsDisallowedOrigin(t *testing.T) {
	t.Parallel()

	cfg := DefaultGatewayConfig()
	cfg.AllowedOrigins = []string{"https://app.fintrack.example"}
	f := newGatewayFixture(t, cfg)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/ws?token=u1", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// stallingMailbox never answers Drain before its context ends.
type stallingMailbox struct {
	*InMemoryMailbox
}

func (stallingMailbox) Drain(ctx context.Context, _ UserID) ([]RoutedMessage, error) {
	<-ctx.Done()
	return nil, errors.Join(ErrStoreFailure, ctx.Err())
}

func TestWSGateway_StalledDrainIsBounded(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)
	router := NewRouter(discardLogger(), reg, stallingMailbox{NewInMemoryMailbox(0)}, NewMemoryDirectory(1, 2), nil)
	cfg := DefaultGatewayConfig()
	cfg.StoreTimeout = 50 * time.Millisecond
	srv := httptest.NewServer(NewWSGateway(discardLogger(), cfg, tokenAuth, router))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token=u1", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	require.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return !reg.Online(1) }, time.Second, 10*time.Millisecond)
}
