package console

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/webserial"
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func readLine(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestWebIndex(t *testing.T) {
	tr := NewWebTransport(WebConfig{})
	srv := httptest.NewServer(tr.Router())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "/webserial") || !strings.Contains(string(body), "/update") {
		t.Error("unexpected index:", string(body))
	}
}

func TestWebSerial(t *testing.T) {
	tr := NewWebTransport(WebConfig{Backlog: 2})
	received := make(chan string, 1)
	tr.OnReceive(func(s string) { received <- s })
	tr.SendLine("one")
	tr.SendLine("two")
	tr.SendLine("three")
	if b := tr.Backlog(); len(b) != 2 || !strings.HasSuffix(b[0], " two") {
		t.Fatal("backlog should keep the newest lines, got", b)
	}

	srv := httptest.NewServer(tr.Router())
	defer srv.Close()
	conn := dial(t, srv, nil)
	defer conn.Close()

	if l := readLine(t, conn); !strings.HasSuffix(l, " two") {
		t.Error("expected backlog replay, got", l)
	}
	if l := readLine(t, conn); !strings.HasSuffix(l, " three") {
		t.Error("expected backlog replay, got", l)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("mode")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-received:
		if got != "mode" {
			t.Error("unexpected command:", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command not received")
	}

	// wait until the client is registered before sending live lines
	deadline := time.Now().Add(5 * time.Second)
	for {
		tr.mu.Lock()
		n := len(tr.clients)
		tr.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	tr.SendLine("MODE: Run mode")
	if l := readLine(t, conn); l != "MODE: Run mode" {
		t.Error("unexpected line:", l)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Flush(ctx); err != nil {
		t.Error(err)
	}
}

func TestWebAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	tr := NewWebTransport(WebConfig{User: "admin", PasswordHash: string(hash), SessionKey: "0123456789abcdef0123456789abcdef"})
	q := NewQueue()
	tr.LoadAPI(q)
	srv := httptest.NewServer(tr.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/console/log")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatal("expected unauthorized, got", resp.StatusCode)
	}

	jar, _ := cookiejar.New(nil)
	c := &http.Client{Jar: jar}
	resp, err = c.PostForm(srv.URL+"/auth/signin", url.Values{"user": {"admin"}, "password": {"wrong"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatal("wrong password should be rejected, got", resp.StatusCode)
	}
	resp, err = c.PostForm(srv.URL+"/auth/signin", url.Values{"user": {"admin"}, "password": {"secret"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatal("sign in failed:", resp.StatusCode)
	}
	resp, err = c.Get(srv.URL + "/api/console/queue")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Error("signed in client should reach the api, got", resp.StatusCode)
	}
}
