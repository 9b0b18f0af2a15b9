package discord

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"quantaforge.ai/internal/chat"
)

func TestHandleDispatch_MessageCreate(t *testing.T) {
	a := New(Config{Token: "x", ModeratorRoles: []string{"role-mod"}})
	a.selfID = "self-1"

	var got []string
	var mods []bool
	a.OnMessage(func(m chat.ChatMessage) {
		got = append(got, m.DisplayName+": "+m.Text)
		mods = append(mods, m.IsModerator)
	})

	frame := func(author, nick, content string, roles []string, bot bool) gatewayPayload {
		d := map[string]any{
			"id":         "m1",
			"channel_id": "c1",
			"content":    content,
			"author":     map[string]any{"id": author, "username": author, "bot": bot},
			"member":     map[string]any{"nick": nick, "roles": roles},
		}
		raw, _ := json.Marshal(d)
		return gatewayPayload{Op: opDispatch, Type: "MESSAGE_CREATE", Data: raw}
	}

	a.handleDispatch(frame("u1", "Fan", "!qai status", []string{"role-mod"}, false))
	a.handleDispatch(frame("u2", "", "hello", nil, false))
	a.handleDispatch(frame("self-1", "", "echo", nil, false))
	a.handleDispatch(frame("u3", "", "beep", nil, true))

	if len(got) != 2 {
		t.Fatalf("messages=%v", got)
	}
	if got[0] != "Fan: !qai status" || !mods[0] {
		t.Fatalf("first=%q mod=%v", got[0], mods[0])
	}
	if got[1] != "u2: hello" || mods[1] {
		t.Fatalf("second=%q mod=%v", got[1], mods[1])
	}
}

func TestHandleDispatch_ReadyMarksConnected(t *testing.T) {
	a := New(Config{Token: "x"})
	var ups []bool
	a.OnConnectionChanged(func(up bool) { ups = append(ups, up) })

	raw, _ := json.Marshal(map[string]any{"user": map[string]any{"id": "bot-7"}})
	a.handleDispatch(gatewayPayload{Op: opDispatch, Type: "READY", Data: raw})

	if !a.IsConnected() {
		t.Fatalf("adapter should be connected after READY")
	}
	if a.selfID != "bot-7" {
		t.Fatalf("selfID=%q", a.selfID)
	}
	if len(ups) != 1 || !ups[0] {
		t.Fatalf("connection events=%v", ups)
	}
}

func TestSendMessage_REST(t *testing.T) {
	var gotAuth, gotPath, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotContent = body["content"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(Config{Token: "tok", APIBase: srv.URL})
	if err := a.SendMessage("chan-9", "hi there"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "Bot tok" {
		t.Fatalf("auth=%q", gotAuth)
	}
	if gotPath != "/channels/chan-9/messages" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotContent != "hi there" {
		t.Fatalf("content=%q", gotContent)
	}
}

func TestSendMessage_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing access", http.StatusForbidden)
	}))
	defer srv.Close()

	a := New(Config{Token: "tok", APIBase: srv.URL})
	if err := a.SendMessage("chan-9", "hi"); err == nil {
		t.Fatalf("expected error on 403")
	}
}

func TestBroadcastRequiresChannel(t *testing.T) {
	a := New(Config{Token: "tok"})
	if err := a.Broadcast("hi"); err == nil {
		t.Fatalf("expected error without a broadcast channel")
	}
}
