package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
)

func TestSendMessageReturnsVendorID(t *testing.T) {
	env := newTestEnv(t)
	var auth, instance string
	env.vendor.handle("/message/send-text", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		instance = r.URL.Query().Get("instanceId")
		w.Write([]byte(`{"messageId":"3EB0ABC"}`))
	})

	id, err := env.wapi.SendMessage(context.Background(), Creds(env.inst), "texto", map[string]interface{}{"phone": "5511", "message": "oi"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "3EB0ABC" {
		t.Errorf("id = %q", id)
	}
	if auth != "Bearer tok" || instance != testInstanceID {
		t.Errorf("credentials not sent: auth=%q instance=%q", auth, instance)
	}
}

func TestVendorErrorsAreTyped(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.json("/message/edit-message", http.StatusBadRequest, `{"error":true,"message":"message too old"}`)
	env.vendor.json("/message/send-reaction", http.StatusOK, `{"error":true,"message":"not allowed"}`)

	err := env.wapi.EditMessage(context.Background(), Creds(env.inst), "5511", "X", "y")
	var ve *VendorError
	if !errors.As(err, &ve) {
		t.Fatalf("expected VendorError, got %v", err)
	}
	if ve.Status != http.StatusBadRequest || ve.Message != "message too old" {
		t.Errorf("vendor error = %+v", ve)
	}

	err = env.wapi.SendReaction(context.Background(), Creds(env.inst), "5511", "X", "👍")
	if !IsVendorError(err) {
		t.Errorf("error flag in a 200 body must be a VendorError, got %v", err)
	}

	if _, err := env.wapi.SendMessage(context.Background(), Creds(env.inst), "gif", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown tipo: %v", err)
	}
}

func TestMediaCallsRetryTransportFailures(t *testing.T) {
	env := newTestEnv(t)
	var calls int32
	env.vendor.handle("/message/download-media", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			// drop the connection to force a transport error
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("server does not support hijacking")
				return
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"fileLink":"https://files.example/abc.jpg"}`))
	})

	link, err := env.wapi.DownloadMedia(context.Background(), Creds(env.inst), MediaRequest{MessageID: "M", Type: "image"})
	if err != nil {
		t.Fatalf("download after retries: %v", err)
	}
	if link != "https://files.example/abc.jpg" {
		t.Errorf("link = %q", link)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestMediaCallsDoNotRetryVendorErrors(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.json("/message/download-media", http.StatusNotFound, `{"message":"media expired"}`)

	_, err := env.wapi.DownloadMedia(context.Background(), Creds(env.inst), MediaRequest{MessageID: "M"})
	if !IsVendorError(err) {
		t.Fatalf("expected VendorError, got %v", err)
	}
	if n := env.vendor.count("/message/download-media"); n != 1 {
		t.Errorf("vendor answered errors are final, got %d calls", n)
	}
}

func TestFetchFileStreamsBody(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.handle("/files/a.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	})
	env.vendor.json("/files/missing", http.StatusGone, `{}`)

	var buf bytes.Buffer
	n, err := env.wapi.FetchFile(context.Background(), env.vendor.URL+"/files/a.bin", &buf)
	if err != nil || n != 7 || buf.String() != "payload" {
		t.Fatalf("fetch = %d %q %v", n, buf.String(), err)
	}

	if _, err := env.wapi.FetchFile(context.Background(), env.vendor.URL+"/files/missing", &buf); !IsVendorError(err) {
		t.Errorf("expected VendorError, got %v", err)
	}
}

func TestFetchChatsAcceptsBareArray(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.json("/chats/fetch-chats", http.StatusOK, `[{"id":"5511955554444@s.whatsapp.net","name":"Bia"}]`)

	chats, err := env.wapi.FetchChats(context.Background(), Creds(env.inst), 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Name != "Bia" {
		t.Errorf("chats = %+v", chats)
	}
}
