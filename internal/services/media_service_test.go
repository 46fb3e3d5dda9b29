package services

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/batilieri/multichat-system/internal/models"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

// seedMedia stores an image message with a pending media row
func (e *testEnv) seedMedia(t *testing.T, messageID string) *models.MediaFile {
	t.Helper()
	chat := e.seedChat(t, "5511955554444")
	msg := e.seedMessage(t, chat, messageID, false)
	mf := models.MediaFile{
		ClienteID:  e.cliente.ID,
		MensagemID: msg.ID,
		InstanceID: testInstanceID,
		ChatID:     chat.ChatID,
		MessageID:  messageID,
		Tipo:       models.TipoImagem,
		MediaKey:   "a2V5",
		DirectPath: "/v/t62/abc",
		Status:     models.MediaPending,
	}
	if err := e.db.Create(&mf).Error; err != nil {
		t.Fatal(err)
	}
	return &mf
}

func (e *testEnv) serveMedia(t *testing.T) {
	t.Helper()
	e.vendor.handle("/message/download-media", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fileLink":"` + e.vendor.URL + `/files/img"}`))
	})
	e.vendor.handle("/files/img", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	})
}

func TestDownloadStoresFileAtomically(t *testing.T) {
	env := newTestEnv(t)
	env.serveMedia(t)
	mf := env.seedMedia(t, "IMG-OK")

	if err := env.media.Process(context.Background(), mf.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	var got models.MediaFile
	env.db.First(&got, mf.ID)
	if got.Status != models.MediaSuccess || got.Attempts != 1 {
		t.Fatalf("row = %s attempts=%d (%s)", got.Status, got.Attempts, got.LastError)
	}
	want := filepath.Join("cliente_1", "instance_"+testInstanceID, "chats", "5511955554444", "imagem", "IMG-OK.png")
	if got.FilePath != want {
		t.Errorf("path = %q, want %q", got.FilePath, want)
	}
	if got.MimeType != "image/png" {
		t.Errorf("mime = %q, want sniffed image/png", got.MimeType)
	}

	entries, _ := os.ReadDir(filepath.Dir(filepath.Join(env.media.Root(), got.FilePath)))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	// a second run is a no-op
	if err := env.media.Download(context.Background(), &got); err != nil {
		t.Fatal(err)
	}
	if n := env.vendor.count("/message/download-media"); n != 1 {
		t.Errorf("download-media called %d times, want 1", n)
	}
}

func TestDownloadFailureMarksRow(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.json("/message/download-media", http.StatusBadRequest, `{"message":"media expired"}`)
	mf := env.seedMedia(t, "IMG-BAD")

	err := env.media.Process(context.Background(), mf.ID)
	if !IsVendorError(err) {
		t.Fatalf("expected vendor error, got %v", err)
	}
	var got models.MediaFile
	env.db.First(&got, mf.ID)
	if got.Status != models.MediaFailed || got.LastError == "" || got.FilePath != "" {
		t.Errorf("row = %+v", got)
	}
}

func TestDownloadWithoutDescriptorFails(t *testing.T) {
	env := newTestEnv(t)
	mf := env.seedMedia(t, "IMG-EMPTY")
	env.db.Model(mf).Updates(map[string]interface{}{"media_key": "", "direct_path": ""})

	if err := env.media.Process(context.Background(), mf.ID); err == nil {
		t.Fatal("expected error")
	}
	if n := env.vendor.count("/message/download-media"); n != 0 {
		t.Errorf("vendor called %d times for an empty descriptor", n)
	}
}

func TestHopelessRowsRunOutOfAttempts(t *testing.T) {
	env := newTestEnv(t)
	empty := env.seedMedia(t, "IMG-NOKEY")
	env.db.Model(empty).Updates(map[string]interface{}{"media_key": "", "direct_path": ""})
	orphanInst := env.seedMedia(t, "IMG-NOINST")
	env.db.Model(orphanInst).Update("instance_id", "INST-GONE")

	for i := 0; i < 3; i++ {
		res, err := env.media.ReprocessFailed(context.Background(), env.cliente.ID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Processed != 2 || res.Failed != 2 {
			t.Fatalf("run %d: result = %+v", i, res)
		}
	}

	res, err := env.media.ReprocessFailed(context.Background(), env.cliente.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 {
		t.Errorf("exhausted rows retried again: %+v", res)
	}
	for _, id := range []uint{empty.ID, orphanInst.ID} {
		var got models.MediaFile
		env.db.First(&got, id)
		if got.Status != models.MediaFailed || got.Attempts != 3 {
			t.Errorf("row %d = %s attempts=%d", id, got.Status, got.Attempts)
		}
	}
}

func TestDownloadedRowsAreLeftAlone(t *testing.T) {
	env := newTestEnv(t)
	env.serveMedia(t)
	mf := env.seedMedia(t, "IMG-KEEP")
	if err := env.media.Process(context.Background(), mf.ID); err != nil {
		t.Fatal(err)
	}
	var before models.MediaFile
	env.db.First(&before, mf.ID)

	if _, err := env.media.ReprocessFailed(context.Background(), env.cliente.ID); err != nil {
		t.Fatal(err)
	}
	res, err := env.media.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res != (ReconcileResult{}) {
		t.Errorf("reconcile did work on a healthy row: %+v", res)
	}

	var after models.MediaFile
	env.db.First(&after, mf.ID)
	if after.Status != models.MediaSuccess || after.FilePath != before.FilePath || after.Attempts != before.Attempts {
		t.Errorf("row changed: before %+v after %+v", before, after)
	}
	if n := env.vendor.count("/message/download-media"); n != 1 {
		t.Errorf("download-media called %d times, want 1", n)
	}
}

func TestReconcileDropsOrphanMedia(t *testing.T) {
	env := newTestEnv(t)
	env.serveMedia(t)
	mf := env.seedMedia(t, "IMG-ORPHAN")
	if err := env.media.Process(context.Background(), mf.ID); err != nil {
		t.Fatal(err)
	}
	env.db.First(mf, mf.ID)
	abs := filepath.Join(env.media.Root(), mf.FilePath)

	// rows left behind by older deletes that did not cascade
	env.db.Exec("PRAGMA foreign_keys = OFF")
	if err := env.db.Exec("DELETE FROM mensagens WHERE id = ?", mf.MensagemID).Error; err != nil {
		t.Fatal(err)
	}
	env.db.Exec("PRAGMA foreign_keys = ON")

	res, err := env.media.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Orphaned != 1 {
		t.Errorf("result = %+v", res)
	}
	var count int64
	env.db.Model(&models.MediaFile{}).Where("id = ?", mf.ID).Count(&count)
	if count != 0 {
		t.Error("orphan media row kept")
	}
	if _, err := os.Stat(abs); !os.IsNotExist(err) {
		t.Errorf("orphan file kept: %v", err)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	env := newTestEnv(t)
	env.serveMedia(t)

	// success row whose file vanished
	lost := env.seedMedia(t, "IMG-LOST")
	if err := env.media.Process(context.Background(), lost.ID); err != nil {
		t.Fatal(err)
	}
	env.db.First(lost, lost.ID)
	if err := os.Remove(filepath.Join(env.media.Root(), lost.FilePath)); err != nil {
		t.Fatal(err)
	}

	// failed row whose file is actually on disk
	found := env.seedMedia(t, "IMG-FOUND")
	dir := env.media.mediaDir(found)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "IMG-FOUND.jpg"), pngBytes, 0644); err != nil {
		t.Fatal(err)
	}
	env.db.Model(found).Update("status", models.MediaFailed)

	res, err := env.media.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Requeued != 1 || res.Promoted != 1 {
		t.Errorf("result = %+v", res)
	}

	var got models.MediaFile
	env.db.First(&got, lost.ID)
	if got.Status != models.MediaSuccess || !env.media.fileExists(got.FilePath) {
		t.Errorf("lost file not downloaded again: %+v", got)
	}
	env.db.First(&got, found.ID)
	if got.Status != models.MediaSuccess || got.FilePath == "" {
		t.Errorf("found file not promoted: %+v", got)
	}
}

func TestReprocessFailedRespectsAttempts(t *testing.T) {
	env := newTestEnv(t)
	env.serveMedia(t)
	retry := env.seedMedia(t, "IMG-RETRY")
	exhausted := env.seedMedia(t, "IMG-DONE")
	env.db.Model(retry).Updates(map[string]interface{}{"status": models.MediaFailed, "attempts": 1})
	env.db.Model(exhausted).Updates(map[string]interface{}{"status": models.MediaFailed, "attempts": 3})

	res, err := env.media.ReprocessFailed(context.Background(), env.cliente.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.Succeeded != 1 {
		t.Errorf("result = %+v", res)
	}

	summary, _ := env.media.Summary(env.cliente.ID)
	if summary[models.MediaSuccess] != 1 || summary[models.MediaFailed] != 1 {
		t.Errorf("summary = %v", summary)
	}
}

func TestResolveEnforcesTenant(t *testing.T) {
	env := newTestEnv(t)
	env.serveMedia(t)
	mf := env.seedMedia(t, "IMG-OWN")
	if err := env.media.Process(context.Background(), mf.ID); err != nil {
		t.Fatal(err)
	}
	env.db.First(mf, mf.ID)

	abs, err := env.media.Resolve(env.cliente.ID, filepath.ToSlash(mf.FilePath))
	if err != nil {
		t.Fatalf("own file: %v", err)
	}
	if !strings.HasPrefix(abs, env.media.Root()) {
		t.Errorf("resolved outside root: %s", abs)
	}

	if _, err := env.media.Resolve(env.cliente.ID+1, filepath.ToSlash(mf.FilePath)); !errors.Is(err, ErrForbidden) {
		t.Errorf("other tenant: %v", err)
	}
	if _, err := env.media.Resolve(env.cliente.ID, "../../etc/passwd"); !errors.Is(err, ErrForbidden) {
		t.Errorf("traversal: %v", err)
	}
	if _, err := env.media.Resolve(env.cliente.ID, "cliente_1/missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: %v", err)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		name string
		mf   models.MediaFile
		want string
	}{
		{"document keeps its name", models.MediaFile{Tipo: models.TipoDocumento, FileName: "Nota.PDF"}, ".pdf"},
		{"mime with params", models.MediaFile{Tipo: models.TipoImagem, MimeType: "image/jpeg; charset=binary"}, ".jpg"},
		{"fallback by tipo", models.MediaFile{Tipo: models.TipoSticker}, ".webp"},
		{"unknown", models.MediaFile{Tipo: "x"}, ".bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extensionFor(&tt.mf); got != tt.want {
				t.Errorf("extensionFor = %q, want %q", got, tt.want)
			}
		})
	}
}
