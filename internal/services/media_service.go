package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/batilieri/multichat-system/internal/config"
	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/whatsapp"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// MediaService downloads media assets into the media root and keeps the
// MediaFile rows in line with what is on disk
type MediaService struct {
	db          *gorm.DB
	wapi        *WAPIClient
	instances   *InstanceService
	events      *EventService
	root        string
	workers     int
	maxAttempts int
	interval    time.Duration

	queue    chan uint
	inflight sync.Map
	wg       sync.WaitGroup
}

func NewMediaService(db *gorm.DB, wapi *WAPIClient, instances *InstanceService, events *EventService, cfg config.MediaConfig) *MediaService {
	return &MediaService{
		db:          db,
		wapi:        wapi,
		instances:   instances,
		events:      events,
		root:        cfg.Root,
		workers:     max(cfg.Workers, 1),
		maxAttempts: max(cfg.MaxAttempts, 1),
		interval:    cfg.ReconcileInterval,
		queue:       make(chan uint, max(cfg.QueueSize, 1)),
	}
}

// Root is the directory every stored path is relative to
func (s *MediaService) Root() string {
	return s.root
}

// Start launches the download workers and the periodic reconciler. They
// stop when ctx is cancelled; Wait blocks until they are gone.
func (s *MediaService) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	if s.interval > 0 {
		s.wg.Add(1)
		go s.reconcileLoop(ctx)
	}
	log.Info().Int("workers", s.workers).Dur("reconcile_interval", s.interval).Msg("media workers started")
}

func (s *MediaService) Wait() {
	s.wg.Wait()
}

func (s *MediaService) worker(ctx context.Context, n int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			if err := s.Process(ctx, id); err != nil {
				log.Warn().Err(err).Int("worker", n).Uint("media_id", id).Msg("media download failed")
			}
		}
	}
}

func (s *MediaService) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Reconcile(ctx)
			if err != nil {
				log.Error().Err(err).Msg("media reconcile failed")
				continue
			}
			if res.Orphaned+res.Requeued+res.Promoted+res.Processed > 0 {
				log.Info().Interface("result", res).Msg("media reconciled")
			}
		}
	}
}

// Enqueue hands a row to the workers. A full queue leaves the row pending
// for the next reconcile pass.
func (s *MediaService) Enqueue(id uint) bool {
	select {
	case s.queue <- id:
		return true
	default:
		log.Warn().Uint("media_id", id).Msg("media queue full, leaving row pending")
		return false
	}
}

// NewPendingMedia builds the MediaFile row for a freshly ingested message
func NewPendingMedia(msg *models.Mensagem, instanceID, chatID string, desc whatsapp.MediaDescriptor) models.MediaFile {
	return models.MediaFile{
		ClienteID:     msg.ClienteID,
		MensagemID:    msg.ID,
		InstanceID:    instanceID,
		ChatID:        chatID,
		MessageID:     msg.MessageID,
		Tipo:          msg.Tipo,
		MimeType:      desc.Mimetype,
		MediaKey:      desc.MediaKey,
		DirectPath:    desc.DirectPath,
		URL:           desc.URL,
		FileSha256:    desc.FileSha256,
		FileEncSha256: desc.FileEncSha256,
		FileLength:    desc.FileLength,
		FileName:      desc.FileName,
		Status:        models.MediaPending,
	}
}

// Process loads a row and downloads it. Concurrent calls for the same row
// collapse into one.
func (s *MediaService) Process(ctx context.Context, id uint) error {
	if _, busy := s.inflight.LoadOrStore(id, struct{}{}); busy {
		return nil
	}
	defer s.inflight.Delete(id)

	var mf models.MediaFile
	if err := s.db.First(&mf, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	return s.Download(ctx, &mf)
}

// Download fetches the asset of mf. A success row whose file exists is left
// untouched. The row is only marked success once the file is flushed and
// renamed into place.
func (s *MediaService) Download(ctx context.Context, mf *models.MediaFile) error {
	if mf.Status == models.MediaSuccess && s.fileExists(mf.FilePath) {
		return nil
	}

	// every try counts, so rows that can never succeed run out of attempts
	mf.Attempts++
	if err := s.db.Model(&models.MediaFile{}).Where("id = ?", mf.ID).
		Update("attempts", mf.Attempts).Error; err != nil {
		return err
	}

	inst, err := s.instances.ByVendorID(mf.InstanceID)
	if err != nil {
		return s.markFailed(mf, fmt.Errorf("instance %s: %w", mf.InstanceID, err))
	}
	if mf.MediaKey == "" || (mf.DirectPath == "" && mf.URL == "") {
		return s.markFailed(mf, errors.New("media descriptor has no key or path"))
	}

	link, err := s.wapi.DownloadMedia(ctx, Creds(inst), MediaRequest{
		MessageID:  mf.MessageID,
		Type:       string(whatsapp.TypeFromTag(mf.Tipo)),
		Mimetype:   mf.MimeType,
		MediaKey:   mf.MediaKey,
		DirectPath: mf.DirectPath,
	})
	if err != nil {
		return s.fail(ctx, mf, err)
	}

	rel, err := s.store(ctx, mf, link)
	if err != nil {
		return s.fail(ctx, mf, err)
	}

	now := time.Now().UTC()
	mf.Status = models.MediaSuccess
	mf.FilePath = rel
	mf.DownloadedAt = &now
	mf.LastError = ""
	if err := s.db.Model(&models.MediaFile{}).Where("id = ?", mf.ID).Updates(map[string]interface{}{
		"status":        mf.Status,
		"file_path":     mf.FilePath,
		"mime_type":     mf.MimeType,
		"downloaded_at": now,
		"last_error":    "",
	}).Error; err != nil {
		return fmt.Errorf("failed to mark media %d downloaded: %w", mf.ID, err)
	}

	log.Info().Uint("media_id", mf.ID).Str("path", rel).Msg("media downloaded")
	s.notify(mf)
	return nil
}

// fail leaves a cancelled download pending and marks anything else failed
func (s *MediaService) fail(ctx context.Context, mf *models.MediaFile, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return s.markFailed(mf, err)
}

func (s *MediaService) markFailed(mf *models.MediaFile, cause error) error {
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	mf.Status = models.MediaFailed
	mf.LastError = msg
	if err := s.db.Model(&models.MediaFile{}).Where("id = ?", mf.ID).Updates(map[string]interface{}{
		"status":     models.MediaFailed,
		"last_error": msg,
	}).Error; err != nil {
		log.Error().Err(err).Uint("media_id", mf.ID).Msg("failed to record media failure")
	}
	s.notify(mf)
	return cause
}

func (s *MediaService) notify(mf *models.MediaFile) {
	var msg models.Mensagem
	if err := s.db.Select("id", "chat_id").First(&msg, mf.MensagemID).Error; err != nil {
		return
	}
	if _, err := s.events.Append(mf.ClienteID, models.EventMediaUpdated, &msg.ChatID, &msg.ID, map[string]interface{}{
		"media":  mf.ID,
		"status": mf.Status,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record media event")
	}
}

// store writes the linked asset to a temp file, fsyncs it and renames it to
// its final path. It returns the path relative to the media root.
func (s *MediaService) store(ctx context.Context, mf *models.MediaFile, link string) (string, error) {
	dir := s.mediaDir(mf)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create media dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+uuid.NewString()+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := s.wapi.FetchFile(ctx, link, tmp)
	if err == nil && n == 0 {
		err = errors.New("vendor returned an empty file")
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}

	if mf.MimeType == "" {
		if m, derr := mimetype.DetectFile(tmpName); derr == nil {
			mf.MimeType = m.String()
		}
	}

	final := filepath.Join(dir, safeName(mf.MessageID)+extensionFor(mf))
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("failed to move media into place: %w", err)
	}
	return filepath.Rel(s.root, final)
}

// mediaDir is <root>/cliente_<id>/instance_<inst>/chats/<chat>/<tipo>
func (s *MediaService) mediaDir(mf *models.MediaFile) string {
	return filepath.Join(s.root,
		fmt.Sprintf("cliente_%d", mf.ClienteID),
		"instance_"+safeName(mf.InstanceID),
		"chats",
		safeName(mf.ChatID),
		safeName(mf.Tipo),
	)
}

var fallbackExt = map[string]string{
	models.TipoImagem:    ".jpg",
	models.TipoVideo:     ".mp4",
	models.TipoAudio:     ".ogg",
	models.TipoSticker:   ".webp",
	models.TipoDocumento: ".bin",
}

func extensionFor(mf *models.MediaFile) string {
	if mf.Tipo == models.TipoDocumento && mf.FileName != "" {
		if ext := filepath.Ext(mf.FileName); ext != "" && len(ext) <= 8 {
			return strings.ToLower(safeName(ext))
		}
	}
	base := strings.TrimSpace(strings.Split(mf.MimeType, ";")[0])
	if base != "" {
		if m := mimetype.Lookup(base); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	if ext, ok := fallbackExt[mf.Tipo]; ok {
		return ext
	}
	return ".bin"
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '@', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "_"
	}
	return out
}

func (s *MediaService) fileExists(rel string) bool {
	if rel == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(s.root, rel))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Discard removes the stored files of rows that no longer exist
func (s *MediaService) Discard(rows []models.MediaFile) {
	for _, mf := range rows {
		if mf.FilePath == "" {
			continue
		}
		clean := filepath.Clean("/" + mf.FilePath)[1:]
		if clean == "" {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, clean)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Uint("media_id", mf.ID).Str("path", mf.FilePath).Msg("failed to remove media file")
		}
	}
}

// findOnDisk looks for an asset already written for mf
func (s *MediaService) findOnDisk(mf *models.MediaFile) string {
	matches, _ := filepath.Glob(filepath.Join(s.mediaDir(mf), safeName(mf.MessageID)+".*"))
	for _, m := range matches {
		if strings.HasSuffix(m, ".tmp") {
			continue
		}
		if rel, err := filepath.Rel(s.root, m); err == nil && s.fileExists(rel) {
			return rel
		}
	}
	return ""
}

// ReprocessResult counts what a reprocessing run did
type ReprocessResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ReprocessFailed retries the tenant's failed and pending rows that still
// have attempts left
func (s *MediaService) ReprocessFailed(ctx context.Context, clienteID uint) (ReprocessResult, error) {
	if clienteID == 0 {
		return ReprocessResult{}, invalidf("tenant is required")
	}
	var rows []models.MediaFile
	if err := s.db.Where("cliente_id = ? AND status IN ? AND attempts < ?",
		clienteID, []string{models.MediaFailed, models.MediaPending}, s.maxAttempts).
		Order("id ASC").Find(&rows).Error; err != nil {
		return ReprocessResult{}, err
	}

	var res ReprocessResult
	for i := range rows {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Processed++
		if err := s.Download(ctx, &rows[i]); err != nil {
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// ReconcileResult counts the drift repaired by Reconcile
type ReconcileResult struct {
	Orphaned  int `json:"orphaned"`
	Requeued  int `json:"requeued"`
	Promoted  int `json:"promoted"`
	Processed int `json:"processed"`
}

// Reconcile treats disagreement between rows and disk as work. Rows whose
// message is gone are dropped with their file, success rows whose file
// vanished go back to pending, failed rows whose file exists are promoted
// and pending rows are downloaded.
func (s *MediaService) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult

	var orphans []models.MediaFile
	if err := s.db.Where("mensagem_id NOT IN (?)", s.db.Model(&models.Mensagem{}).Select("id")).
		Find(&orphans).Error; err != nil {
		return res, fmt.Errorf("failed to scan orphan media: %w", err)
	}
	if len(orphans) > 0 {
		ids := make([]uint, len(orphans))
		for i := range orphans {
			ids[i] = orphans[i].ID
		}
		if err := s.db.Where("id IN ?", ids).Delete(&models.MediaFile{}).Error; err != nil {
			return res, fmt.Errorf("failed to delete orphan media: %w", err)
		}
		s.Discard(orphans)
		res.Orphaned = len(orphans)
	}

	var batch []models.MediaFile
	err := s.db.Where("status = ?", models.MediaSuccess).FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for _, mf := range batch {
			if s.fileExists(mf.FilePath) {
				continue
			}
			if err := s.db.Model(&models.MediaFile{}).Where("id = ?", mf.ID).Updates(map[string]interface{}{
				"status":     models.MediaPending,
				"file_path":  "",
				"attempts":   0,
				"last_error": "file missing on disk",
			}).Error; err != nil {
				return err
			}
			res.Requeued++
		}
		return nil
	}).Error
	if err != nil {
		return res, fmt.Errorf("failed to scan downloaded media: %w", err)
	}

	var failed []models.MediaFile
	if err := s.db.Where("status = ?", models.MediaFailed).Find(&failed).Error; err != nil {
		return res, err
	}
	for _, mf := range failed {
		rel := s.findOnDisk(&mf)
		if rel == "" {
			continue
		}
		now := time.Now().UTC()
		if err := s.db.Model(&models.MediaFile{}).Where("id = ?", mf.ID).Updates(map[string]interface{}{
			"status":        models.MediaSuccess,
			"file_path":     rel,
			"last_error":    "",
			"downloaded_at": now,
		}).Error; err != nil {
			return res, err
		}
		res.Promoted++
	}

	var pending []models.MediaFile
	if err := s.db.Where("status = ? AND attempts < ?", models.MediaPending, s.maxAttempts).
		Order("id ASC").Find(&pending).Error; err != nil {
		return res, err
	}
	for i := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if _, busy := s.inflight.LoadOrStore(pending[i].ID, struct{}{}); busy {
			continue
		}
		_ = s.Download(ctx, &pending[i])
		s.inflight.Delete(pending[i].ID)
		res.Processed++
	}
	return res, nil
}

// Summary counts the tenant's media rows per status
func (s *MediaService) Summary(clienteID uint) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	if err := s.db.Model(&models.MediaFile{}).
		Select("status, COUNT(*) AS total").
		Where("cliente_id = ?", clienteID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string]int64{models.MediaPending: 0, models.MediaSuccess: 0, models.MediaFailed: 0}
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}

// ForMessage returns the media row of a tenant's message
func (s *MediaService) ForMessage(clienteID, mensagemID uint) (*models.MediaFile, error) {
	var mf models.MediaFile
	if err := s.db.Where("cliente_id = ? AND mensagem_id = ?", clienteID, mensagemID).First(&mf).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &mf, nil
}

// Resolve maps a path below the media root to a file the tenant may read
func (s *MediaService) Resolve(clienteID uint, rel string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(rel))[1:]
	if clean == "" {
		return "", ErrNotFound
	}
	prefix := fmt.Sprintf("cliente_%d", clienteID)
	if clean != prefix && !strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
		return "", ErrForbidden
	}
	if !s.fileExists(clean) {
		return "", ErrNotFound
	}
	return filepath.Join(s.root, clean), nil
}
