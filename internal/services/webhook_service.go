package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/whatsapp"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookResult is what the receiver answers to the vendor
type WebhookResult struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	MensagemID uint   `json:"mensagem_id,omitempty"`
}

// WebhookService turns vendor callbacks into chats, messages and media rows
type WebhookService struct {
	db         *gorm.DB
	instances  *InstanceService
	events     *EventService
	media      *MediaService
	normalizer *whatsapp.Normalizer
}

func NewWebhookService(db *gorm.DB, instances *InstanceService, events *EventService, media *MediaService, normalizer *whatsapp.Normalizer) *WebhookService {
	return &WebhookService{db: db, instances: instances, events: events, media: media, normalizer: normalizer}
}

// Process handles one delivery. Every outcome, including errors, is
// recorded as a WebhookEvent. The returned error is only set for bodies
// that are not JSON at all.
func (s *WebhookService) Process(ctx context.Context, body []byte) (WebhookResult, error) {
	ev := models.WebhookEvent{Payload: string(body)}

	p, err := whatsapp.ParsePayload(body)
	if err != nil {
		res := WebhookResult{Status: models.WebhookError, Reason: err.Error()}
		s.record(&ev, res)
		return res, err
	}

	ev.InstanceID = p.InstanceID()
	ev.Event = p.Event()
	ev.MessageID = p.MessageID()
	ev.ChatID = p.ChatJID()
	ev.SenderID = p.SenderJID()

	res := s.dispatch(ctx, p, &ev)
	s.record(&ev, res)

	log.Info().
		Str("event", ev.Event).
		Str("instance_id", ev.InstanceID).
		Str("message_id", ev.MessageID).
		Str("status", res.Status).
		Str("reason", res.Reason).
		Msg("webhook processed")
	return res, nil
}

func (s *WebhookService) record(ev *models.WebhookEvent, res WebhookResult) {
	ev.Status = res.Status
	ev.Motivo = truncate(res.Reason, 255)
	if err := s.db.Create(ev).Error; err != nil {
		log.Error().Err(err).Msg("failed to record webhook event")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func ignored(reason string) WebhookResult {
	return WebhookResult{Status: models.WebhookIgnored, Reason: reason}
}

func failed(err error) WebhookResult {
	return WebhookResult{Status: models.WebhookError, Reason: err.Error()}
}

func (s *WebhookService) dispatch(ctx context.Context, p whatsapp.Payload, ev *models.WebhookEvent) WebhookResult {
	inst, err := s.instances.ByVendorID(ev.InstanceID)
	if errors.Is(err, ErrNotFound) {
		return ignored("unknown instance")
	}
	if err != nil {
		return failed(err)
	}
	ev.ClienteID = &inst.ClienteID

	switch strings.ToLower(ev.Event) {
	case "webhookconnected", "connected", "connection":
		if err := s.instances.SetStatus(inst, models.InstanceConnected, whatsapp.BarePhone(p.ConnectedPhone())); err != nil {
			return failed(err)
		}
		return WebhookResult{Status: models.WebhookUpdated, Reason: "instance connected"}
	case "webhookdisconnected", "disconnected":
		if err := s.instances.SetStatus(inst, models.InstanceDisconnected, ""); err != nil {
			return failed(err)
		}
		return WebhookResult{Status: models.WebhookUpdated, Reason: "instance disconnected"}
	case "webhookstatus", "webhookmessagestatus", "message-status", "status":
		return s.handleStatus(inst, p)
	case "webhookpresence", "webhookchatpresence", "presence":
		return ignored("presence event")
	}
	return s.handleMessage(ctx, inst, p, ev)
}

// delivery states by vendor status, with their rank
var entregaRank = map[string]int{
	models.EntregaEnviada:  1,
	models.EntregaEntregue: 2,
	models.EntregaLida:     3,
}

func entregaFor(status string) string {
	switch status {
	case "SENT", "SERVER_ACK", "PENDING":
		return models.EntregaEnviada
	case "DELIVERY", "DELIVERED", "DELIVERY_ACK", "RECEIVED":
		return models.EntregaEntregue
	case "READ", "PLAYED", "VIEWED":
		return models.EntregaLida
	}
	return ""
}

func (s *WebhookService) handleStatus(inst *models.WhatsappInstance, p whatsapp.Payload) WebhookResult {
	entrega := entregaFor(p.Status())
	if entrega == "" {
		return ignored("unknown delivery status " + p.Status())
	}

	ids := []string{}
	if id := p.MessageID(); id != "" {
		ids = append(ids, id)
	}
	if list, ok := p.Lookup("ids"); ok {
		if arr, ok := list.([]interface{}); ok {
			for _, v := range arr {
				if id, ok := v.(string); ok && id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	if len(ids) == 0 {
		return ignored("status event without message id")
	}

	var msgs []models.Mensagem
	if err := s.db.Where("cliente_id = ? AND message_id IN ?", inst.ClienteID, ids).Find(&msgs).Error; err != nil {
		return failed(err)
	}

	updated := 0
	for i := range msgs {
		m := &msgs[i]
		// never move backwards, e.g. a late DELIVERY after READ
		if entregaRank[m.StatusEntrega] >= entregaRank[entrega] {
			continue
		}
		if err := s.db.Model(m).Update("status_entrega", entrega).Error; err != nil {
			return failed(err)
		}
		updated++
		chatID, id := m.ChatID, m.ID
		if _, err := s.events.Append(m.ClienteID, models.EventMessageUpdated, &chatID, &id, map[string]interface{}{
			"status_entrega": entrega,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to record delivery event")
		}
	}
	if updated == 0 {
		return ignored("no message to update")
	}
	return WebhookResult{Status: models.WebhookUpdated, Reason: "status_entrega " + entrega}
}

func (s *WebhookService) handleMessage(ctx context.Context, inst *models.WhatsappInstance, p whatsapp.Payload, ev *models.WebhookEvent) WebhookResult {
	if ev.MessageID == "" {
		return ignored("missing message id")
	}

	cls := s.normalizer.Classify(p.ChatJID())
	if cls.ChatID != "" {
		ev.ChatID = cls.ChatID
	}
	if !cls.Persistable() {
		return ignored(cls.Reason)
	}

	content := p.Content()
	if action, ok := whatsapp.ParseProtocol(content); ok {
		ev.Tipo = models.TipoProtocolo
		return s.applyProtocol(inst, action)
	}

	typ := whatsapp.DetectType(content)
	ev.Tipo = typ.Tag()
	if typ == whatsapp.TypeProtocol {
		return ignored("protocol message")
	}

	fromMe, source := whatsapp.ResolveFromMeSource(p, whatsapp.Self{InstanceID: inst.InstanceID, Phone: inst.Phone})
	ev.FromMe = fromMe

	senderID := s.senderID(p, cls)
	ev.SenderID = senderID

	if typ == whatsapp.TypeReaction {
		return s.applyReaction(inst, p, content, senderID, fromMe)
	}

	at := p.Timestamp()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	senderName := p.SenderName()
	remetente := senderName
	if remetente == "" {
		remetente = whatsapp.BarePhone(senderID)
	}
	if fromMe && senderName == "" {
		remetente = OwnSenderLabel
	}

	chatName := p.ChatName()
	chatPhoto := p.ChatPhoto()
	if !cls.IsGroup() && !fromMe {
		if chatName == "" {
			chatName = senderName
		}
		if chatPhoto == "" {
			chatPhoto = p.SenderPhoto()
		}
	}

	msg := models.Mensagem{
		ClienteID: inst.ClienteID,
		MessageID: ev.MessageID,
		Remetente: remetente,
		SenderID:  senderID,
		Conteudo:  whatsapp.ExtractContent(content, typ),
		Tipo:      typ.Tag(),
		FromMe:    fromMe,
		Lida:      fromMe,
		DataEnvio: at,
	}
	if fromMe {
		msg.StatusEntrega = models.EntregaEnviada
	}

	var (
		chat      *models.Chat
		mediaFile *models.MediaFile
		duplicate bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		chat, _, err = UpsertChat(tx, inst.ClienteID, cls, chatName, chatPhoto, at)
		if err != nil {
			return err
		}
		if senderID != "" && !fromMe {
			if err := UpsertSender(tx, inst.ClienteID, senderID, senderName, p.VerifiedName(), p.SenderPhoto()); err != nil {
				return err
			}
		}

		msg.ChatID = chat.ID
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&msg)
		if res.Error != nil {
			return fmt.Errorf("failed to insert message: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			duplicate = true
			return nil
		}

		if typ.IsMedia() {
			desc, _ := whatsapp.DescriptorFrom(content, typ)
			mf := NewPendingMedia(&msg, inst.InstanceID, cls.ChatID, desc)
			if err := tx.Create(&mf).Error; err != nil {
				return fmt.Errorf("failed to create media row: %w", err)
			}
			mediaFile = &mf
		}
		return nil
	})
	if err != nil {
		return failed(err)
	}
	if duplicate {
		return WebhookResult{Status: models.WebhookDuplicate, Reason: "message already stored"}
	}

	if cls.Suspicious {
		log.Warn().Str("chat_id", cls.ChatID).Str("message_id", msg.MessageID).Msg("message stored on a chat id that looks like a group")
	}
	log.Debug().Str("message_id", msg.MessageID).Bool("from_me", fromMe).Str("from_me_source", string(source)).Msg("message stored")

	chatID, id := chat.ID, msg.ID
	if _, err := s.events.Append(inst.ClienteID, models.EventMessageCreated, &chatID, &id, map[string]interface{}{
		"from_me": fromMe,
		"tipo":    msg.Tipo,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record message event")
	}
	if mediaFile != nil && s.media != nil {
		s.media.Enqueue(mediaFile.ID)
	}
	return WebhookResult{Status: models.WebhookCreated, MensagemID: msg.ID}
}

// senderID is the canonical id of the author; in 1:1 chats it falls back
// to the chat id
func (s *WebhookService) senderID(p whatsapp.Payload, cls whatsapp.Classification) string {
	if raw := p.SenderJID(); raw != "" {
		if sc := s.normalizer.Classify(raw); sc.Kind == whatsapp.KindIndividual {
			return sc.ChatID
		}
	}
	if !cls.IsGroup() {
		return cls.ChatID
	}
	return ""
}

func (s *WebhookService) applyReaction(inst *models.WhatsappInstance, p whatsapp.Payload, content map[string]interface{}, senderID string, fromMe bool) WebhookResult {
	r, ok := whatsapp.ParseReaction(content)
	if !ok {
		return ignored("reaction without target")
	}

	var target models.Mensagem
	if err := s.db.Where("cliente_id = ? AND message_id = ?", inst.ClienteID, r.TargetID).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ignored("reaction target not found")
		}
		return failed(err)
	}

	at := p.Timestamp()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	reacao := models.Reacao{Emoji: r.Emoji, SenderID: senderID, FromMe: fromMe, At: at}
	if fromMe {
		reacao.SenderID = ""
	}
	target.SetReaction(reacao)

	if err := s.db.Model(&target).Select("reacoes").Updates(models.Mensagem{Reacoes: target.Reacoes}).Error; err != nil {
		return failed(err)
	}
	chatID, id := target.ChatID, target.ID
	if _, err := s.events.Append(inst.ClienteID, models.EventMessageReaction, &chatID, &id, map[string]interface{}{
		"reacoes": target.Reacoes,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record reaction event")
	}
	return WebhookResult{Status: models.WebhookUpdated, Reason: "reaction applied", MensagemID: target.ID}
}

func (s *WebhookService) applyProtocol(inst *models.WhatsappInstance, action whatsapp.ProtocolAction) WebhookResult {
	var target models.Mensagem
	if err := s.db.Where("cliente_id = ? AND message_id = ?", inst.ClienteID, action.TargetID).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ignored(action.Kind + " target not found")
		}
		return failed(err)
	}
	chatID, id := target.ChatID, target.ID

	switch action.Kind {
	case "edit":
		if err := s.db.Model(&target).Updates(map[string]interface{}{"conteudo": action.Text, "editada": true}).Error; err != nil {
			return failed(err)
		}
		if _, err := s.events.Append(inst.ClienteID, models.EventMessageUpdated, &chatID, &id, map[string]interface{}{"editada": true}); err != nil {
			log.Warn().Err(err).Msg("failed to record edit event")
		}
		return WebhookResult{Status: models.WebhookUpdated, Reason: "message edited", MensagemID: target.ID}
	case "revoke":
		var files []models.MediaFile
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("mensagem_id = ?", target.ID).Find(&files).Error; err != nil {
				return err
			}
			if err := tx.Where("mensagem_id = ?", target.ID).Delete(&models.MediaFile{}).Error; err != nil {
				return err
			}
			return tx.Delete(&target).Error
		})
		if err != nil {
			return failed(err)
		}
		if s.media != nil {
			s.media.Discard(files)
		}
		if _, err := s.events.Append(inst.ClienteID, models.EventMessageDeleted, &chatID, &id, map[string]interface{}{"message_id": target.MessageID}); err != nil {
			log.Warn().Err(err).Msg("failed to record revoke event")
		}
		return WebhookResult{Status: models.WebhookUpdated, Reason: "message revoked", MensagemID: target.ID}
	}
	return ignored("unsupported protocol action")
}

// UpsertSender stores or enriches a contact profile. Only non-empty values
// overwrite what is stored.
func UpsertSender(tx *gorm.DB, clienteID uint, senderID, pushName, verifiedName, photo string) error {
	sender := models.Sender{
		ClienteID:    clienteID,
		SenderID:     senderID,
		PushName:     pushName,
		VerifiedName: verifiedName,
		FotoPerfil:   photo,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sender)
	if res.Error != nil {
		return fmt.Errorf("failed to create sender: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	updates := map[string]interface{}{}
	if pushName != "" {
		updates["push_name"] = pushName
	}
	if verifiedName != "" {
		updates["verified_name"] = verifiedName
	}
	if photo != "" {
		updates["foto_perfil"] = photo
	}
	if len(updates) == 0 {
		return nil
	}
	return tx.Model(&models.Sender{}).
		Where("cliente_id = ? AND sender_id = ?", clienteID, senderID).
		Updates(updates).Error
}
