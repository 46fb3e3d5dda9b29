package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/batilieri/multichat-system/internal/models"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

// InstanceService manages vendor instances and resolves webhook callers
type InstanceService struct {
	db     *gorm.DB
	wapi   *WAPIClient
	events *EventService
	lookup *cache.Cache
}

func NewInstanceService(db *gorm.DB, wapi *WAPIClient, events *EventService) *InstanceService {
	return &InstanceService{
		db:     db,
		wapi:   wapi,
		events: events,
		lookup: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Creds returns the vendor credentials of an instance
func Creds(inst *models.WhatsappInstance) Credentials {
	return Credentials{InstanceID: inst.InstanceID, Token: inst.Token}
}

// ByVendorID resolves the instance named in a webhook. Results are cached
// briefly since every callback needs it.
func (s *InstanceService) ByVendorID(instanceID string) (*models.WhatsappInstance, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, ErrNotFound
	}
	if v, ok := s.lookup.Get(instanceID); ok {
		inst := v.(models.WhatsappInstance)
		return &inst, nil
	}

	var inst models.WhatsappInstance
	if err := s.db.Where("instance_id = ?", instanceID).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.lookup.SetDefault(instanceID, inst)
	return &inst, nil
}

// ForCliente returns the instance used for outbound calls of a tenant,
// preferring a connected one
func (s *InstanceService) ForCliente(clienteID uint) (*models.WhatsappInstance, error) {
	var inst models.WhatsappInstance
	err := s.db.Where("cliente_id = ?", clienteID).
		Order(fmt.Sprintf("CASE WHEN status = '%s' THEN 0 ELSE 1 END, id ASC", models.InstanceConnected)).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoInstance
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *InstanceService) List(clienteID uint) ([]models.WhatsappInstance, error) {
	var list []models.WhatsappInstance
	err := s.db.Where("cliente_id = ?", clienteID).Order("id ASC").Find(&list).Error
	return list, err
}

func (s *InstanceService) Get(clienteID, id uint) (*models.WhatsappInstance, error) {
	var inst models.WhatsappInstance
	if err := s.db.Where("cliente_id = ? AND id = ?", clienteID, id).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// Create registers a vendor instance for the tenant
func (s *InstanceService) Create(clienteID uint, req models.InstanceCreate) (*models.WhatsappInstance, error) {
	req.InstanceID = strings.TrimSpace(req.InstanceID)
	req.Token = strings.TrimSpace(req.Token)
	if req.InstanceID == "" || req.Token == "" {
		return nil, invalidf("instance_id and token are required")
	}

	inst := models.WhatsappInstance{
		ClienteID:  clienteID,
		InstanceID: req.InstanceID,
		Token:      req.Token,
		Phone:      req.Phone,
		Status:     models.InstanceDisconnected,
	}
	if err := s.db.Create(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, invalidf("instance %s already registered", req.InstanceID)
		}
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	return &inst, nil
}

// SetStatus records a connection change reported by the vendor
func (s *InstanceService) SetStatus(inst *models.WhatsappInstance, status, phone string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":         status,
		"last_status_at": now,
	}
	if phone != "" {
		updates["phone"] = phone
	}
	if err := s.db.Model(&models.WhatsappInstance{}).Where("id = ?", inst.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}
	s.lookup.Delete(inst.InstanceID)

	changed := inst.Status != status
	inst.Status = status
	inst.LastStatusAt = &now
	if phone != "" {
		inst.Phone = phone
	}

	if changed {
		log.Info().Str("instance_id", inst.InstanceID).Str("status", status).Msg("instance status changed")
		if _, err := s.events.Append(inst.ClienteID, models.EventInstanceStatus, nil, nil, map[string]interface{}{
			"instance": inst.ID,
			"status":   status,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to record instance status event")
		}
	}
	return nil
}

// RefreshStatus asks the vendor for the current connection state
func (s *InstanceService) RefreshStatus(ctx context.Context, clienteID, id uint) (*models.WhatsappInstance, error) {
	inst, err := s.Get(clienteID, id)
	if err != nil {
		return nil, err
	}
	st, err := s.wapi.Status(ctx, Creds(inst))
	if err != nil {
		return nil, err
	}
	status := models.InstanceDisconnected
	if st.Connected {
		status = models.InstanceConnected
	}
	if err := s.SetStatus(inst, status, st.Phone); err != nil {
		return nil, err
	}
	return inst, nil
}

// QRCode fetches the pairing code and renders it as a PNG data URI
func (s *InstanceService) QRCode(ctx context.Context, clienteID, id uint) (string, error) {
	inst, err := s.Get(clienteID, id)
	if err != nil {
		return "", err
	}
	code, err := s.wapi.QRCode(ctx, Creds(inst))
	if err != nil {
		return "", err
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("failed to render qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func (s *InstanceService) Disconnect(ctx context.Context, clienteID, id uint) error {
	inst, err := s.Get(clienteID, id)
	if err != nil {
		return err
	}
	if err := s.wapi.Disconnect(ctx, Creds(inst)); err != nil {
		return err
	}
	return s.SetStatus(inst, models.InstanceDisconnected, "")
}
