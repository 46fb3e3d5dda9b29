package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/batilieri/multichat-system/internal/config"
	"github.com/batilieri/multichat-system/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Bootstrap seeds a tenant, its admin and its vendor instance when they do
// not exist yet. Running it again is a no-op.
func Bootstrap(db *gorm.DB, auth *AuthService, instances *InstanceService, cfg config.BootstrapConfig) (*models.Cliente, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	var cliente models.Cliente
	err := db.Where("nome = ?", cfg.ClienteName).First(&cliente).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cliente = models.Cliente{Nome: cfg.ClienteName, Ativo: true}
		if err := db.Create(&cliente).Error; err != nil {
			return nil, fmt.Errorf("failed to create cliente: %w", err)
		}
		log.Info().Uint("cliente_id", cliente.ID).Str("nome", cliente.Nome).Msg("bootstrap cliente created")
	} else if err != nil {
		return nil, err
	}

	var count int64
	email := strings.ToLower(cfg.AdminEmail)
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		user, err := auth.CreateUser(cliente.ID, "", email, cfg.AdminPassword, models.RoleAdmin)
		if err != nil {
			return nil, err
		}
		log.Info().Uint("user_id", user.ID).Str("email", user.Email).Msg("bootstrap admin created")
	}

	if cfg.InstanceID != "" && cfg.InstanceToken != "" {
		if _, err := instances.ByVendorID(cfg.InstanceID); errors.Is(err, ErrNotFound) {
			inst, err := instances.Create(cliente.ID, models.InstanceCreate{
				InstanceID: cfg.InstanceID,
				Token:      cfg.InstanceToken,
				Phone:      cfg.InstancePhone,
			})
			if err != nil {
				return nil, err
			}
			log.Info().Str("instance_id", inst.InstanceID).Msg("bootstrap instance registered")
		} else if err != nil {
			return nil, err
		}
	}
	return &cliente, nil
}
