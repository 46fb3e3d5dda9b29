package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/batilieri/multichat-system/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

type AuthService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
}

type JWTClaims struct {
	UserID    uint   `json:"user_id"`
	ClienteID uint   `json:"cliente_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the caller may manage instances and media jobs
func (c *JWTClaims) IsAdmin() bool {
	return c.Role == models.RoleAdmin
}

func NewAuthService(db *gorm.DB, secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{db: db, secret: []byte(secret), ttl: ttl}
}

// CreateUser hashes the password and stores a user inside a tenant. An
// empty username defaults to the email, which is already unique, so two
// tenants never block each other through derived usernames.
func (as *AuthService) CreateUser(clienteID uint, username, email, password, role string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if email == "" || password == "" {
		return nil, invalidf("email and password are required")
	}
	if username == "" {
		username = email
	}
	if role == "" {
		role = models.RoleOperador
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := models.User{
		ClienteID:    clienteID,
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         role,
		IsActive:     true,
	}
	if err := as.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, invalidf("email or username already registered")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

// Login authenticates by email or username and returns a signed JWT
func (as *AuthService) Login(req models.UserLogin) (string, *models.UserResponse, error) {
	var user models.User
	q := as.db
	switch {
	case req.Email != "":
		q = q.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email)))
	case req.Username != "":
		q = q.Where("username = ?", strings.TrimSpace(req.Username))
	default:
		return "", nil, ErrInvalidCredentials
	}
	if err := q.First(&user).Error; err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return "", nil, errors.New("account is deactivated")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := as.generateJWT(user)
	if err != nil {
		return "", nil, err
	}

	resp := user.Response()
	return token, &resp, nil
}

// generateJWT creates a JWT token for the user
func (as *AuthService) generateJWT(user models.User) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:    user.ID,
		ClienteID: user.ClienteID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(as.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(as.secret)
}

// ValidateToken validates JWT token and returns user claims
func (as *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return as.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// GetUserByID retrieves user by ID
func (as *AuthService) GetUserByID(userID uint) (*models.UserResponse, error) {
	var user models.User
	if err := as.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	resp := user.Response()
	return &resp, nil
}
