package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	pkgauth "github.com/nikhilbhatia/feastly-backend/pkg/auth"
	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
)

const referralCodeLength = 8

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type referralGranter interface {
	GrantReferralBonuses(ctx context.Context, tx *gorm.DB, referrerID, newUserID uuid.UUID) error
}

// Service registers customers and signs in all three actor roles. The
// role is fixed in the minted token; request handling never probes
// other account collections.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*Session, error)
	Login(ctx context.Context, input LoginInput) (*Session, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	wallet referralGranter
	jwt    config.JWTConfig
}

// RegisterInput creates a customer account. ReferralCode is optional.
type RegisterInput struct {
	FullName     string
	Email        string
	Phone        string
	Password     string
	ReferralCode string
}

// LoginInput signs in the account matching the role.
type LoginInput struct {
	Role     enums.ActorRole
	Email    string
	Password string
}

// Session is a signed-in principal plus its bearer token.
type Session struct {
	Token     string          `json:"token"`
	Role      enums.ActorRole `json:"role"`
	UserID    uuid.UUID       `json:"user_id"`
	KitchenID *uuid.UUID      `json:"kitchen_id,omitempty"`
	AgentID   *uuid.UUID      `json:"agent_id,omitempty"`
	FullName  string          `json:"full_name"`
	Email     string          `json:"email"`
}

// NewService wires the auth dependencies.
func NewService(repo Repository, tx txRunner, walletSvc referralGranter, jwt config.JWTConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("auth repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	return &service{repo: repo, tx: tx, wallet: walletSvc, jwt: jwt}, nil
}

// Register creates a customer account. A valid referral code credits
// both sides of the referral in the same transaction as the signup.
func (s *service) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.FullName == "" || input.Email == "" || input.Phone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name, email and phone required")
	}
	if len(input.Password) < 8 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "password must be at least 8 characters")
	}

	if _, err := s.repo.FindUserByEmail(ctx, input.Email); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check email")
	}

	var referrer *models.User
	if input.ReferralCode != "" {
		found, err := s.repo.FindUserByReferralCode(ctx, strings.ToUpper(strings.TrimSpace(input.ReferralCode)))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid referral code")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check referral code")
		}
		referrer = found
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	code, err := generateReferralCode()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate referral code")
	}

	user := &models.User{
		ID:           uuid.New(),
		FullName:     input.FullName,
		Email:        input.Email,
		Phone:        input.Phone,
		PasswordHash: string(hash),
		ReferralCode: code,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateUser(ctx, user); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create user")
		}
		if referrer != nil {
			if err := repo.SetReferredBy(ctx, user.ID, referrer.ReferralCode); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record referrer")
			}
			return s.wallet.GrantReferralBonuses(ctx, tx, referrer.ID, user.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.mintSession(user.ID, enums.ActorRoleCustomer, nil, nil, user.FullName, user.Email)
}

// Login authenticates against the collection the role names. A wrong
// role with right credentials fails; roles are never guessed.
func (s *service) Login(ctx context.Context, input LoginInput) (*Session, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Email == "" || input.Password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email and password required")
	}

	switch input.Role {
	case enums.ActorRoleCustomer:
		user, err := s.repo.FindUserByEmail(ctx, input.Email)
		if err != nil {
			return nil, loginFailure(err)
		}
		if err := comparePassword(user.PasswordHash, input.Password); err != nil {
			return nil, err
		}
		return s.mintSession(user.ID, enums.ActorRoleCustomer, nil, nil, user.FullName, user.Email)

	case enums.ActorRolePartner:
		kitchen, err := s.repo.FindKitchenByEmail(ctx, input.Email)
		if err != nil {
			return nil, loginFailure(err)
		}
		if !kitchen.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "kitchen account is deactivated")
		}
		if err := comparePassword(kitchen.PasswordHash, input.Password); err != nil {
			return nil, err
		}
		kitchenID := kitchen.ID
		return s.mintSession(kitchen.ID, enums.ActorRolePartner, &kitchenID, nil, kitchen.Name, kitchen.Email)

	case enums.ActorRoleDeliveryAgent:
		agent, err := s.repo.FindAgentByEmail(ctx, input.Email)
		if err != nil {
			return nil, loginFailure(err)
		}
		if err := comparePassword(agent.PasswordHash, input.Password); err != nil {
			return nil, err
		}
		agentID := agent.ID
		return s.mintSession(agent.ID, enums.ActorRoleDeliveryAgent, nil, &agentID, agent.FullName, agent.Email)

	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid role")
	}
}

func (s *service) mintSession(id uuid.UUID, role enums.ActorRole, kitchenID, agentID *uuid.UUID, fullName, email string) (*Session, error) {
	token, err := pkgauth.MintAccessToken(s.jwt, time.Now().UTC(), pkgauth.AccessTokenPayload{
		UserID:    id,
		Role:      role,
		KitchenID: kitchenID,
		AgentID:   agentID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token")
	}
	return &Session{
		Token:     token,
		Role:      role,
		UserID:    id,
		KitchenID: kitchenID,
		AgentID:   agentID,
		FullName:  fullName,
		Email:     email,
	}, nil
}

func loginFailure(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
}

func comparePassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")
	}
	return nil
}

const referralAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func generateReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = referralAlphabet[int(b)%len(referralAlphabet)]
	}
	return string(buf), nil
}
