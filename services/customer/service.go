package customer

import (
	"context"
	"strings"

	"digitalstore/pkg/errutil"
	"digitalstore/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Service struct {
	node      *snowflake.Node
	customers repository.Repository[Customer]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:      p.Node,
		customers: repository.ProvideStore[Customer](p.DB),
	}
}

// Register creates an account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, email, password string) (*Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errutil.ValidationFailed("a valid email is required", nil)
	}
	if len(password) < 8 {
		return nil, errutil.ValidationFailed("password must be at least 8 characters", nil)
	}

	existing, err := s.customers.FindOne(ctx, &Customer{Email: email})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("email already registered", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	c := &Customer{
		ID:           s.node.Generate().String(),
		Email:        email,
		PasswordHash: string(hash),
		Roles:        "customer",
	}

	if err := s.customers.Create(ctx, c); err != nil {
		zap.L().Error("failed to create customer", zap.Error(err))
		return nil, err
	}

	return c, nil
}

// Authenticate verifies the credentials. Unknown email and wrong
// password return the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	c, err := s.customers.FindOne(ctx, &Customer{Email: email})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.Unauthorized("invalid email or password", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)); err != nil {
		return nil, errutil.Unauthorized("invalid email or password", nil)
	}

	return c, nil
}

func (s *Service) Get(ctx context.Context, customerID string) (*Customer, error) {
	c, err := s.customers.FindOne(ctx, &Customer{ID: customerID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("customer not found", nil)
	}
	return c, nil
}

func (s *Service) FindByEmail(ctx context.Context, email string) (*Customer, error) {
	return s.customers.FindOne(ctx, &Customer{Email: strings.ToLower(strings.TrimSpace(email))})
}
