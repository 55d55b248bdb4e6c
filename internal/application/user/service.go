package user

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-identity-api/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

type Service interface {
	List(ctx context.Context, tenantID int64, q domain.UserQuery, take, skip int) (*domain.UserPage, error)
	Get(ctx context.Context, tenantID, userID int64) (*domain.User, error)
	// Update runs the aggregate reconciliation: root scalars plus the
	// delete/update/insert sets of each present child collection, all in one
	// transaction. Nil child slices are untouched; empty ones are wiped.
	Update(ctx context.Context, tenantID int64, incoming *domain.User) (int64, error)
	Delete(ctx context.Context, tenantID, userID int64) error
	// ExistsByPhone returns the user id for the tenant's phone number, or
	// ErrNotFound.
	ExistsByPhone(ctx context.Context, tenantID int64, phone string) (int64, error)
	// Register redeems the verification codes and creates the user with its
	// initial files and default role memberships.
	Register(ctx context.Context, tenantID int64, req domain.RegisterRequest) (int64, error)
	// Codes returns the static error-code table.
	Codes() []domain.ErrorCodeModel
}

type userStore interface {
	Reconcile(ctx context.Context, incoming *domain.User) (int64, error)
	Get(ctx context.Context, tenantID, userID int64) (*domain.User, error)
	List(ctx context.Context, tenantID int64, q domain.UserQuery, take, skip int) (*domain.UserPage, error)
	Create(ctx context.Context, u *domain.User) (int64, error)
	Delete(ctx context.Context, tenantID, userID int64) error
	IDByPhone(ctx context.Context, tenantID int64, phone string) (int64, error)
	ExistsByEmail(ctx context.Context, tenantID int64, email string) (bool, error)
	ExistsByPhone(ctx context.Context, tenantID int64, phone string) (bool, error)
	RoleIDsByName(ctx context.Context, names ...string) ([]int64, error)
}

type codeRedeemer interface {
	RedeemPhoneCode(ctx context.Context, phone, code string) (bool, error)
	RedeemEmailCode(ctx context.Context, email, token string) (bool, error)
}

type service struct {
	repo  userStore
	codes codeRedeemer
}

type ServiceDeps struct {
	UserRepo userStore
	Codes    codeRedeemer
}

func NewService(deps ServiceDeps) Service {
	return &service{repo: deps.UserRepo, codes: deps.Codes}
}

func (s *service) List(ctx context.Context, tenantID int64, q domain.UserQuery, take, skip int) (*domain.UserPage, error) {
	if take < 1 {
		take = 20
	}
	if skip < 0 {
		skip = 0
	}
	return s.repo.List(ctx, tenantID, q, take, skip)
}

func (s *service) Get(ctx context.Context, tenantID, userID int64) (*domain.User, error) {
	return s.repo.Get(ctx, tenantID, userID)
}

func (s *service) Update(ctx context.Context, tenantID int64, incoming *domain.User) (int64, error) {
	if incoming == nil || incoming.ID <= 0 {
		return 0, fmt.Errorf("user id required: %w", domain.ErrBadRequest)
	}
	// Tenant ownership is taken from the caller's token, never the payload.
	incoming.TenantID = tenantID
	return s.repo.Reconcile(ctx, incoming)
}

func (s *service) Delete(ctx context.Context, tenantID, userID int64) error {
	return s.repo.Delete(ctx, tenantID, userID)
}

func (s *service) ExistsByPhone(ctx context.Context, tenantID int64, phone string) (int64, error) {
	if phone == "" {
		return 0, fmt.Errorf("phone required: %w", domain.ErrBadRequest)
	}
	return s.repo.IDByPhone(ctx, tenantID, phone)
}

func (s *service) Register(ctx context.Context, tenantID int64, req domain.RegisterRequest) (int64, error) {
	if exists, err := s.repo.ExistsByEmail(ctx, tenantID, req.Email); err != nil {
		return 0, err
	} else if exists {
		return 0, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}

	emailConfirmed := false
	if req.EmailVerifyCode != "" {
		ok, err := s.codes.RedeemEmailCode(ctx, req.Email, req.EmailVerifyCode)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("email code: %w", domain.ErrCodeInvalid)
		}
		emailConfirmed = true
	}

	if exists, err := s.repo.ExistsByPhone(ctx, tenantID, req.Phone); err != nil {
		return 0, err
	} else if exists {
		return 0, fmt.Errorf("phone already registered: %w", domain.ErrConflict)
	}

	ok, err := s.codes.RedeemPhoneCode(ctx, req.Phone, req.PhoneVerifyCode)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("phone code: %w", domain.ErrCodeInvalid)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	var birthday *time.Time
	if req.Birthday != "" {
		t, err := time.Parse("2006-01-02", req.Birthday)
		if err != nil {
			return 0, fmt.Errorf("birthday must be in YYYY-MM-DD format: %w", domain.ErrBadRequest)
		}
		birthday = &t
	}

	u := &domain.User{
		TenantID:       tenantID,
		Username:       req.Email,
		Email:          req.Email,
		Phone:          req.Phone,
		PasswordHash:   string(hash),
		Nickname:       req.Nickname,
		Gender:         req.Gender,
		Address:        req.Address,
		Birthday:       birthday,
		Description:    req.Description,
		EmailConfirmed: emailConfirmed,
		PhoneConfirmed: true,
		Files:          initialFiles(req),
	}

	roleIDs, err := s.repo.RoleIDsByName(ctx, domain.RoleUser, domain.RoleDeveloper)
	if err != nil {
		return 0, err
	}
	for _, rid := range roleIDs {
		u.Roles = append(u.Roles, domain.UserRole{RoleID: rid})
	}

	userID, err := s.repo.Create(ctx, u)
	if err != nil {
		return 0, err
	}
	slog.Info("user registered", "user_id", userID, "tenant_id", tenantID)
	return userID, nil
}

func (s *service) Codes() []domain.ErrorCodeModel {
	return domain.ErrorCodes()
}

// initialFiles maps the optional register attachments onto file rows. The
// image list is stored serialized as a single row, the way clients expect to
// read it back.
func initialFiles(req domain.RegisterRequest) []domain.UserFile {
	var files []domain.UserFile
	if len(req.ImageURL) > 0 {
		refs, err := json.Marshal(req.ImageURL)
		if err == nil {
			files = append(files, domain.UserFile{FileType: domain.FileTypeImage, PayloadRef: string(refs)})
		}
	}
	if req.Video != "" {
		files = append(files, domain.UserFile{FileType: domain.FileTypeVideo, PayloadRef: req.Video})
	}
	if req.Doc != "" {
		files = append(files, domain.UserFile{FileType: domain.FileTypeDoc, PayloadRef: req.Doc})
	}
	return files
}
