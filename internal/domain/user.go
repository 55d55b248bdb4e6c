package domain

import "time"

// File type discriminators for user_files rows.
const (
	FileTypeImage = 0
	FileTypeVideo = 1
	FileTypeDoc   = 2
)

// Role names seeded by the initial migration.
const (
	RoleUser      = "user"
	RoleDeveloper = "developer"
	RoleAdmin     = "admin"
)

// UserClaim is a keyed child row of the user aggregate.
// ID == 0 marks a row that has not been persisted yet.
type UserClaim struct {
	ID    int64  `json:"id"`
	Type  string `json:"type" validate:"required"`
	Value string `json:"value"`
}

// UserFile is a keyed child row holding an opaque payload reference
// (URL or object key); the binary payload itself lives elsewhere.
type UserFile struct {
	ID         int64  `json:"id"`
	FileType   int    `json:"file_type"`
	PayloadRef string `json:"payload_ref" validate:"required"`
}

// UserRole is a membership tuple. It has no independent identity:
// the whole row is the key, so reconciliation replaces the set wholesale.
type UserRole struct {
	RoleID int64 `json:"role_id" validate:"required"`
}

// User is the aggregate root. The three child slices are independently
// versioned: a nil slice means "do not touch", an empty non-nil slice means
// "delete every persisted row". JSON absence maps to nil, `[]` to empty.
type User struct {
	ID             int64      `json:"id"`
	TenantID       int64      `json:"tenant_id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	PasswordHash   string     `json:"-"`
	Nickname       string     `json:"nickname"`
	Gender         int        `json:"gender"`
	Address        string     `json:"address"`
	Birthday       *time.Time `json:"birthday,omitempty"`
	Description    string     `json:"description"`
	EmailConfirmed bool       `json:"email_confirmed"`
	PhoneConfirmed bool       `json:"phone_confirmed"`
	CreatedAt      time.Time  `json:"created"`
	UpdatedAt      time.Time  `json:"updated"`

	Claims []UserClaim `json:"claims,omitempty"`
	Files  []UserFile  `json:"files,omitempty"`
	Roles  []UserRole  `json:"roles,omitempty"`
}

// RegisterRequest is the payload for user registration. The phone code is
// mandatory; the email ciphertext is optional and, when present, must
// unprotect successfully.
type RegisterRequest struct {
	Email           string   `json:"email" validate:"required,email"`
	Phone           string   `json:"phone" validate:"required"`
	Password        string   `json:"password" validate:"required,min=8,max=72"`
	Nickname        string   `json:"nickname"`
	Gender          int      `json:"gender"`
	Address         string   `json:"address"`
	Birthday        string   `json:"birthday"` // expected format: YYYY-MM-DD
	Description     string   `json:"description"`
	PhoneVerifyCode string   `json:"phone_verify_code" validate:"required"`
	EmailVerifyCode string   `json:"email_verify_code"`
	ImageURL        []string `json:"image_url"`
	Video           string   `json:"video"`
	Doc             string   `json:"doc"`
}

// UserQuery holds the optional filters of the paged listing endpoint.
type UserQuery struct {
	Email string `json:"email" validate:"omitempty,email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// UserPage is one page of the listing result.
type UserPage struct {
	Total int64  `json:"total"`
	Take  int    `json:"take"`
	Skip  int    `json:"skip"`
	Data  []User `json:"data"`
}
