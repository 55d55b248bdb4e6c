package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-identity-api/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// Child tables touched by aggregate reconciliation. Table names are never
// taken from input; statements are built only from this allow-list.
const (
	tableUserClaims = "user_claims"
	tableUserFiles  = "user_files"
)

func childTableAllowed(table string) bool {
	switch table {
	case tableUserClaims, tableUserFiles:
		return true
	}
	return false
}

const pgUniqueViolation = "23505"

// UserRepo provides typed Postgres operations for the user aggregate.
type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Reconcile persists the incoming aggregate in one read-committed
// transaction: root scalars first, then for each keyed child collection the
// delete/update/insert set against the snapshot taken after the root write,
// then a full replace of the role memberships. Any statement failure rolls
// the whole call back; no partial state is observable afterwards.
//
// Read-committed with Postgres row locks is the precondition for the
// snapshot-then-write sequence; two concurrent reconciliations of the same
// root serialize on the root row updated in step one.
func (r *UserRepo) Reconcile(ctx context.Context, incoming *domain.User) (int64, error) {
	if incoming.ID <= 0 {
		return 0, fmt.Errorf("aggregate id required for reconciliation: %w", domain.ErrBadRequest)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", domain.ErrStore, err)
	}

	if err := r.reconcileInTx(ctx, tx, incoming); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return 0, fmt.Errorf("%w: rollback after %v: %v", domain.ErrStore, err, rbErr)
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", domain.ErrStore, err)
	}
	return incoming.ID, nil
}

func (r *UserRepo) reconcileInTx(ctx context.Context, tx *sql.Tx, incoming *domain.User) error {
	// Root scalars go first so child writes see a consistent parent row and
	// the root row lock serializes concurrent reconciliations.
	res, err := tx.ExecContext(ctx,
		`UPDATE users
		 SET username = $1, email = $2, phone = $3, nickname = $4, gender = $5,
		     address = $6, birthday = $7, description = $8,
		     email_confirmed = $9, phone_confirmed = $10, updated_at = now()
		 WHERE id = $11 AND tenant_id = $12`,
		incoming.Username, incoming.Email, incoming.Phone, incoming.Nickname,
		incoming.Gender, incoming.Address, incoming.Birthday, incoming.Description,
		incoming.EmailConfirmed, incoming.PhoneConfirmed,
		incoming.ID, incoming.TenantID,
	)
	if err != nil {
		return fmt.Errorf("%w: update user: %v", domain.ErrStore, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("%w: update user: %v", domain.ErrStore, err)
	} else if n == 0 {
		return fmt.Errorf("user %d: %w", incoming.ID, domain.ErrNotFound)
	}

	if incoming.Claims != nil {
		persisted, err := r.childIDs(ctx, tx, tableUserClaims, incoming.ID)
		if err != nil {
			return err
		}
		diff := domain.DiffKeyed(persisted, incoming.Claims)
		if err := r.deleteChildRows(ctx, tx, tableUserClaims, diff.Delete); err != nil {
			return err
		}
		for _, c := range diff.Update {
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE user_claims SET claim_type = $1, claim_value = $2 WHERE id = %d`, c.ID),
				c.Type, c.Value)
			if err != nil {
				return fmt.Errorf("%w: update claim %d: %v", domain.ErrStore, c.ID, err)
			}
		}
		for _, c := range diff.Insert {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO user_claims (user_id, claim_type, claim_value) VALUES ($1, $2, $3)`,
				incoming.ID, c.Type, c.Value)
			if err != nil {
				return fmt.Errorf("%w: insert claim: %v", domain.ErrStore, err)
			}
		}
	}

	if incoming.Files != nil {
		persisted, err := r.childIDs(ctx, tx, tableUserFiles, incoming.ID)
		if err != nil {
			return err
		}
		diff := domain.DiffKeyed(persisted, incoming.Files)
		if err := r.deleteChildRows(ctx, tx, tableUserFiles, diff.Delete); err != nil {
			return err
		}
		for _, f := range diff.Update {
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE user_files SET file_type = $1, payload_ref = $2 WHERE id = %d`, f.ID),
				f.FileType, f.PayloadRef)
			if err != nil {
				return fmt.Errorf("%w: update file %d: %v", domain.ErrStore, f.ID, err)
			}
		}
		for _, f := range diff.Insert {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO user_files (user_id, file_type, payload_ref) VALUES ($1, $2, $3)`,
				incoming.ID, f.FileType, f.PayloadRef)
			if err != nil {
				return fmt.Errorf("%w: insert file: %v", domain.ErrStore, err)
			}
		}
	}

	if incoming.Roles != nil {
		// Memberships carry no row identity, so the collection is replaced
		// wholesale: delete all, insert incoming.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM user_roles WHERE user_id = $1`, incoming.ID); err != nil {
			return fmt.Errorf("%w: delete roles: %v", domain.ErrStore, err)
		}
		for _, role := range domain.ReplaceRoles(incoming.Roles).Insert {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
				incoming.ID, role.RoleID)
			if err != nil {
				return fmt.Errorf("%w: insert role %d: %v", domain.ErrStore, role.RoleID, err)
			}
		}
	}

	return nil
}

// childIDs loads the persisted id snapshot of one keyed child collection.
func (r *UserRepo) childIDs(ctx context.Context, tx *sql.Tx, table string, userID int64) ([]int64, error) {
	if !childTableAllowed(table) {
		return nil, fmt.Errorf("table %q not allowed: %w", table, domain.ErrBadRequest)
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM `+table+` WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot %s: %v", domain.ErrStore, table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: snapshot %s: %v", domain.ErrStore, table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: snapshot %s: %v", domain.ErrStore, table, err)
	}
	return ids, nil
}

// deleteChildRows removes the given rows in one statement. Ids come from the
// database snapshot, never from input, so inlining them is safe; everything
// else stays a bound parameter.
func (r *UserRepo) deleteChildRows(ctx context.Context, tx *sql.Tx, table string, ids []int64) error {
	if !childTableAllowed(table) {
		return fmt.Errorf("table %q not allowed: %w", table, domain.ErrBadRequest)
	}
	if len(ids) == 0 {
		return nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	_, err := tx.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id IN (`+strings.Join(parts, ",")+`)`)
	if err != nil {
		return fmt.Errorf("%w: delete from %s: %v", domain.ErrStore, table, err)
	}
	return nil
}

// Get loads a user with all child collections eagerly.
func (r *UserRepo) Get(ctx context.Context, tenantID, userID int64) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, username, email, phone, password_hash, nickname,
		        gender, address, birthday, description, email_confirmed,
		        phone_confirmed, created_at, updated_at
		 FROM users WHERE id = $1 AND tenant_id = $2`,
		userID, tenantID,
	).Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.Phone, &u.PasswordHash,
		&u.Nickname, &u.Gender, &u.Address, &u.Birthday, &u.Description,
		&u.EmailConfirmed, &u.PhoneConfirmed, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if u.Claims, err = r.loadClaims(ctx, userID); err != nil {
		return nil, err
	}
	if u.Files, err = r.loadFiles(ctx, userID); err != nil {
		return nil, err
	}
	if u.Roles, err = r.loadRoles(ctx, userID); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *UserRepo) loadClaims(ctx context.Context, userID int64) ([]domain.UserClaim, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, claim_type, claim_value FROM user_claims WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	claims := []domain.UserClaim{}
	for rows.Next() {
		var c domain.UserClaim
		if err := rows.Scan(&c.ID, &c.Type, &c.Value); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (r *UserRepo) loadFiles(ctx context.Context, userID int64) ([]domain.UserFile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, file_type, payload_ref FROM user_files WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	files := []domain.UserFile{}
	for rows.Next() {
		var f domain.UserFile
		if err := rows.Scan(&f.ID, &f.FileType, &f.PayloadRef); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *UserRepo) loadRoles(ctx context.Context, userID int64) ([]domain.UserRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	roles := []domain.UserRole{}
	for rows.Next() {
		var role domain.UserRole
		if err := rows.Scan(&role.RoleID); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// List returns one page of users for the tenant matching the optional
// filters, ordered by id.
func (r *UserRepo) List(ctx context.Context, tenantID int64, q domain.UserQuery, take, skip int) (*domain.UserPage, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	if q.Email != "" {
		args = append(args, q.Email)
		where = append(where, fmt.Sprintf("email = $%d", len(args)))
	}
	if q.Name != "" {
		args = append(args, "%"+q.Name+"%")
		where = append(where, fmt.Sprintf("username LIKE $%d", len(args)))
	}
	if q.Phone != "" {
		args = append(args, q.Phone)
		where = append(where, fmt.Sprintf("phone = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM users WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	args = append(args, take, skip)
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, tenant_id, username, email, phone, nickname, gender,
		        address, birthday, description, email_confirmed, phone_confirmed,
		        created_at, updated_at
		 FROM users WHERE %s ORDER BY id LIMIT $%d OFFSET $%d`,
			cond, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	page := &domain.UserPage{Total: total, Take: take, Skip: skip, Data: []domain.User{}}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.Phone,
			&u.Nickname, &u.Gender, &u.Address, &u.Birthday, &u.Description,
			&u.EmailConfirmed, &u.PhoneConfirmed, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		page.Data = append(page.Data, u)
	}
	return page, rows.Err()
}

// Create inserts a new user with its initial files and role memberships in
// one transaction. Unique violations on email or phone surface as
// domain.ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) (int64, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", domain.ErrStore, err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (tenant_id, username, email, phone, password_hash,
		        nickname, gender, address, birthday, description,
		        email_confirmed, phone_confirmed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		u.TenantID, u.Username, u.Email, u.Phone, u.PasswordHash,
		u.Nickname, u.Gender, u.Address, u.Birthday, u.Description,
		u.EmailConfirmed, u.PhoneConfirmed,
	).Scan(&u.ID)
	if err != nil {
		_ = tx.Rollback()
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, fmt.Errorf("email or phone already registered: %w", domain.ErrConflict)
		}
		return 0, fmt.Errorf("%w: insert user: %v", domain.ErrStore, err)
	}

	for _, f := range u.Files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_files (user_id, file_type, payload_ref) VALUES ($1, $2, $3)`,
			u.ID, f.FileType, f.PayloadRef); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%w: insert file: %v", domain.ErrStore, err)
		}
	}
	for _, role := range domain.ReplaceRoles(u.Roles).Insert {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
			u.ID, role.RoleID); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%w: insert role: %v", domain.ErrStore, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", domain.ErrStore, err)
	}
	return u.ID, nil
}

// Delete removes the user; child rows cascade at the schema level.
func (r *UserRepo) Delete(ctx context.Context, tenantID, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1 AND tenant_id = $2`, userID, tenantID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("db error: %w", err)
	} else if n == 0 {
		return fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	return nil
}

// IDByPhone returns the id of the tenant's user with the given phone number.
func (r *UserRepo) IDByPhone(ctx context.Context, tenantID int64, phone string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE tenant_id = $1 AND phone = $2`, tenantID, phone).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("phone %s: %w", phone, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// ExistsByEmail reports whether the tenant already has a user with the email.
func (r *UserRepo) ExistsByEmail(ctx context.Context, tenantID int64, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE tenant_id = $1 AND email = $2)`,
		tenantID, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// ExistsByPhone reports whether the tenant already has a user with the phone.
func (r *UserRepo) ExistsByPhone(ctx context.Context, tenantID int64, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE tenant_id = $1 AND phone = $2)`,
		tenantID, phone).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// RoleIDsByName resolves role names to ids, preserving only names that exist.
func (r *UserRepo) RoleIDsByName(ctx context.Context, names ...string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(names))
	args := make([]interface{}, len(names))
	for i, n := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = n
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM roles WHERE name IN (`+strings.Join(placeholders, ", ")+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
