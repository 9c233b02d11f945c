package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrProfileNotFound is returned when a referenced profile does not
	// exist. Callers must reject the order instead of falling back to a
	// default plan: silently substituting pricing is a billing-integrity
	// violation.
	ErrProfileNotFound = errors.New("pricing: profile not found")
	// ErrNoAssignment is returned when a user has no pricing profile
	// assigned. Distinct from a pricing failure, this requires administrator
	// action before any of the user's orders can be priced.
	ErrNoAssignment = errors.New("pricing: no profile assigned to user")
	// ErrModeImmutable is returned when an update attempts to flip a profile
	// between tiered and formula pricing.
	ErrModeImmutable = errors.New("pricing: profile pricing mode cannot change")
	// ErrDuplicateTier is returned when a tier set repeats an allocation size.
	ErrDuplicateTier = errors.New("pricing: duplicate allocation size in tiers")
	// ErrInvalidInput wraps rejected profile payloads.
	ErrInvalidInput = errors.New("pricing: invalid profile input")
)

// ProfileInput carries the writable fields of a pricing profile.
type ProfileInput struct {
	Name           string          `json:"name" validate:"required"`
	Description    string          `json:"description"`
	IsTiered       bool            `json:"isTiered"`
	BasePrice      decimal.Decimal `json:"basePrice"`
	DataPricePerGB decimal.Decimal `json:"dataPricePerGb"`
	MinimumCharge  decimal.Decimal `json:"minimumCharge"`
	IsActive       bool            `json:"isActive"`
	Tiers          []TierInput     `json:"tiers"`
}

// TierInput carries one allocation/price pair for a tiered profile.
type TierInput struct {
	DataGB decimal.Decimal `json:"dataGb"`
	Price  decimal.Decimal `json:"price"`
}

// Store persists pricing profiles, tiers, and per-user assignments.
type Store struct {
	Pool  *pgxpool.Pool
	Cache *Cache
}

// CreateProfile inserts a profile with its tiers in one transaction.
func (s *Store) CreateProfile(ctx context.Context, input ProfileInput) (Profile, error) {
	if err := validateInput(input); err != nil {
		return Profile{}, err
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Profile{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var profile Profile
	var created, updated pgtype.Timestamptz
	var id pgtype.UUID
	row := tx.QueryRow(ctx, `
		INSERT INTO pricing_profiles (name, description, is_tiered, base_price, data_price_per_gb, minimum_charge, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		strings.TrimSpace(input.Name), input.Description, input.IsTiered,
		input.BasePrice, input.DataPricePerGB, input.MinimumCharge, input.IsActive,
	)
	if err := row.Scan(&id, &created, &updated); err != nil {
		return Profile{}, err
	}
	profile = Profile{
		ID:             uuidString(id),
		Name:           strings.TrimSpace(input.Name),
		Description:    input.Description,
		IsTiered:       input.IsTiered,
		BasePrice:      input.BasePrice,
		DataPricePerGB: input.DataPricePerGB,
		MinimumCharge:  input.MinimumCharge,
		IsActive:       input.IsActive,
		CreatedAt:      created.Time,
		UpdatedAt:      updated.Time,
	}
	if input.IsTiered {
		tiers, err := insertTiers(ctx, tx, id, input.Tiers)
		if err != nil {
			return Profile{}, err
		}
		profile.Tiers = tiers
	}
	if err := tx.Commit(ctx); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// UpdateProfile rewrites the profile fields and, for tiered profiles,
// replaces the tier set. The pricing mode is immutable once set.
func (s *Store) UpdateProfile(ctx context.Context, profileID string, input ProfileInput) (Profile, error) {
	if err := validateInput(input); err != nil {
		return Profile{}, err
	}
	id, err := toUUID(profileID)
	if err != nil {
		return Profile{}, ErrProfileNotFound
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Profile{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var currentTiered bool
	if err := tx.QueryRow(ctx, `SELECT is_tiered FROM pricing_profiles WHERE id = $1 FOR UPDATE`, id).Scan(&currentTiered); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	if currentTiered != input.IsTiered {
		return Profile{}, ErrModeImmutable
	}

	var created, updated pgtype.Timestamptz
	row := tx.QueryRow(ctx, `
		UPDATE pricing_profiles
		SET name = $2, description = $3, base_price = $4, data_price_per_gb = $5, minimum_charge = $6, is_active = $7, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		id, strings.TrimSpace(input.Name), input.Description,
		input.BasePrice, input.DataPricePerGB, input.MinimumCharge, input.IsActive,
	)
	if err := row.Scan(&created, &updated); err != nil {
		return Profile{}, err
	}
	profile := Profile{
		ID:             profileID,
		Name:           strings.TrimSpace(input.Name),
		Description:    input.Description,
		IsTiered:       input.IsTiered,
		BasePrice:      input.BasePrice,
		DataPricePerGB: input.DataPricePerGB,
		MinimumCharge:  input.MinimumCharge,
		IsActive:       input.IsActive,
		CreatedAt:      created.Time,
		UpdatedAt:      updated.Time,
	}
	if input.IsTiered {
		if _, err := tx.Exec(ctx, `DELETE FROM pricing_tiers WHERE profile_id = $1`, id); err != nil {
			return Profile{}, err
		}
		tiers, err := insertTiers(ctx, tx, id, input.Tiers)
		if err != nil {
			return Profile{}, err
		}
		profile.Tiers = tiers
	}
	if err := tx.Commit(ctx); err != nil {
		return Profile{}, err
	}
	_ = s.Cache.Invalidate(ctx, profileKey(profileID))
	return profile, nil
}

// DeleteProfile removes the profile; tiers cascade with it. Assignments
// referencing the profile cascade too, so affected users fall back to the
// unassigned state and their orders are rejected until reassigned.
func (s *Store) DeleteProfile(ctx context.Context, profileID string) error {
	id, err := toUUID(profileID)
	if err != nil {
		return ErrProfileNotFound
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM pricing_profiles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	_ = s.Cache.Invalidate(ctx, profileKey(profileID))
	return nil
}

// ListProfiles returns all profiles with their tiers preloaded.
func (s *Store) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, description, is_tiered, base_price, data_price_per_gb, minimum_charge, is_active, created_at, updated_at
		FROM pricing_profiles
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]Profile, 0)
	index := map[string]int{}
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		index[profile.ID] = len(profiles)
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tierRows, err := s.Pool.Query(ctx, `
		SELECT id, profile_id, data_gb, price
		FROM pricing_tiers
		ORDER BY profile_id, data_gb`)
	if err != nil {
		return nil, err
	}
	defer tierRows.Close()
	for tierRows.Next() {
		tier, err := scanTier(tierRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[tier.ProfileID]; ok {
			profiles[i].Tiers = append(profiles[i].Tiers, tier)
		}
	}
	return profiles, tierRows.Err()
}

// GetProfile loads a profile with its tiers. The profile row and its tiers
// are read inside one repeatable-read transaction so a concurrent edit
// cannot produce a torn snapshot; the cached JSON copy is atomic by
// construction.
func (s *Store) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	var cached Profile
	if ok, _ := s.Cache.GetJSON(ctx, profileKey(profileID), &cached); ok {
		return cached, nil
	}
	id, err := toUUID(profileID)
	if err != nil {
		return Profile{}, ErrProfileNotFound
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Profile{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	profile, err := loadProfile(ctx, tx, id)
	if err != nil {
		return Profile{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Profile{}, err
	}
	_ = s.Cache.SetJSON(ctx, profileKey(profileID), profile)
	return profile, nil
}

// GetAssignedProfile resolves the caller's assignment and loads the full
// profile snapshot. Returns ErrNoAssignment when the user has no plan and
// ErrProfileNotFound when the assigned plan vanished.
func (s *Store) GetAssignedProfile(ctx context.Context, userID string) (Profile, error) {
	var cachedID string
	if ok, _ := s.Cache.GetJSON(ctx, assignmentKey(userID), &cachedID); ok && cachedID != "" {
		profile, err := s.GetProfile(ctx, cachedID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, ErrProfileNotFound) {
			return Profile{}, err
		}
		// The cached assignment points at a deleted profile. The DB cascade
		// already removed the assignment row, so drop the stale cache entry
		// and re-resolve from the database.
		_ = s.Cache.Invalidate(ctx, assignmentKey(userID))
	}
	uid, err := toUUID(userID)
	if err != nil {
		return Profile{}, ErrNoAssignment
	}
	var profileID pgtype.UUID
	err = s.Pool.QueryRow(ctx, `SELECT profile_id FROM user_pricing_profiles WHERE user_id = $1`, uid).Scan(&profileID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNoAssignment
		}
		return Profile{}, err
	}
	resolved := uuidString(profileID)
	_ = s.Cache.SetJSON(ctx, assignmentKey(userID), resolved)
	return s.GetProfile(ctx, resolved)
}

// AssignProfile maps the user to a profile, replacing any prior assignment.
// A user has at most one row here at any time.
func (s *Store) AssignProfile(ctx context.Context, userID, profileID string) error {
	uid, err := toUUID(userID)
	if err != nil {
		return fmt.Errorf("pricing: invalid user id: %w", err)
	}
	pid, err := toUUID(profileID)
	if err != nil {
		return ErrProfileNotFound
	}
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO user_pricing_profiles (user_id, profile_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET profile_id = EXCLUDED.profile_id, assigned_at = now()`,
		uid, pid)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrProfileNotFound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("pricing: assignment not stored")
	}
	return s.Cache.Invalidate(ctx, assignmentKey(userID))
}

// UnassignProfile removes the user's assignment if present.
func (s *Store) UnassignProfile(ctx context.Context, userID string) error {
	uid, err := toUUID(userID)
	if err != nil {
		return nil
	}
	if _, err := s.Pool.Exec(ctx, `DELETE FROM user_pricing_profiles WHERE user_id = $1`, uid); err != nil {
		return err
	}
	return s.Cache.Invalidate(ctx, assignmentKey(userID))
}

// isForeignKeyViolation matches PostgreSQL SQLSTATE 23503 structurally, so
// the mapping is immune to server message wording.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func loadProfile(ctx context.Context, tx pgx.Tx, id pgtype.UUID) (Profile, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, name, description, is_tiered, base_price, data_price_per_gb, minimum_charge, is_active, created_at, updated_at
		FROM pricing_profiles
		WHERE id = $1`, id)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	if !profile.IsTiered {
		return profile, nil
	}
	rows, err := tx.Query(ctx, `
		SELECT id, profile_id, data_gb, price
		FROM pricing_tiers
		WHERE profile_id = $1
		ORDER BY data_gb`, id)
	if err != nil {
		return Profile{}, err
	}
	defer rows.Close()
	for rows.Next() {
		tier, err := scanTier(rows)
		if err != nil {
			return Profile{}, err
		}
		profile.Tiers = append(profile.Tiers, tier)
	}
	return profile, rows.Err()
}

func insertTiers(ctx context.Context, tx pgx.Tx, profileID pgtype.UUID, inputs []TierInput) ([]Tier, error) {
	seen := map[string]bool{}
	tiers := make([]Tier, 0, len(inputs))
	for _, in := range inputs {
		key := in.DataGB.String()
		if seen[key] {
			return nil, ErrDuplicateTier
		}
		seen[key] = true
		var id pgtype.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO pricing_tiers (profile_id, data_gb, price)
			VALUES ($1, $2, $3)
			RETURNING id`, profileID, in.DataGB, in.Price).Scan(&id)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, Tier{
			ID:        uuidString(id),
			ProfileID: uuidString(profileID),
			DataGB:    in.DataGB,
			Price:     in.Price,
		})
	}
	return tiers, nil
}

func validateInput(input ProfileInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if input.IsTiered {
		if len(input.Tiers) == 0 {
			return fmt.Errorf("%w: tiered profile requires at least one tier", ErrInvalidInput)
		}
		for _, tier := range input.Tiers {
			if tier.DataGB.LessThanOrEqual(decimal.Zero) || tier.Price.IsNegative() {
				return fmt.Errorf("%w: tier sizes must be positive and prices non-negative", ErrInvalidInput)
			}
		}
		return nil
	}
	if input.BasePrice.IsNegative() || input.DataPricePerGB.IsNegative() || input.MinimumCharge.IsNegative() {
		return fmt.Errorf("%w: formula fields must be non-negative", ErrInvalidInput)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProfile(row scannable) (Profile, error) {
	var (
		id                        pgtype.UUID
		name, description         string
		isTiered, isActive        bool
		base, perGB, minCharge    pgtype.Numeric
		createdAt, updatedAt      pgtype.Timestamptz
	)
	if err := row.Scan(&id, &name, &description, &isTiered, &base, &perGB, &minCharge, &isActive, &createdAt, &updatedAt); err != nil {
		return Profile{}, err
	}
	return Profile{
		ID:             uuidString(id),
		Name:           name,
		Description:    description,
		IsTiered:       isTiered,
		BasePrice:      fromNumeric(base),
		DataPricePerGB: fromNumeric(perGB),
		MinimumCharge:  fromNumeric(minCharge),
		IsActive:       isActive,
		CreatedAt:      createdAt.Time,
		UpdatedAt:      updatedAt.Time,
	}, nil
}

func scanTier(row scannable) (Tier, error) {
	var (
		id, profileID pgtype.UUID
		dataGB, price pgtype.Numeric
	)
	if err := row.Scan(&id, &profileID, &dataGB, &price); err != nil {
		return Tier{}, err
	}
	return Tier{
		ID:        uuidString(id),
		ProfileID: uuidString(profileID),
		DataGB:    fromNumeric(dataGB),
		Price:     fromNumeric(price),
	}, nil
}

func toUUID(value string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	u, err := uuid.FromBytes(id.Bytes[:])
	if err != nil {
		return ""
	}
	return u.String()
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
