package controllers

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/storage"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/utils"
)

const avatarFormField = "avatar"

// ProfileStore persists the member editable profile fields.
type ProfileStore interface {
	UserStore
	UpdateProfile(id uint, name, bio string) error
	UpdateAvatar(id uint, avatarURL string) error
}

// AvatarUploader stores a normalized avatar and returns its public URL.
type AvatarUploader interface {
	Upload(ctx context.Context, userID uint, r io.Reader) (string, error)
}

type updateProfileRequest struct {
	Name *string `json:"name" validate:"omitempty,min=3,max=150"`
	Bio  *string `json:"bio" validate:"omitempty,max=1000"`
}

type UserController struct {
	profiles ProfileStore
	avatars  AvatarUploader
}

// NewUserController creates the profile controller. avatars may be nil when
// avatar upload is disabled.
func NewUserController(profiles ProfileStore, avatars AvatarUploader) *UserController {
	return &UserController{profiles: profiles, avatars: avatars}
}

// ProfileJSON is the profile representation shared by the session and token APIs.
func ProfileJSON(u *models.User) fiber.Map {
	avatar := u.AvatarURL
	if avatar == "" {
		avatar = utils.GravatarURL(u.Email, utils.DefaultAvatarSize)
	}
	tier := u.Tier()
	return fiber.Map{
		"id":              u.ID,
		"name":            u.Name,
		"email":           u.Email,
		"bio":             u.Bio,
		"avatar_url":      avatar,
		"role":            u.Role,
		"status":          u.Status,
		"membership_tier": tier,
		"tier_name":       entitlements.DisplayName(tier),
		"allowed_scopes":  entitlements.AllowedScopes(tier),
		"created_at":      formatTimePtr(&u.CreatedAt),
		"last_login_at":   formatTimePtr(u.LastLoginAt),
	}
}

// HandleProfile returns the caller's profile.
func (uc *UserController) HandleProfile(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, uc.profiles)
	if !ok {
		return err
	}
	return c.JSON(ProfileJSON(user))
}

// HandleUpdateProfile changes name and bio. Other fields in the body are ignored.
func (uc *UserController) HandleUpdateProfile(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, uc.profiles)
	if !ok {
		return err
	}
	var req updateProfileRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}
	if req.Name == nil && req.Bio == nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Nothing to update, send name or bio")
	}

	name, bio := user.Name, user.Bio
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if len(name) < 3 {
			return jsonError(c, fiber.StatusBadRequest, "validation_failed", "name failed min")
		}
	}
	if req.Bio != nil {
		bio = strings.TrimSpace(*req.Bio)
	}
	if err := uc.profiles.UpdateProfile(user.ID, name, bio); err != nil {
		return internalError(c, "User", "Failed to update profile", err)
	}
	user.Name, user.Bio = name, bio
	return c.JSON(ProfileJSON(user))
}

// HandleAvatarUpload stores a new profile picture from the multipart field "avatar".
func (uc *UserController) HandleAvatarUpload(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, uc.profiles)
	if !ok {
		return err
	}
	if uc.avatars == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "service_unavailable", "Avatar upload is disabled")
	}

	fh, err := c.FormFile(avatarFormField)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Multipart field 'avatar' is required")
	}
	if fh.Size > storage.MaxAvatarBytes {
		return jsonError(c, fiber.StatusRequestEntityTooLarge, "payload_too_large", storage.ErrAvatarTooLarge.Error())
	}
	file, err := fh.Open()
	if err != nil {
		return internalError(c, "User", "Failed to read upload", err)
	}
	defer file.Close()

	url, err := uc.avatars.Upload(c.UserContext(), user.ID, file)
	switch {
	case errors.Is(err, storage.ErrInvalidImage):
		return jsonError(c, fiber.StatusBadRequest, "invalid_image", err.Error())
	case errors.Is(err, storage.ErrAvatarTooLarge):
		return jsonError(c, fiber.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
	case err != nil:
		return internalError(c, "User", "Failed to store avatar", err)
	}

	if err := uc.profiles.UpdateAvatar(user.ID, url); err != nil {
		return internalError(c, "User", "Failed to save avatar", err)
	}
	log.Infof("[User] User %d uploaded a new avatar", user.ID)
	return c.JSON(fiber.Map{"avatar_url": url})
}
