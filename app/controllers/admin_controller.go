package controllers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/billing"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/statistics"
)

const (
	defaultActivityPageSize = 50
	maxActivityPageSize     = 200
)

// StatsProvider serves the membership dashboard numbers.
type StatsProvider interface {
	Get(ctx context.Context) (*statistics.MembershipStats, error)
	Invalidate(ctx context.Context)
}

// SubscriptionAdjuster applies manual admin changes to a member's billing state.
type SubscriptionAdjuster interface {
	AdminAdjust(ctx context.Context, admin *models.User, targetUserID uint, req billing.AdjustRequest) (*billing.AdjustResult, error)
}

// ActivityStore reads the admin audit trail.
type ActivityStore interface {
	List(offset, limit int) ([]models.AdminActivityLog, error)
	ListByTarget(userID uint, limit int) ([]models.AdminActivityLog, error)
	Count() (int64, error)
}

// UserDirectory is the admin view on members.
type UserDirectory interface {
	UserStore
	List(offset, limit int) ([]models.User, error)
	Search(query string) ([]models.User, error)
	Count() (int64, error)
}

// AdminController handles admin-related HTTP requests using repository pattern
type AdminController struct {
	users    UserDirectory
	activity ActivityStore
	stats    StatsProvider
	adjuster SubscriptionAdjuster
}

// NewAdminController creates a new admin controller with its dependencies
func NewAdminController(users UserDirectory, activity ActivityStore, stats StatsProvider, adjuster SubscriptionAdjuster) *AdminController {
	return &AdminController{users: users, activity: activity, stats: stats, adjuster: adjuster}
}

func pagination(c *fiber.Ctx, defaultSize, maxSize int) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(c.Query("per_page", strconv.Itoa(defaultSize)))
	if size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}

// HandleStats returns user counts per tier, subscription counts per status and the token count.
func (ac *AdminController) HandleStats(c *fiber.Ctx) error {
	if c.QueryBool("refresh") {
		ac.stats.Invalidate(c.UserContext())
	}
	stats, err := ac.stats.Get(c.UserContext())
	if err != nil {
		return internalError(c, "Admin", "Failed to load statistics", err)
	}
	return c.JSON(stats)
}

// HandleActivity lists admin activity, newest first. user_id narrows it to one member.
func (ac *AdminController) HandleActivity(c *fiber.Ctx) error {
	page, size := pagination(c, defaultActivityPageSize, maxActivityPageSize)

	if raw := c.Query("user_id"); raw != "" {
		userID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || userID == 0 {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid user_id")
		}
		entries, err := ac.activity.ListByTarget(uint(userID), size)
		if err != nil {
			return internalError(c, "Admin", "Failed to load activity", err)
		}
		return c.JSON(fiber.Map{"activity": entries, "total": len(entries)})
	}

	total, err := ac.activity.Count()
	if err != nil {
		return internalError(c, "Admin", "Failed to count activity", err)
	}
	entries, err := ac.activity.List((page-1)*size, size)
	if err != nil {
		return internalError(c, "Admin", "Failed to load activity", err)
	}
	return c.JSON(fiber.Map{
		"activity": entries,
		"page":     page,
		"per_page": size,
		"total":    total,
	})
}

// HandleUsers lists members, or searches them by name and email with q.
func (ac *AdminController) HandleUsers(c *fiber.Ctx) error {
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		users, err := ac.users.Search(q)
		if err != nil {
			return internalError(c, "Admin", "Failed to search users", err)
		}
		return c.JSON(fiber.Map{"users": users, "total": len(users)})
	}

	page, size := pagination(c, 20, 100)
	total, err := ac.users.Count()
	if err != nil {
		return internalError(c, "Admin", "Failed to count users", err)
	}
	users, err := ac.users.List((page-1)*size, size)
	if err != nil {
		return internalError(c, "Admin", "Failed to load users", err)
	}
	return c.JSON(fiber.Map{"users": users, "page": page, "per_page": size, "total": total})
}

// HandleAdjustSubscription applies grant-tier, extend-subscription,
// cancel-subscription or refund to a member.
func (ac *AdminController) HandleAdjustSubscription(c *fiber.Ctx) error {
	admin, ok, err := currentUser(c, ac.users)
	if !ok {
		return err
	}
	targetID, valid := paramID(c, "id")
	if !valid {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid user id")
	}
	var req billing.AdjustRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	res, err := ac.adjuster.AdminAdjust(c.UserContext(), admin, targetID, req)
	if err != nil {
		return billingError(c, err)
	}
	ac.stats.Invalidate(c.UserContext())
	return c.JSON(res)
}
