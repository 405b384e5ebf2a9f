package httpapi

import (
	"errors"
	"net/http"
	"time"

	"scheduling-platform/internal/auth"
	"scheduling-platform/internal/availability"
	"scheduling-platform/internal/booking"
	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/quota"
	"scheduling-platform/internal/rbac"
	"scheduling-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth         *auth.Manager
	Booking      *booking.Service
	Availability *availability.Resolver
	Cache        *availability.Cache
	Quota        *quota.Service
	Redis        *redis.Client
	Limits       booking.Limits
}

// Per-user cap on in-flight booking attempts. The cap sheds hammering
// clients before they reach Postgres; it is not a correctness mechanism.
const (
	bookingAttemptCap = 4
	bookingAttemptTTL = 15 * time.Second
)

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Availability ---

// GetAvailability returns the classified slot grid for one callee and day.
// The cache is display-only; booking never trusts it.
func (h Handlers) GetAvailability(c *gin.Context) {
	if h.Availability == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "availability not configured"})
		return
	}
	calleeID := c.Param("callee_id")
	if calleeID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callee_id required"})
		return
	}
	dateStr := c.Query("date")
	if dateStr == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date required (YYYY-MM-DD)"})
		return
	}
	day, err := h.Availability.ParseDay(dateStr)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	if cached, ok := h.Cache.Get(c.Request.Context(), calleeID, dateStr); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	sched, err := h.Availability.Resolve(c.Request.Context(), calleeID, day)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	h.Cache.Put(c.Request.Context(), sched)
	c.JSON(http.StatusOK, sched)
}

// --- Bookings ---

type createBookingRequest struct {
	CalleeID       string    `json:"callee_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Agenda         string    `json:"agenda"`
	Notes          string    `json:"notes"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func (h Handlers) CreateBooking(c *gin.Context) {
	if h.Booking == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "booking not configured"})
		return
	}
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	if h.Redis != nil {
		capKey := "booking:attempts:" + callerID
		ok, err := utils.AcquireConcurrencyCap(c.Request.Context(), h.Redis, capKey, bookingAttemptCap, bookingAttemptTTL)
		if err == nil && !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many booking attempts in flight"})
			return
		}
		if err == nil {
			defer func() {
				_ = utils.ReleaseConcurrencyCap(c.Request.Context(), h.Redis, capKey)
			}()
		}
	}

	call, err := h.Booking.Book(c.Request.Context(), booking.Request{
		CallerID:       callerID,
		CalleeID:       req.CalleeID,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
		Agenda:         req.Agenda,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}

	h.Cache.Invalidate(c.Request.Context(), call.CalleeID, h.Availability.DayOf(call.StartAt))
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) GetBooking(c *gin.Context) {
	if h.Booking == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "booking not configured"})
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	call, err := h.Booking.Get(c.Request.Context(), c.Param("id"), userID, role)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) CancelBooking(c *gin.Context) {
	if h.Booking == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "booking not configured"})
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	call, err := h.Booking.Cancel(c.Request.Context(), c.Param("id"), userID, role)
	if err != nil {
		writeBookingError(c, err)
		return
	}

	h.Cache.Invalidate(c.Request.Context(), call.CalleeID, h.Availability.DayOf(call.StartAt))
	c.JSON(http.StatusOK, call)
}

// --- Quota ---

// MyQuota reports the requester's remaining monthly bookings. The limit
// depends on which side of the call the requester is on.
func (h Handlers) MyQuota(c *gin.Context) {
	if h.Quota == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quota not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	role, _ := auth.Role(c.Request.Context())

	limit := h.Limits.Caller
	if role == rbac.RoleCallee {
		limit = h.Limits.Callee
	}

	at := time.Now()
	if m := c.Query("month"); m != "" {
		parsed, err := time.Parse("2006-01", m)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
			return
		}
		at = parsed
	}

	rem, err := h.Quota.RemainingAt(c.Request.Context(), userID, limit, at)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quota lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rem)
}

// writeBookingError maps domain errors onto HTTP status codes:
//
//	400 malformed or misaligned request
//	404 unknown or invisible booking
//	409 slot contention (lost race, busy, or already started)
//	429 monthly quota exhausted
//	503 external calendar unreachable
func writeBookingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, booking.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "booking not found"})
	case errors.Is(err, booking.ErrSlotUnavailable):
		body := gin.H{"error": err.Error()}
		var unavailable *booking.UnavailableError
		if errors.As(err, &unavailable) {
			body["reason"] = unavailable.Reason
			if unavailable.Conflict != nil {
				body["conflict"] = unavailable.Conflict
			}
		}
		c.AbortWithStatusJSON(http.StatusConflict, body)
	case errors.Is(err, booking.ErrSlotConflict),
		errors.Is(err, booking.ErrAlreadyStarted):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, quota.ErrQuotaExceeded):
		var exceeded *quota.ExceededError
		body := gin.H{"error": "monthly booking quota exceeded", "remaining": 0}
		if errors.As(err, &exceeded) {
			body["reset_at"] = exceeded.ResetAt
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
	case errors.Is(err, calendar.ErrSyncUnavailable):
		c.Header("Retry-After", "30")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "calendar provider unavailable, retry later"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
