package visit

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

var staffRoles = []string{
	RoleAdmin, RoleReceptionist, RoleNurse, RoleDoctor,
	RoleLabTechnician, RolePharmacist, RoleBilling,
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(staffRoles...))
	readGroup.GET("/visits", h.ListVisits)
	readGroup.GET("/visits/:id", h.GetVisit)
	readGroup.GET("/visits/:id/history", h.GetHistory)
	readGroup.GET("/queues", h.GetQueueSummary)
	readGroup.GET("/queues/:role", h.GetQueue)

	api.POST("/visits", h.CreateVisit, auth.RequireRole(RoleReceptionist, RoleAdmin))
	// Any staff role may request a transition; the service enforces which
	// role owns which stage.
	api.POST("/visits/:id/transition", h.Transition, auth.RequireRole(staffRoles...))
	api.POST("/visits/:id/complete", h.CompleteVisit, auth.RequireRole(RoleBilling, RoleAdmin))
	api.POST("/visits/:id/cancel", h.CancelVisit, auth.RequireRole(RoleReceptionist, RoleAdmin))
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var input CreateVisitInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.CreateVisit(c.Request().Context(), input, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)

	patientID := c.QueryParam("patient_id")
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pid, err := uuid.Parse(patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	visits, total, err := h.svc.ListByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		TargetStage Stage             `json:"target_stage"`
		Payload     TransitionPayload `json:"payload"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !body.TargetStage.Valid() || body.TargetStage == StageCompleted {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid target_stage")
	}

	role := actingRole(c)
	if role == "" {
		return echo.NewHTTPError(http.StatusForbidden, "no staff role")
	}
	v, err := h.svc.RequestTransition(c.Request().Context(), id, role, body.TargetStage, auth.UserIDFromContext(c.Request().Context()), body.Payload)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CompleteVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.Complete(c.Request().Context(), id, actingRole(c), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CancelVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.Cancel(c.Request().Context(), id, actingRole(c), auth.UserIDFromContext(c.Request().Context()), body.Reason)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetQueueSummary(c echo.Context) error {
	summary, err := h.svc.QueueSummary(c.Request().Context())
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetQueue(c echo.Context) error {
	role := c.Param("role")
	if _, ok := StageForRole(role); !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown queue role")
	}
	pg := pagination.FromContext(c)
	visits, total, err := h.svc.QueueFor(c.Request().Context(), role, pg.Limit, pg.Offset)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
}

// actingRole picks the caller's workflow role from their JWT roles. Admin is
// used only when no department role is present.
func actingRole(c echo.Context) string {
	roles := auth.RolesFromContext(c.Request().Context())
	admin := false
	for _, r := range roles {
		if r == RoleAdmin {
			admin = true
			continue
		}
		if _, ok := StageForRole(r); ok {
			return r
		}
	}
	if admin {
		return RoleAdmin
	}
	return ""
}

// respondError maps workflow failures to HTTP status codes.
func respondError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrVisitTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPreconditionFailed):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
