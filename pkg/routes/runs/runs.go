package runs

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/internal/repositories/runlog"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// PlanBodyLimit caps a posted collection_schemas document.
const PlanBodyLimit = "4M"

// RunReader is the run log surface the routes read.
type RunReader interface {
	Get(ctx context.Context, id string) (*runlog.Run, error)
	List(ctx context.Context, limit, offset int) ([]runlog.Run, error)
}

// Handler serves migration run summaries and schema plan previews.
type Handler struct {
	logger  ectologger.Logger
	runs    RunReader
	options schema.Options
	flavor  sqlbuilder.Flavor
}

func NewHandler(logger ectologger.Logger, runs RunReader, options schema.Options, flavor sqlbuilder.Flavor) *Handler {
	return &Handler{logger: logger, runs: runs, options: options, flavor: flavor}
}

// Register registers run and plan routes under g (normally /api/v1).
func (h *Handler) Register(g *echo.Group) {
	g.GET("/runs", h.List)
	g.GET("/runs/:id", h.Get)
	g.POST("/schema/plan", h.Plan, echomw.BodyLimit(PlanBodyLimit))
}

type ListResponse struct {
	Items  []runlog.Run `json:"items"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// List returns recent runs, newest first.
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "runs_handler.List")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	items, err := h.runs.List(ctx, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse{Items: items, Limit: limit, Offset: offset})
}

func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "runs_handler.Get")
	defer span.End()

	run, err := h.runs.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

type PlanResponse struct {
	Tables []*schema.Table   `json:"tables"`
	Order  []string          `json:"order"`
	Facts  []schema.FactPlan `json:"facts"`
	DDL    []string          `json:"ddl"`
}

// Plan plans a posted collection_schemas document without touching the
// destination.
func (h *Handler) Plan(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "runs_handler.Plan")
	defer span.End()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	descriptors, err := schema.DecodeJSON(body)
	if err != nil {
		return err
	}
	plan, err := schema.NewPlanner(h.logger, h.options).Plan(ctx, descriptors)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PlanResponse{
		Tables: plan.Tables,
		Order:  plan.Order,
		Facts:  plan.Facts,
		DDL:    plan.DDL(h.flavor),
	})
}
