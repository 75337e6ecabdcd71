package indengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fxindicators/internal/indicator"
	"fxindicators/internal/model"
)

var validate = validator.New()

// ValidationError is one field failure in a 400 response.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type latestRequest struct {
	Family string `query:"family" validate:"required"`
	Symbol string `query:"symbol" validate:"required"`
	Period string `query:"period" validate:"required"`
}

type missedRequest struct {
	Channel string `query:"channel" validate:"required"`
	From    int64  `query:"from" validate:"gte=1"`
	To      int64  `query:"to" validate:"gtefield=From"`
}

type pruneRequest struct {
	HoldDays int `json:"hold_days" validate:"gte=1"`

	fallback int
}

// SetDefaults implements defaults.Setter.
func (r *pruneRequest) SetDefaults() {
	if r.HoldDays == 0 {
		r.HoldDays = r.fallback
	}
}

type pruneResponse struct {
	HoldDays int                  `json:"hold_days"`
	Stats    indicator.PruneStats `json:"stats"`
}

// newRouter builds the admin API.
func (svc *Service) newRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	g := e.Group("/api/v1")
	g.GET("/catalog", svc.handleCatalog)
	g.GET("/latest", svc.handleLatest)
	g.POST("/prune", svc.handlePrune)
	g.GET("/missed", svc.handleMissed)

	e.GET("/ws", echo.WrapHandler(svc.hub))

	e.GET("/healthz", echo.WrapHandler(svc.health))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{})))
	return e
}

func (svc *Service) handleCatalog(c echo.Context) error {
	return c.JSON(http.StatusOK, svc.holder.Catalog())
}

func (svc *Service) handleLatest(c echo.Context) error {
	req := &latestRequest{}
	if verrs := readAndValidate(c, req); verrs != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"errors": verrs})
	}
	u, ok, err := svc.holder.Snapshot(model.Family(strings.ToUpper(req.Family)),
		strings.ToUpper(req.Symbol), strings.ToUpper(req.Period))
	if errors.Is(err, indicator.ErrUnknownSeries) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown series")
	}
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no data yet")
	}
	return c.JSON(http.StatusOK, u)
}

// handleMissed returns buffered push envelopes of one channel so a client
// that saw a channel_seq gap can backfill it.
func (svc *Service) handleMissed(c echo.Context) error {
	req := &missedRequest{}
	if verrs := readAndValidate(c, req); verrs != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"errors": verrs})
	}
	channel := strings.ToUpper(req.Channel)
	msgs := svc.hub.GetReplayRange(channel, req.From, req.To)
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"channel":     channel,
		"channel_seq": svc.hub.GetChannelSeq(channel),
		"messages":    out,
	})
}

func (svc *Service) handlePrune(c echo.Context) error {
	req := &pruneRequest{fallback: svc.cfg.Engine.HoldDays}
	if verrs := readAndValidate(c, req); verrs != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"errors": verrs})
	}
	start := time.Now()
	stats := svc.prune(c.Request().Context(), req.HoldDays)
	svc.log.Info().Int("hold_days", req.HoldDays).Dur("elapsed", time.Since(start)).Msg("prune requested")
	return c.JSON(http.StatusOK, pruneResponse{HoldDays: req.HoldDays, Stats: stats})
}

// readAndValidate binds the request, applies defaults and validates it.
func readAndValidate(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		out := make([]ValidationError, 0, len(ves))
		for _, fe := range ves {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
			})
		}
		return out
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []ValidationError{{Code: "ERR_UNKNOWN", Message: fmt.Sprintf("%v", he.Message)}}
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte", "gtefield":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
	}
}
