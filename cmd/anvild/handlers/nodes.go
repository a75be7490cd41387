package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	apierr "github.com/anvilworks/anvil/pkg/api/types/errors"
	apinodes "github.com/anvilworks/anvil/pkg/api/types/nodes"
	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/domain/reservation"
)

// header the authentication layer in front of anvild stores the verified
// login into.
const HeaderLogin = "X-Anvil-Login"

// ReserveNodeHandler grants (or returns the already-granted) node
// reservation of the calling user.
func ReserveNodeHandler(nodes *reservation.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		login := c.Request().Header.Get(HeaderLogin)
		if login == "" {
			return apierr.BadRequest("login is not known. set "+HeaderLogin, nil)
		}

		r, err := nodes.GetOrCreate(ctx, login)
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, apinodes.ComposeReservation(r))
	}
}

// ReportNodeErrorHandler appends a node-side error to the audit trail of
// the reservation identified by its compact node id.
func ReportNodeErrorHandler(nodes *reservation.Service, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		report := apinodes.ErrorReport{}
		decoder := json.NewDecoder(c.Request().Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&report); err != nil {
			return apierr.BadRequest("message is required", err)
		}
		if report.Message == "" {
			return apierr.BadRequest("message is required", nil)
		}

		if err := nodes.ReportError(ctx, c.Param(paramKey), report.Message); err != nil {
			if kerr.AsMissing(err) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// GetNodeErrorsHandler returns the audit trail in append order.
func GetNodeErrorsHandler(nodes *reservation.Service, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		records, err := nodes.Errors(ctx, c.Param(paramKey))
		if err != nil {
			if kerr.AsMissing(err) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}

		out := make([]apinodes.ErrorRecord, 0, len(records))
		for _, record := range records {
			out = append(out, apinodes.ComposeErrorRecord(record))
		}
		return c.JSON(http.StatusOK, out)
	}
}
