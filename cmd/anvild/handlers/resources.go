package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	apierr "github.com/anvilworks/anvil/pkg/api/types/errors"
	apires "github.com/anvilworks/anvil/pkg/api/types/resources"
	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/domain/flow"
	"github.com/anvilworks/anvil/pkg/domain/resource"
	"github.com/anvilworks/anvil/pkg/domain/task"
)

func GetResourceHandler(store resource.Store, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		r, err := store.Get(ctx, c.Param(paramKey))
		if err != nil {
			if kerr.AsMissing(err) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, apires.ComposeDetail(r))
	}
}

func DeployHandler(flows flow.Service, store resource.Store, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		r, err := store.Get(ctx, c.Param(paramKey))
		if err != nil {
			if kerr.AsMissing(err) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}
		if !r.Status.CanTransit(resource.Deploying, r.Kind) {
			return apierr.Conflict(
				"resource can not be deployed in status " + r.Status.String(),
			)
		}

		return respondOutcome(c, store, r, flows.Deploy(ctx, r))
	}
}

func RedeployHandler(flows flow.Service, store resource.Store, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		r, err := store.Get(ctx, c.Param(paramKey))
		if err != nil {
			if kerr.AsMissing(err) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}
		if !r.Status.CanTransit(resource.Created, r.Kind) && r.Status != resource.Created {
			return apierr.Conflict(
				"resource can not be redeployed in status " + r.Status.String(),
			)
		}

		return respondOutcome(c, store, r, flows.Redeploy(ctx, r))
	}
}

func DeleteResourceHandler(flows flow.Service, store resource.Store, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		r, err := store.Get(ctx, c.Param(paramKey))
		if err != nil {
			if kerr.AsMissing(err) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}
		if !r.Status.CanTransit(resource.Deleting, r.Kind) {
			return apierr.Conflict(
				"resource can not be deleted in status " + r.Status.String(),
			)
		}

		result := flows.Delete(ctx, r)
		if result.Success {
			return c.NoContent(http.StatusNoContent)
		}
		return respondOutcome(c, store, r, result)
	}
}

func CancelHandler(flows flow.Service, store resource.Store, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		resourceId := c.Param(paramKey)
		if err := flows.Cancel(ctx, resourceId); err != nil {
			if kerr.AsMissing(err) {
				return apierr.NotFound()
			}
			if kerr.AsConflict(err) {
				return apierr.Conflict(err.Error())
			}
			return apierr.InternalServerError(err)
		}

		r, err := store.Get(ctx, resourceId)
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, apires.ComposeDetail(r))
	}
}

// respondOutcome replies with the flow result and the freshest record the
// store still has. Flow failures are reported in the payload, not as an
// HTTP error: the persisted status is the user-facing truth.
func respondOutcome(
	c echo.Context, store resource.Store, r resource.Resource, result task.Result[string],
) error {
	if fresh, err := store.Get(context.WithoutCancel(c.Request().Context()), r.Id); err == nil {
		r = fresh
	}
	return c.JSON(http.StatusOK, apires.ComposeOutcome(result, r))
}
