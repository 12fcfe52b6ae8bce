package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/molliey/taskboard/domain"
)

// BoardReader exposes the store's read path for the REST surface.
type BoardReader interface {
	Snapshot(ctx context.Context, projectID string) (domain.Snapshot, error)
}

// UserDirectory resolves user identifiers for display purposes.
type UserDirectory interface {
	FetchUser(ctx context.Context, userID string) (domain.User, error)
}

// Authenticator is implemented by types able to extract user IDs from
// Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Register wires up the REST read routes on the provided Echo instance.
func Register(e *echo.Echo, boards BoardReader, users UserDirectory, auth Authenticator) {
	e.GET("/api/projects/:id/board", getBoard(boards, auth))
	e.GET("/api/users/:id", getUser(users, auth))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(boards BoardReader, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		snap, err := boards.Snapshot(c.Request().Context(), c.Param("id"))
		if err != nil {
			if domain.IsNotFound(err) {
				return c.String(http.StatusNotFound, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, snap)
	}
}

func getUser(users UserDirectory, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		user, err := users.FetchUser(c.Request().Context(), c.Param("id"))
		if err != nil {
			if domain.IsNotFound(err) {
				return c.String(http.StatusNotFound, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, user)
	}
}
