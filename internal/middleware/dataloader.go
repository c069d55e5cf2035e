package middleware

import (
	"context"

	"github.com/rpattn/crmimport/internal/leadloader"

	"github.com/labstack/echo/v4"
)

type ctxKey string

const leadLoaderKey ctxKey = "leadLoader"

// DataLoader attaches a per-request lead loader to the request context
func DataLoader(repo leadloader.EmailFinder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			loader := leadloader.NewLeadLoader(repo)
			req := c.Request()
			c.SetRequest(req.WithContext(WithLeadLoader(req.Context(), loader)))
			return next(c)
		}
	}
}

// WithLeadLoader stores loader in ctx.
func WithLeadLoader(ctx context.Context, loader *leadloader.LeadLoader) context.Context {
	return context.WithValue(ctx, leadLoaderKey, loader)
}

// LeadLoaderFromContext retrieves the lead loader from context
func LeadLoaderFromContext(ctx context.Context) *leadloader.LeadLoader {
	if l, ok := ctx.Value(leadLoaderKey).(*leadloader.LeadLoader); ok {
		return l
	}
	return nil
}
