package middleware

import (
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/pricewise/pkg/context"
	"github.com/Ramsey-B/pricewise/pkg/metrics"
	"github.com/labstack/echo/v4"
)

func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			stop := time.Now()
			route := c.Path()
			metrics.RecordAPIRequest(req.Method, route, strconv.Itoa(res.Status), stop.Sub(start).Seconds())

			// Context() may run inside this middleware, so read the request it stored
			ctx := c.Request().Context()
			log := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":    context.GetRequestID(ctx),
				"method":        context.GetMethod(ctx),
				"uri":           req.RequestURI,
				"status":        res.Status,
				"route":         route,
				"path":          context.GetRoute(ctx),
				"remote_ip":     context.GetRemoteIP(ctx),
				"user_agent":    req.UserAgent(),
				"response_time": stop.Sub(start),
				"response_size": strconv.FormatInt(res.Size, 10),
			})
			if res.Status >= 500 {
				log.Warn("Request")
				return nil
			}
			log.Info("Request")

			return nil
		}
	}
}
