package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/http/middleware"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/service/order"
	"github.com/jmehdipour/order-saga/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type orderItemReq struct {
	ProductID uuid.UUID       `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	SubTotal  decimal.Decimal `json:"subTotal"`
}

type placeOrderReq struct {
	CustomerID   uuid.UUID       `json:"customerId"`
	RestaurantID uuid.UUID       `json:"restaurantId"`
	Price        decimal.Decimal `json:"price"`
	Items        []orderItemReq  `json:"items"`
}

type orderResp struct {
	OrderTrackingID string            `json:"orderTrackingId"`
	OrderStatus     model.OrderStatus `json:"orderStatus"`
	FailureMessages []string          `json:"failureMessages,omitempty"`
	CreatedAt       *time.Time        `json:"createdAt,omitempty"`
}

func placeOrderHandler(svc *order.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req placeOrderReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		caller, ok := middleware.CustomerIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if req.CustomerID == uuid.Nil {
			req.CustomerID = caller
		}
		if req.CustomerID != caller {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "customer mismatch"})
		}

		cmd := order.PlaceOrder{
			CustomerID:   req.CustomerID,
			RestaurantID: req.RestaurantID,
			Price:        req.Price,
		}
		for _, it := range req.Items {
			cmd.Items = append(cmd.Items, order.Item{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				Price:     it.Price,
				SubTotal:  it.SubTotal,
			})
		}

		o, err := svc.Place(c.Request().Context(), cmd)
		switch {
		case errors.Is(err, order.ErrInvalidOrder):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, order.ErrUnknownCustomer):
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "unknown customer"})
		case err != nil:
			log.Error("place order failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, orderResp{
			OrderTrackingID: o.TrackingID,
			OrderStatus:     o.Status,
			CreatedAt:       &o.CreatedAt,
		})
	}
}

func trackOrderHandler(svc *order.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		o, ok := lookup(c, svc, log)
		if !ok {
			return nil
		}
		resp := orderResp{OrderTrackingID: o.TrackingID, OrderStatus: o.Status, CreatedAt: &o.CreatedAt}
		if o.FailureMessages != "" {
			resp.FailureMessages = strings.Split(o.FailureMessages, model.FailureMessageDelimiter)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func orderHistoryHandler(svc *order.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		o, ok := lookup(c, svc, log)
		if !ok {
			return nil
		}
		ts, err := svc.History(c.Request().Context(), o.TrackingID)
		if err != nil {
			log.Error("saga history failed", zap.String("tracking_id", o.TrackingID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"orderTrackingId": o.TrackingID,
			"count":           len(ts),
			"results":         ts,
		})
	}
}

// lookup resolves the :trackingId of the caller's order and writes the error
// response itself when it reports false.
func lookup(c echo.Context, svc *order.Service, log *zap.Logger) (*model.Order, bool) {
	id := strings.TrimSpace(c.Param("trackingId"))
	if !util.ValidTrackingID(id) {
		_ = c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid tracking id"})
		return nil, false
	}
	o, err := svc.Track(c.Request().Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		_ = c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
		return nil, false
	}
	if err != nil {
		log.Error("track order failed", zap.String("tracking_id", id), zap.Error(err))
		_ = c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		return nil, false
	}
	if caller, ok := middleware.CustomerIDFromCtx(c); !ok || caller != o.CustomerID {
		_ = c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
		return nil, false
	}
	return o, true
}
