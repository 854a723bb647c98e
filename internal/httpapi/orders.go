package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/services"
)

const maxOrderBodyBytes = 1 << 20

var errTrailingData = errors.New("unexpected data after the JSON order")

// CorrelationIDHeader carries the correlation id of the accepted order
const CorrelationIDHeader = "X-Correlation-ID"

const orderAcceptedMessage = "Order creation initiated. Event published to RabbitMQ."

type itemRequest struct {
	ProductID string   `json:"productId" validate:"required"`
	Quantity  *int     `json:"quantity"  validate:"required,min=1"`
	Price     *float64 `json:"price"     validate:"required,gte=0"`
}

type createOrderRequest struct {
	CustomerID    string        `json:"customerId"    validate:"required"`
	CustomerEmail string        `json:"customerEmail" validate:"required,email"`
	Items         []itemRequest `json:"items"         validate:"required,min=1,dive"`
	TotalAmount   *float64      `json:"totalAmount"   validate:"required,gte=0"`
}

func (r createOrderRequest) toServiceRequest() services.CreateOrderRequest {
	items := make([]contracts.Item, len(r.Items))
	for i, item := range r.Items {
		items[i] = contracts.Item{
			ProductID: item.ProductID,
			Quantity:  *item.Quantity,
			Price:     *item.Price,
		}
	}

	return services.CreateOrderRequest{
		CustomerID:    r.CustomerID,
		CustomerEmail: r.CustomerEmail,
		Items:         items,
		TotalAmount:   *r.TotalAmount,
	}
}

type createOrderResponse struct {
	Message      string                  `json:"message"`
	EventDetails *contracts.OrderCreated `json:"eventDetails"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, s.logger)

	var req createOrderRequest
	if err := decodeStrict(http.MaxBytesReader(w, r.Body, maxOrderBodyBytes), &req); err != nil {
		if field, ok := unknownField(err); ok {
			logger.Warn("rejected order with unknown field", "field", field)
			writeError(w, http.StatusBadRequest, "Validation failed", ValidationError{
				field: "property " + field + " should not exist",
			})
			return
		}
		logger.Warn("rejected malformed order body", "error", err)
		writeError(w, http.StatusBadRequest, "Request body must be a JSON order", nil)
		return
	}

	if err := s.validator.Validate(req); err != nil {
		var fields ValidationError
		if errors.As(err, &fields) {
			logger.Warn("rejected invalid order", "fields", len(fields))
			writeError(w, http.StatusBadRequest, "Validation failed", fields)
			return
		}
		logger.Error("failed to validate order", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to validate order", nil)
		return
	}

	event, err := s.orders.CreateOrder(r.Context(), req.toServiceRequest())
	if err != nil {
		logger.Error("failed to create order", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Order could not be published, try again later", nil)
		return
	}

	w.Header().Set(CorrelationIDHeader, event.CorrelationID)
	writeJSON(w, http.StatusAccepted, createOrderResponse{
		Message:      orderAcceptedMessage,
		EventDetails: event,
	})
}

// decodeStrict decodes exactly one JSON value into v. Fields v does not
// declare and data after the value are errors.
func decodeStrict(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

// unknownField extracts the field name from the decoder's unknown field
// error, which has no exported type
func unknownField(err error) (string, bool) {
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(msg, prefix), `"`), true
}
