package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/store"
)

const defaultReadingLimit = 100

// NewDefault builds the standard registry: devices, data, data buckets,
// products, and endpoints, all scoped to the caller's organization.
func NewDefault(st *store.Store, log *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register("devices", devicesFunc(st))
	r.Register("data", dataFunc(st))
	r.Register("data-buckets", dataBucketsFunc(st))
	r.Register("products", productsFunc(st))
	r.Register("endpoints", endpointsFunc(st, log))
	return r
}

func devicesFunc(st *store.Store) Func {
	return func(ctx context.Context, req *Request) (any, error) {
		switch req.Method {
		case http.MethodGet:
			if req.ResourceID != "" {
				return st.GetDevice(ctx, req.ResourceID, req.OrganizationID)
			}
			devices, err := st.ListDevices(ctx, req.OrganizationID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"devices": devices, "count": len(devices)}, nil

		case http.MethodPost:
			name, err := requireString(req.Body, "name")
			if err != nil {
				return nil, err
			}
			d := &model.Device{
				OrganizationID: req.OrganizationID,
				Name:           name,
				Type:           stringField(req.Body, "type"),
				Status:         "offline",
				Description:    stringField(req.Body, "description"),
			}
			if err := st.CreateDevice(ctx, d); err != nil {
				return nil, err
			}
			return d, nil

		case http.MethodPut:
			if req.ResourceID == "" {
				return nil, fmt.Errorf("%w: device id required", ErrInvalidInput)
			}
			d, err := st.GetDevice(ctx, req.ResourceID, req.OrganizationID)
			if err != nil {
				return nil, err
			}
			if v := stringField(req.Body, "name"); v != "" {
				d.Name = v
			}
			if v := stringField(req.Body, "type"); v != "" {
				d.Type = v
			}
			if v := stringField(req.Body, "status"); v != "" {
				d.Status = v
			}
			if v := stringField(req.Body, "description"); v != "" {
				d.Description = v
			}
			if err := st.UpdateDevice(ctx, d); err != nil {
				return nil, err
			}
			return d, nil

		case http.MethodDelete:
			if req.ResourceID == "" {
				return nil, fmt.Errorf("%w: device id required", ErrInvalidInput)
			}
			if err := st.DeleteDevice(ctx, req.ResourceID, req.OrganizationID); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true, "id": req.ResourceID}, nil

		default:
			return nil, fmt.Errorf("%w: unsupported method %s", ErrInvalidInput, req.Method)
		}
	}
}

func dataFunc(st *store.Store) Func {
	return func(ctx context.Context, req *Request) (any, error) {
		switch req.Method {
		case http.MethodGet:
			deviceID := req.Query.Get("device_id")
			if deviceID == "" {
				deviceID = req.ResourceID
			}
			if deviceID == "" {
				return nil, fmt.Errorf("%w: device_id required", ErrInvalidInput)
			}
			limit := defaultReadingLimit
			if raw := req.Query.Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					return nil, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidInput)
				}
				limit = n
			}
			readings, err := st.ListReadings(ctx, deviceID, req.OrganizationID, req.Query.Get("type"), limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"readings": readings, "count": len(readings)}, nil

		case http.MethodPost:
			deviceID, err := requireString(req.Body, "device_id")
			if err != nil {
				return nil, err
			}
			// The device must belong to the caller before anything is stored.
			if _, err := st.GetDevice(ctx, deviceID, req.OrganizationID); err != nil {
				return nil, err
			}
			value, ok := req.Body["value"].(float64)
			if !ok {
				return nil, fmt.Errorf("%w: value must be a number", ErrInvalidInput)
			}
			r := &model.Reading{
				DeviceID:       deviceID,
				OrganizationID: req.OrganizationID,
				ReadingType:    stringField(req.Body, "reading_type"),
				Value:          value,
				Unit:           stringField(req.Body, "unit"),
				Timestamp:      req.Timestamp,
			}
			if err := st.InsertReading(ctx, r); err != nil {
				return nil, err
			}
			return r, nil

		default:
			return nil, fmt.Errorf("%w: unsupported method %s", ErrInvalidInput, req.Method)
		}
	}
}

func dataBucketsFunc(st *store.Store) Func {
	return func(ctx context.Context, req *Request) (any, error) {
		switch req.Method {
		case http.MethodGet:
			buckets, err := st.ListDataBuckets(ctx, req.OrganizationID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"data_buckets": buckets, "count": len(buckets)}, nil

		case http.MethodPost:
			name, err := requireString(req.Body, "name")
			if err != nil {
				return nil, err
			}
			b := &model.DataBucket{
				OrganizationID: req.OrganizationID,
				Name:           name,
				Description:    stringField(req.Body, "description"),
			}
			if deviceID := stringField(req.Body, "device_id"); deviceID != "" {
				if _, err := st.GetDevice(ctx, deviceID, req.OrganizationID); err != nil {
					return nil, err
				}
				b.DeviceID = &deviceID
			}
			if err := st.CreateDataBucket(ctx, b); err != nil {
				return nil, err
			}
			return b, nil

		default:
			return nil, fmt.Errorf("%w: unsupported method %s", ErrInvalidInput, req.Method)
		}
	}
}

func productsFunc(st *store.Store) Func {
	return func(ctx context.Context, req *Request) (any, error) {
		switch req.Method {
		case http.MethodGet:
			if req.ResourceID != "" {
				return st.GetProduct(ctx, req.ResourceID, req.OrganizationID)
			}
			products, err := st.ListProducts(ctx, req.OrganizationID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"products": products, "count": len(products)}, nil

		case http.MethodPost:
			name, err := requireString(req.Body, "name")
			if err != nil {
				return nil, err
			}
			p := &model.Product{
				OrganizationID: req.OrganizationID,
				Name:           name,
				Description:    stringField(req.Body, "description"),
				Category:       stringField(req.Body, "category"),
			}
			if err := st.CreateProduct(ctx, p); err != nil {
				return nil, err
			}
			return p, nil

		case http.MethodDelete:
			if req.ResourceID == "" {
				return nil, fmt.Errorf("%w: product id required", ErrInvalidInput)
			}
			if err := st.DeleteProduct(ctx, req.ResourceID, req.OrganizationID); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true, "id": req.ResourceID}, nil

		default:
			return nil, fmt.Errorf("%w: unsupported method %s", ErrInvalidInput, req.Method)
		}
	}
}

func endpointsFunc(st *store.Store, log *slog.Logger) Func {
	return func(ctx context.Context, req *Request) (any, error) {
		switch req.Method {
		case http.MethodGet:
			if req.ResourceID != "" {
				return st.GetEndpoint(ctx, req.ResourceID, req.OrganizationID)
			}
			endpoints, err := st.ListEndpoints(ctx, req.OrganizationID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"endpoints": endpoints, "count": len(endpoints)}, nil

		case http.MethodPost:
			// POST /endpoints/{id} triggers; POST /endpoints creates.
			if req.ResourceID != "" {
				return triggerEndpoint(ctx, st, log, req)
			}
			name, err := requireString(req.Body, "name")
			if err != nil {
				return nil, err
			}
			e := &model.Endpoint{
				OrganizationID: req.OrganizationID,
				Name:           name,
				Type:           stringField(req.Body, "type"),
				TargetURL:      stringField(req.Body, "target_url"),
				IsActive:       true,
			}
			if e.Type == "" {
				e.Type = "webhook"
			}
			if err := st.CreateEndpoint(ctx, e); err != nil {
				return nil, err
			}
			return e, nil

		default:
			return nil, fmt.Errorf("%w: unsupported method %s", ErrInvalidInput, req.Method)
		}
	}
}

// triggerEndpoint fires a configured automation target. Delivery itself is
// the automation plane's job; the gateway records the trigger and answers.
func triggerEndpoint(ctx context.Context, st *store.Store, log *slog.Logger, req *Request) (any, error) {
	e, err := st.GetEndpoint(ctx, req.ResourceID, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !e.IsActive {
		return nil, fmt.Errorf("%w: endpoint %s is disabled", ErrInvalidInput, e.ID)
	}

	log.Info("endpoint triggered",
		"endpoint_id", e.ID,
		"endpoint_type", e.Type,
		"organization_id", req.OrganizationID,
		"user_id", req.UserID)
	return map[string]any{
		"triggered":    true,
		"endpoint_id":  e.ID,
		"endpoint":     e.Name,
		"type":         e.Type,
		"payload":      req.Body["payload"],
		"triggered_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
