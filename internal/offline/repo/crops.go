package repo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/gateway"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
)

// Crops manages crop records together with their sales and expenses.
type Crops struct {
	base
}

// NewCrops creates the crop repository.
func NewCrops(store Store, api API, online Connectivity, logger zerolog.Logger) *Crops {
	return &Crops{base{store: store, api: api, online: online, logger: logger, now: time.Now}}
}

func cropPath(id string) string {
	return "/crops/" + url.PathEscape(id)
}

func expensePath(cropID string, expenseID ...string) string {
	p := "/expenses/" + url.PathEscape(cropID)
	for _, id := range expenseID {
		p += "/" + url.PathEscape(id)
	}
	return p
}

// List returns all crops. Online it refreshes the local snapshot; when the
// network fails it serves the local copy if there is one.
func (c *Crops) List(ctx context.Context) (*Result, error) {
	if !c.online.Online() {
		return c.listLocal(ctx)
	}

	env, err := c.call(ctx, http.MethodGet, "/crops", nil)
	if err != nil {
		if gateway.IsNetwork(err) {
			local, lerr := c.listLocal(ctx)
			if lerr == nil && len(local.Records) > 0 {
				return local, nil
			}
		}
		return nil, fmt.Errorf("failed to list crops: %w", err)
	}

	records, err := schema.DecodeRecords(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to list crops: %w", err)
	}
	if env.Success {
		if err := c.store.PutAll(ctx, records); err != nil {
			c.logger.Warn().Err(err).Msg("failed to cache crops locally")
		}
	}
	return &Result{Records: records}, nil
}

func (c *Crops) listLocal(ctx context.Context) (*Result, error) {
	records, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read local crops: %w", err)
	}
	return &Result{Records: records, Offline: true}, nil
}

// Get returns one crop. Temp ids never reach the network.
func (c *Crops) Get(ctx context.Context, id string) (*Result, error) {
	if !c.online.Online() || schema.IsTempID(id) {
		return c.getLocal(ctx, id)
	}

	env, err := c.call(ctx, http.MethodGet, cropPath(id), nil)
	if err != nil {
		if gateway.IsNetwork(err) {
			if local, lerr := c.getLocal(ctx, id); lerr == nil {
				return local, nil
			}
		}
		return nil, fmt.Errorf("failed to get crop %s: %w", id, err)
	}
	return &Result{Record: c.mirror(ctx, env.Data)}, nil
}

func (c *Crops) getLocal(ctx context.Context, id string) (*Result, error) {
	rec, found, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read local crop %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("crop %s: %w", id, ErrNotAvailableOffline)
	}
	return &Result{Record: rec, Offline: true}, nil
}

// Create adds a crop. Offline the crop gets a temp id and is queued.
func (c *Crops) Create(ctx context.Context, data map[string]any) (*Result, error) {
	if c.online.Online() {
		env, err := c.call(ctx, http.MethodPost, "/crops", data)
		if err == nil {
			return &Result{Record: c.mirror(ctx, env.Data)}, nil
		}
		if !gateway.IsNetwork(err) {
			return nil, fmt.Errorf("failed to create crop: %w", err)
		}
		c.logger.Warn().Err(err).Msg("network failed, queueing crop")
	}

	now := c.now()
	rec := (&schema.Record{ID: schema.NewTempID(now), Temp: true, Queued: true, UpdatedAt: now}).Merge(data)
	rec.Data["status"] = "Active"
	rec.Data["expenses"] = []any{}
	rec.Data["sales"] = []any{}

	if err := c.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save crop locally: %w", err)
	}
	effect := schema.NewEffect(schema.EffectCreateCrop, rec.ID, "", rec)
	if err := c.enqueue(ctx, http.MethodPost, "/crops", data, "Add crop: "+rec.Name(), effect); err != nil {
		if rerr := c.store.Remove(ctx, rec.ID); rerr != nil {
			c.logger.Warn().Err(rerr).Str("id", rec.ID).Msg("failed to roll back local crop")
		}
		return nil, err
	}
	return &Result{Record: rec, Offline: true, Queued: true}, nil
}

// Update changes a crop. Offline the change is merged into the local copy
// and queued. Writes to temp ids are always queued so they replay after
// the create they depend on.
func (c *Crops) Update(ctx context.Context, id string, data map[string]any) (*Result, error) {
	if c.online.Online() && !schema.IsTempID(id) {
		env, err := c.call(ctx, http.MethodPut, cropPath(id), data)
		if err == nil {
			return &Result{Record: c.mirror(ctx, env.Data)}, nil
		}
		if !gateway.IsNetwork(err) {
			return nil, fmt.Errorf("failed to update crop %s: %w", id, err)
		}
		c.logger.Warn().Err(err).Str("id", id).Msg("network failed, queueing update")
	}

	existing, found, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read local crop %s: %w", id, err)
	}
	if !found {
		existing = &schema.Record{ID: id, Temp: schema.IsTempID(id)}
	}
	updated := existing.Merge(data)
	updated.Queued = true
	updated.UpdatedAt = c.now()

	if err := c.store.Put(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to save crop locally: %w", err)
	}
	effect := schema.NewEffect(schema.EffectUpdateCrop, id, "", updated)
	if err := c.enqueue(ctx, http.MethodPut, cropPath(id), data, "Update crop", effect); err != nil {
		return nil, err
	}
	return &Result{Record: updated, Offline: true, Queued: true}, nil
}

// Delete removes a crop.
func (c *Crops) Delete(ctx context.Context, id string) (*Result, error) {
	if c.online.Online() && !schema.IsTempID(id) {
		_, err := c.call(ctx, http.MethodDelete, cropPath(id), nil)
		if err == nil {
			if err := c.store.Remove(ctx, id); err != nil {
				c.logger.Warn().Err(err).Str("id", id).Msg("failed to remove local crop")
			}
			return &Result{}, nil
		}
		if !gateway.IsNetwork(err) {
			return nil, fmt.Errorf("failed to delete crop %s: %w", id, err)
		}
		c.logger.Warn().Err(err).Str("id", id).Msg("network failed, queueing delete")
	}

	if err := c.store.Remove(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to remove local crop %s: %w", id, err)
	}
	effect := schema.NewEffect(schema.EffectDeleteCrop, id, "", nil)
	if err := c.enqueue(ctx, http.MethodDelete, cropPath(id), nil, "Delete crop", effect); err != nil {
		return nil, err
	}
	return &Result{Offline: true, Queued: true}, nil
}

// AddSale records a sale against a crop.
func (c *Crops) AddSale(ctx context.Context, id string, sale map[string]any) (*Result, error) {
	return c.subWrite(ctx, subWrite{
		method: http.MethodPost,
		path:   cropPath(id) + "/sales",
		body:   sale,
		label:  "Record sale",
		effect: schema.NewEffect(schema.EffectAddSale, "", id, sale),
		cropID: id,
	})
}

// AddExpense records an expense against a crop.
func (c *Crops) AddExpense(ctx context.Context, cropID string, expense map[string]any) (*Result, error) {
	return c.subWrite(ctx, subWrite{
		method: http.MethodPost,
		path:   expensePath(cropID),
		body:   expense,
		label:  "Add expense",
		effect: schema.NewEffect(schema.EffectAddExpense, "", cropID, nil),
		cropID: cropID,
	})
}

// UpdateExpense changes an expense of a crop.
func (c *Crops) UpdateExpense(ctx context.Context, cropID, expenseID string, expense map[string]any) (*Result, error) {
	return c.subWrite(ctx, subWrite{
		method: http.MethodPut,
		path:   expensePath(cropID, expenseID),
		body:   expense,
		label:  "Update expense",
		effect: schema.NewEffect(schema.EffectUpdateExpense, "", cropID, nil),
		cropID: cropID,
	})
}

// DeleteExpense removes an expense from a crop.
func (c *Crops) DeleteExpense(ctx context.Context, cropID, expenseID string) (*Result, error) {
	return c.subWrite(ctx, subWrite{
		method: http.MethodDelete,
		path:   expensePath(cropID, expenseID),
		label:  "Delete expense",
		effect: schema.NewEffect(schema.EffectDeleteExpense, "", cropID, nil),
		cropID: cropID,
	})
}

// subWrite is a write to a crop's sub-resource. These have no optimistic
// local effect: the crop is refreshed from the server after replay.
type subWrite struct {
	method string
	path   string
	body   map[string]any
	label  string
	effect *schema.LocalEffect
	cropID string
}

func (c *Crops) subWrite(ctx context.Context, w subWrite) (*Result, error) {
	if c.online.Online() && !schema.IsTempID(w.cropID) {
		var body any
		if w.body != nil {
			body = w.body
		}
		env, err := c.call(ctx, w.method, w.path, body)
		if err == nil {
			return &Result{Record: c.mirror(ctx, env.Data)}, nil
		}
		if !gateway.IsNetwork(err) {
			return nil, fmt.Errorf("failed to %s: %w", w.label, err)
		}
		c.logger.Warn().Err(err).Str("path", w.path).Msg("network failed, queueing write")
	}

	var payload any
	if w.body != nil {
		payload = w.body
	}
	if err := c.enqueue(ctx, w.method, w.path, payload, w.label, w.effect); err != nil {
		return nil, err
	}
	return &Result{Offline: true, Queued: true}, nil
}

// DeleteAll removes every crop on the server. It needs the network and
// has no offline form.
func (c *Crops) DeleteAll(ctx context.Context) error {
	if !c.online.Online() {
		return ErrOffline
	}
	if _, err := c.call(ctx, http.MethodDelete, "/crops", nil); err != nil {
		return fmt.Errorf("failed to delete all crops: %w", err)
	}
	if err := c.store.PutAll(ctx, nil); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear local crops")
	}
	return nil
}
