package lightspeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// servicesCategory names the catalogue category holding labour items.
const servicesCategory = "services"

// EstimateLine is one line of a service estimate.
type EstimateLine struct {
	ItemID   string  `json:"item_id"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Estimate is a quote created for a customer, typically after a diagnosis.
type Estimate struct {
	CustomerID string
	Note       string
	Lines      []EstimateLine
}

type estimatePayload struct {
	CustomerID string         `json:"customer_id"`
	Note       string         `json:"note,omitempty"`
	Status     string         `json:"status"`
	LineItems  []EstimateLine `json:"line_items"`
}

// Items lists catalogue items, e.g. filtered by search, category_id or limit.
func (c *Client) Items(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return c.Request(ctx, "/items", WithQuery(params))
}

// Customers lists customers, e.g. filtered by search or limit.
func (c *Client) Customers(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return c.Request(ctx, "/customers", WithQuery(params))
}

// Customer returns one customer.
func (c *Client) Customer(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Request(ctx, "/customers/"+url.PathEscape(id))
}

// Categories lists catalogue categories.
func (c *Client) Categories(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, "/categories")
}

// ListServiceItems lists up to 50 items of the "Services" category. Without such
// a category it falls back to the first 100 items, keeping those whose type or
// category is service.
func (c *Client) ListServiceItems(ctx context.Context) (json.RawMessage, error) {
	categories, err := Do[listResponse[namedEntity]](ctx, c, "/categories")
	if err != nil {
		return nil, err
	}
	for _, cat := range categories.Data {
		if strings.EqualFold(cat.Name, servicesCategory) {
			id, err := cat.id()
			if err != nil {
				return nil, err
			}
			return c.Items(ctx, url.Values{"category_id": {id}, "limit": {"50"}})
		}
	}

	items, err := Do[listResponse[json.RawMessage]](ctx, c, "/items", WithQuery(url.Values{"limit": {"100"}}))
	if err != nil {
		return nil, err
	}
	services := listResponse[json.RawMessage]{Data: []json.RawMessage{}}
	for _, raw := range items.Data {
		var item struct {
			Type     string `json:"type"`
			Category string `json:"category"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		if strings.EqualFold(item.Type, "service") || strings.EqualFold(item.Category, servicesCategory) {
			services.Data = append(services.Data, raw)
		}
	}
	return json.Marshal(services)
}

// listResponse is the envelope of list endpoints.
type listResponse[T any] struct {
	Data []T `json:"data"`
}

// namedEntity is a catalogue entry whose id may be a JSON string or number.
type namedEntity struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

func (e namedEntity) id() (string, error) {
	var s string
	if err := json.Unmarshal(e.ID, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(e.ID, &n); err != nil {
		return "", &StatusError{Kind: ErrRequestFailed, Body: fmt.Sprintf("decoding category id %s: %v", e.ID, err), Err: err}
	}
	return n.String(), nil
}

// SalesByCustomer lists up to 50 sales for a customer unless params overrides limit.
func (c *Client) SalesByCustomer(ctx context.Context, customerID string, params url.Values) (json.RawMessage, error) {
	q := url.Values{"customer_id": {customerID}, "limit": {"50"}}
	for k, vs := range params {
		q[k] = vs
	}
	return c.Request(ctx, "/sales", WithQuery(q))
}

// CreateEstimate records e as a sale with status "quote".
func (c *Client) CreateEstimate(ctx context.Context, e Estimate) (json.RawMessage, error) {
	lines := e.Lines
	if lines == nil {
		lines = []EstimateLine{}
	}
	payload := estimatePayload{
		CustomerID: e.CustomerID,
		Note:       e.Note,
		Status:     "quote",
		LineItems:  lines,
	}
	return c.Request(ctx, "/sales", WithMethod(http.MethodPost), WithJSONBody(payload))
}
