// MCP surface for the cart engine using the official MCP Go SDK.
// Exposes cart operations as tools so an agent can drive a session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cartsync/internal/engine"
	"cartsync/internal/model"
	"cartsync/internal/remote"
)

// Agent wraps the sync engine for the MCP transport.
type Agent struct {
	engine  *engine.Engine
	session *remote.RotatingToken
	logger  *slog.Logger
}

// New creates an Agent. session may be nil if login is not offered.
func New(eng *engine.Engine, session *remote.RotatingToken, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{engine: eng, session: session, logger: logger}
}

// === Tool Input/Output Types ===

// CartView is the normalized cart state returned by every tool.
type CartView struct {
	Mode  string     `json:"mode"`
	Items []CartItem `json:"items"`
	Total int        `json:"total_quantity"`
}

// CartItem is one display line in a CartView.
type CartItem struct {
	ProductID    string `json:"product_id"`
	VariantIndex int    `json:"variant_index"`
	Quantity     int    `json:"quantity"`
	Name         string `json:"name"`
	VariantLabel string `json:"variant_label,omitempty"`
	Price        string `json:"price,omitempty"`
}

// FetchCartInput is the input schema for the fetch_cart tool.
type FetchCartInput struct{}

// AddToCartInput is the input schema for the add_to_cart tool.
type AddToCartInput struct {
	ProductID    string `json:"product_id,omitempty" jsonschema:"product ID,required"`
	VariantIndex int    `json:"variant_index,omitempty" jsonschema:"zero-based variant index"`
	Quantity     int    `json:"quantity" jsonschema:"quantity to add,required"`
}

// UpdateItemInput is the input schema for the update_cart_item tool.
type UpdateItemInput struct {
	ProductID    string `json:"product_id" jsonschema:"product ID,required"`
	VariantIndex int    `json:"variant_index,omitempty" jsonschema:"zero-based variant index"`
	Quantity     int    `json:"quantity" jsonschema:"new absolute quantity; 0 removes the item,required"`
}

// RemoveItemInput is the input schema for the remove_from_cart tool.
type RemoveItemInput struct {
	ProductID    string `json:"product_id" jsonschema:"product ID,required"`
	VariantIndex int    `json:"variant_index,omitempty" jsonschema:"zero-based variant index"`
}

// ClearCartInput is the input schema for the clear_cart tool.
type ClearCartInput struct{}

// LoginInput is the input schema for the login tool.
type LoginInput struct {
	SessionToken string `json:"session_token" jsonschema:"authenticated session token,required"`
}

// LogoutInput is the input schema for the logout tool.
type LogoutInput struct{}

// NewMCPServer creates an MCP server with cart tools registered.
func (a *Agent) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "cartsync",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Shopping cart session tools. Quantities in update_cart_item " +
				"are absolute, not deltas. Anonymous carts merge into the account " +
				"cart on login.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_cart",
		Description: "Get the current cart contents with product names and prices.",
	}, a.mcpFetchCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product variant to the cart. Adding an existing variant increases its quantity.",
	}, a.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_cart_item",
		Description: "Set the quantity of a cart item. Quantity 0 removes it.",
	}, a.mcpUpdateItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_from_cart",
		Description: "Remove a product variant from the cart.",
	}, a.mcpRemoveItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Remove everything from the cart.",
	}, a.mcpClearCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "login",
		Description: "Authenticate with a session token. Any anonymous cart items merge into the account cart.",
	}, a.mcpLogin)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "logout",
		Description: "End the authenticated session and return to an empty anonymous cart.",
	}, a.mcpLogout)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
func (a *Agent) NewMCPHandler() http.Handler {
	server := a.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// Run serves the MCP server over stdio until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	return a.NewMCPServer().Run(ctx, &mcp.StdioTransport{})}

// === Tool Handlers ===

func (a *Agent) mcpFetchCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input FetchCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	snapshot, err := a.engine.FetchCart(ctx)
	if err != nil {
		return nil, nil, a.mcpError(err)
	}
	return nil, a.view(snapshot), nil
}

func (a *Agent) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	if err := a.engine.AddToCart(ctx, input.ProductID, input.VariantIndex, input.Quantity); err != nil {
		return nil, nil, a.mcpError(err)
	}
	return nil, a.view(a.engine.Snapshot()), nil
}

func (a *Agent) mcpUpdateItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateItemInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	if err := a.engine.UpdateItem(ctx, input.ProductID, input.VariantIndex, input.Quantity); err != nil {
		return nil, nil, a.mcpError(err)
	}
	return nil, a.view(a.engine.Snapshot()), nil
}

func (a *Agent) mcpRemoveItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveItemInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	if err := a.engine.RemoveItem(ctx, input.ProductID, input.VariantIndex); err != nil {
		return nil, nil, a.mcpError(err)
	}
	return nil, a.view(a.engine.Snapshot()), nil
}

func (a *Agent) mcpClearCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ClearCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := a.engine.ClearCart(ctx); err != nil {
		return nil, nil, a.mcpError(err)
	}
	return nil, a.view(a.engine.Snapshot()), nil
}

func (a *Agent) mcpLogin(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LoginInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.SessionToken == "" {
		return nil, nil, fmt.Errorf("session_token is required")
	}
	if a.session == nil {
		return nil, nil, fmt.Errorf("login is not available for this store")
	}
	a.session.Set(input.SessionToken, time.Time{})
	if err := a.engine.Login(ctx); err != nil {
		return nil, nil, a.mcpError(err)
	}
	return nil, a.view(a.engine.Snapshot()), nil
}

func (a *Agent) mcpLogout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LogoutInput,
) (*mcp.CallToolResult, *CartView, error) {
	a.engine.Logout()
	if a.session != nil {
		a.session.Set("", time.Time{})
	}
	return nil, a.view(a.engine.Snapshot()), nil
}

// view converts an engine snapshot into the tool output shape.
func (a *Agent) view(s model.Snapshot) *CartView {
	v := &CartView{
		Mode:  a.engine.Mode().String(),
		Items: make([]CartItem, 0, len(s)),
		Total: s.TotalQuantity(),
	}
	for _, line := range s {
		item := CartItem{
			ProductID:    line.ProductID,
			VariantIndex: line.VariantIndex,
			Quantity:     line.Quantity,
			Name:         line.Name,
			VariantLabel: line.VariantLabel,
		}
		if line.Name != model.PlaceholderName {
			item.Price = model.FormatMinorUnits(line.Price)
		}
		v.Items = append(v.Items, item)
	}
	return v
}

// mcpError converts engine errors to MCP-friendly errors.
func (a *Agent) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	switch {
	case errors.Is(err, model.ErrNotFound):
		return fmt.Errorf("not_found: item is not in the cart")
	case errors.Is(err, model.ErrInvalidRequest):
		return fmt.Errorf("invalid_request: %v", err)
	case errors.Is(err, model.ErrUnauthorized):
		return fmt.Errorf("unauthorized: session expired, continuing anonymously")
	case errors.Is(err, model.ErrUnreachable):
		return fmt.Errorf("unreachable: store did not respond")
	}
	// Don't leak internal error details
	a.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
