package handler

import (
	"context"

	"google.golang.org/grpc"
)

const checkoutServiceName = "checkout.v1.CheckoutService"

type CheckoutLine struct {
	ProductID string `json:"product_id"`
	TierID    string `json:"tier_id"`
	Quantity  int32  `json:"quantity"`
}

type SubmitCheckoutRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	OrderID        string         `json:"order_id"`
	LocationID     string         `json:"location_id"`
	Actor          string         `json:"actor"`
	Lines          []CheckoutLine `json:"lines"`
}

type SubmitCheckoutResponse struct {
	Status           string `json:"status"`
	OrderID          string `json:"order_id"`
	Reason           string `json:"reason,omitempty"`
	Message          string `json:"message,omitempty"`
	ReceiptID        string `json:"receipt_id,omitempty"`
	Total            string `json:"total,omitempty"`
	AuthorizationID  string `json:"authorization_id,omitempty"`
	ReconciliationID string `json:"reconciliation_id,omitempty"`
}

type AdjustInventoryRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	ProductID      string `json:"product_id"`
	LocationID     string `json:"location_id"`
	Delta          int64  `json:"delta"`
	Reason         string `json:"reason"`
	Actor          string `json:"actor"`
}

type AdjustInventoryResponse struct {
	Status           string         `json:"status"`
	Level            InventoryLevel `json:"level"`
	ReconciliationID string         `json:"reconciliation_id,omitempty"`
	Message          string         `json:"message,omitempty"`
}

type GetInventoryLevelRequest struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
}

type InventoryLevel struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	OnHand     int64  `json:"on_hand_quantity"`
	Held       int64  `json:"held_quantity"`
	Available  int64  `json:"available_quantity"`
}

type GetReconciliationSummaryRequest struct {
	LocationID string `json:"location_id"`
}

type GetReconciliationSummaryResponse struct {
	Unresolved map[string]int32 `json:"unresolved"`
}

type CheckoutServiceServer interface {
	SubmitCheckout(context.Context, *SubmitCheckoutRequest) (*SubmitCheckoutResponse, error)
	AdjustInventory(context.Context, *AdjustInventoryRequest) (*AdjustInventoryResponse, error)
	GetInventoryLevel(context.Context, *GetInventoryLevelRequest) (*InventoryLevel, error)
	GetReconciliationSummary(context.Context, *GetReconciliationSummaryRequest) (*GetReconciliationSummaryResponse, error)
}

func RegisterCheckoutServiceServer(s grpc.ServiceRegistrar, srv CheckoutServiceServer) {
	s.RegisterService(&CheckoutServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc.MethodHandler, running the
// server interceptor chain when one is installed.
func unaryHandler[Req, Resp any](method string, call func(CheckoutServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + checkoutServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CheckoutServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CheckoutServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var CheckoutServiceDesc = grpc.ServiceDesc{
	ServiceName: checkoutServiceName,
	HandlerType: (*CheckoutServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitCheckout",
			Handler:    unaryHandler("SubmitCheckout", CheckoutServiceServer.SubmitCheckout),
		},
		{
			MethodName: "AdjustInventory",
			Handler:    unaryHandler("AdjustInventory", CheckoutServiceServer.AdjustInventory),
		},
		{
			MethodName: "GetInventoryLevel",
			Handler:    unaryHandler("GetInventoryLevel", CheckoutServiceServer.GetInventoryLevel),
		},
		{
			MethodName: "GetReconciliationSummary",
			Handler:    unaryHandler("GetReconciliationSummary", CheckoutServiceServer.GetReconciliationSummary),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "checkout/v1/checkout.proto",
}

type CheckoutServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCheckoutServiceClient(cc grpc.ClientConnInterface) *CheckoutServiceClient {
	return &CheckoutServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+checkoutServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutServiceClient) SubmitCheckout(ctx context.Context, in *SubmitCheckoutRequest, opts ...grpc.CallOption) (*SubmitCheckoutResponse, error) {
	return invoke[SubmitCheckoutResponse](ctx, c.cc, "SubmitCheckout", in, opts)
}

func (c *CheckoutServiceClient) AdjustInventory(ctx context.Context, in *AdjustInventoryRequest, opts ...grpc.CallOption) (*AdjustInventoryResponse, error) {
	return invoke[AdjustInventoryResponse](ctx, c.cc, "AdjustInventory", in, opts)
}

func (c *CheckoutServiceClient) GetInventoryLevel(ctx context.Context, in *GetInventoryLevelRequest, opts ...grpc.CallOption) (*InventoryLevel, error) {
	return invoke[InventoryLevel](ctx, c.cc, "GetInventoryLevel", in, opts)
}

func (c *CheckoutServiceClient) GetReconciliationSummary(ctx context.Context, in *GetReconciliationSummaryRequest, opts ...grpc.CallOption) (*GetReconciliationSummaryResponse, error) {
	return invoke[GetReconciliationSummaryResponse](ctx, c.cc, "GetReconciliationSummary", in, opts)
}
