package loyaltyv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "loyalty.v1.LoyaltyService"

	FullMethodResolve     = "/" + ServiceName + "/Resolve"
	FullMethodEnroll      = "/" + ServiceName + "/Enroll"
	FullMethodGetAccount  = "/" + ServiceName + "/GetAccount"
	FullMethodAccrue      = "/" + ServiceName + "/Accrue"
	FullMethodRedeem      = "/" + ServiceName + "/Redeem"
	FullMethodAdjust      = "/" + ServiceName + "/Adjust"
	FullMethodGetBalance  = "/" + ServiceName + "/GetBalance"
	FullMethodListHistory = "/" + ServiceName + "/ListHistory"
	FullMethodReconcile   = "/" + ServiceName + "/Reconcile"
)

// LoyaltyServiceServer is the server API for LoyaltyService.
type LoyaltyServiceServer interface {
	Resolve(context.Context, *ResolveRequest) (*AccountResponse, error)
	Enroll(context.Context, *EnrollRequest) (*AccountResponse, error)
	GetAccount(context.Context, *GetAccountRequest) (*AccountResponse, error)
	Accrue(context.Context, *AccrueRequest) (*AccrueResponse, error)
	Redeem(context.Context, *RedeemRequest) (*MutationResponse, error)
	Adjust(context.Context, *AdjustRequest) (*MutationResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	ListHistory(context.Context, *ListHistoryRequest) (*ListHistoryResponse, error)
	Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error)
	mustEmbedUnimplementedLoyaltyServiceServer()
}

// UnimplementedLoyaltyServiceServer must be embedded by implementations.
type UnimplementedLoyaltyServiceServer struct{}

func (UnimplementedLoyaltyServiceServer) Resolve(context.Context, *ResolveRequest) (*AccountResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Resolve not implemented")
}
func (UnimplementedLoyaltyServiceServer) Enroll(context.Context, *EnrollRequest) (*AccountResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Enroll not implemented")
}
func (UnimplementedLoyaltyServiceServer) GetAccount(context.Context, *GetAccountRequest) (*AccountResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetAccount not implemented")
}
func (UnimplementedLoyaltyServiceServer) Accrue(context.Context, *AccrueRequest) (*AccrueResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Accrue not implemented")
}
func (UnimplementedLoyaltyServiceServer) Redeem(context.Context, *RedeemRequest) (*MutationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Redeem not implemented")
}
func (UnimplementedLoyaltyServiceServer) Adjust(context.Context, *AdjustRequest) (*MutationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Adjust not implemented")
}
func (UnimplementedLoyaltyServiceServer) GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBalance not implemented")
}
func (UnimplementedLoyaltyServiceServer) ListHistory(context.Context, *ListHistoryRequest) (*ListHistoryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListHistory not implemented")
}
func (UnimplementedLoyaltyServiceServer) Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Reconcile not implemented")
}
func (UnimplementedLoyaltyServiceServer) mustEmbedUnimplementedLoyaltyServiceServer() {}

// RegisterLoyaltyServiceServer attaches srv to a gRPC server.
func RegisterLoyaltyServiceServer(registrar grpc.ServiceRegistrar, srv LoyaltyServiceServer) {
	registrar.RegisterService(&LoyaltyService_ServiceDesc, srv)
}

// LoyaltyService_ServiceDesc describes LoyaltyService for grpc.ServiceRegistrar.
var LoyaltyService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LoyaltyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: unaryHandler(FullMethodResolve, LoyaltyServiceServer.Resolve)},
		{MethodName: "Enroll", Handler: unaryHandler(FullMethodEnroll, LoyaltyServiceServer.Enroll)},
		{MethodName: "GetAccount", Handler: unaryHandler(FullMethodGetAccount, LoyaltyServiceServer.GetAccount)},
		{MethodName: "Accrue", Handler: unaryHandler(FullMethodAccrue, LoyaltyServiceServer.Accrue)},
		{MethodName: "Redeem", Handler: unaryHandler(FullMethodRedeem, LoyaltyServiceServer.Redeem)},
		{MethodName: "Adjust", Handler: unaryHandler(FullMethodAdjust, LoyaltyServiceServer.Adjust)},
		{MethodName: "GetBalance", Handler: unaryHandler(FullMethodGetBalance, LoyaltyServiceServer.GetBalance)},
		{MethodName: "ListHistory", Handler: unaryHandler(FullMethodListHistory, LoyaltyServiceServer.ListHistory)},
		{MethodName: "Reconcile", Handler: unaryHandler(FullMethodReconcile, LoyaltyServiceServer.Reconcile)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "loyalty/v1/loyalty.json",
}

func unaryHandler[Request any, Response any](
	fullMethod string,
	call func(LoyaltyServiceServer, context.Context, *Request) (*Response, error),
) func(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LoyaltyServiceServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LoyaltyServiceServer), ctx, req.(*Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}

// LoyaltyServiceClient is the client API for LoyaltyService.
type LoyaltyServiceClient interface {
	Resolve(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*AccountResponse, error)
	Enroll(ctx context.Context, in *EnrollRequest, opts ...grpc.CallOption) (*AccountResponse, error)
	GetAccount(ctx context.Context, in *GetAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error)
	Accrue(ctx context.Context, in *AccrueRequest, opts ...grpc.CallOption) (*AccrueResponse, error)
	Redeem(ctx context.Context, in *RedeemRequest, opts ...grpc.CallOption) (*MutationResponse, error)
	Adjust(ctx context.Context, in *AdjustRequest, opts ...grpc.CallOption) (*MutationResponse, error)
	GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error)
	ListHistory(ctx context.Context, in *ListHistoryRequest, opts ...grpc.CallOption) (*ListHistoryResponse, error)
	Reconcile(ctx context.Context, in *ReconcileRequest, opts ...grpc.CallOption) (*ReconcileResponse, error)
}

type loyaltyServiceClient struct {
	conn grpc.ClientConnInterface
}

// NewLoyaltyServiceClient wraps a client connection.
func NewLoyaltyServiceClient(conn grpc.ClientConnInterface) LoyaltyServiceClient {
	return &loyaltyServiceClient{conn: conn}
}

func (client *loyaltyServiceClient) Resolve(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, client.conn, FullMethodResolve, in, opts)
}

func (client *loyaltyServiceClient) Enroll(ctx context.Context, in *EnrollRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, client.conn, FullMethodEnroll, in, opts)
}

func (client *loyaltyServiceClient) GetAccount(ctx context.Context, in *GetAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, client.conn, FullMethodGetAccount, in, opts)
}

func (client *loyaltyServiceClient) Accrue(ctx context.Context, in *AccrueRequest, opts ...grpc.CallOption) (*AccrueResponse, error) {
	return invoke[AccrueResponse](ctx, client.conn, FullMethodAccrue, in, opts)
}

func (client *loyaltyServiceClient) Redeem(ctx context.Context, in *RedeemRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[MutationResponse](ctx, client.conn, FullMethodRedeem, in, opts)
}

func (client *loyaltyServiceClient) Adjust(ctx context.Context, in *AdjustRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[MutationResponse](ctx, client.conn, FullMethodAdjust, in, opts)
}

func (client *loyaltyServiceClient) GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	return invoke[BalanceResponse](ctx, client.conn, FullMethodGetBalance, in, opts)
}

func (client *loyaltyServiceClient) ListHistory(ctx context.Context, in *ListHistoryRequest, opts ...grpc.CallOption) (*ListHistoryResponse, error) {
	return invoke[ListHistoryResponse](ctx, client.conn, FullMethodListHistory, in, opts)
}

func (client *loyaltyServiceClient) Reconcile(ctx context.Context, in *ReconcileRequest, opts ...grpc.CallOption) (*ReconcileResponse, error) {
	return invoke[ReconcileResponse](ctx, client.conn, FullMethodReconcile, in, opts)
}

func invoke[Response any](ctx context.Context, conn grpc.ClientConnInterface, fullMethod string, in any, opts []grpc.CallOption) (*Response, error) {
	out := new(Response)
	callOptions := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := conn.Invoke(ctx, fullMethod, in, out, callOptions...); err != nil {
		return nil, err
	}
	return out, nil
}
