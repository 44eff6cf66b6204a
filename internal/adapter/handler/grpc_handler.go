package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-reconciler/internal/core/apperr"
	"github.com/rl1809/order-reconciler/internal/core/domain"
)

const (
	PaymentServiceName  = "payments.PaymentService"
	VerifyPaymentMethod = "/payments.PaymentService/VerifyPayment"

	// CodecName is the content-subtype clients must send
	// (application/grpc+json).
	CodecName = "json"
)

// jsonCodec carries the same JSON bodies as the HTTP API over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type PaymentServiceServer interface {
	VerifyPayment(ctx context.Context, req *domain.ConfirmationRequest) (*VerifyPaymentResponse, error)
}

var PaymentServiceDesc = grpc.ServiceDesc{
	ServiceName: PaymentServiceName,
	HandlerType: (*PaymentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "VerifyPayment",
			Handler:    verifyPaymentHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payments.proto",
}

func RegisterPaymentServiceServer(s grpc.ServiceRegistrar, srv PaymentServiceServer) {
	s.RegisterService(&PaymentServiceDesc, srv)
}

func verifyPaymentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(domain.ConfirmationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).VerifyPayment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: VerifyPaymentMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PaymentServiceServer).VerifyPayment(ctx, req.(*domain.ConfirmationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// PaymentServiceClient calls VerifyPayment with the JSON codec.
type PaymentServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPaymentServiceClient(cc grpc.ClientConnInterface) *PaymentServiceClient {
	return &PaymentServiceClient{cc: cc}
}

func (c *PaymentServiceClient) VerifyPayment(ctx context.Context, in *domain.ConfirmationRequest, opts ...grpc.CallOption) (*VerifyPaymentResponse, error) {
	out := new(VerifyPaymentResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, VerifyPaymentMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	payments PaymentConfirmer
	logger   *zap.Logger
}

func NewGRPCHandler(payments PaymentConfirmer, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{payments: payments, logger: logger}
}

func (h *GRPCHandler) VerifyPayment(ctx context.Context, req *domain.ConfirmationRequest) (*VerifyPaymentResponse, error) {
	result, err := h.payments.ConfirmPayment(ctx, *req)
	if err != nil {
		st := toStatus(err)
		if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
			h.logger.Error("grpc verify payment failed", zap.Error(err))
		}
		return nil, st.Err()
	}

	resp := newVerifyPaymentResponse(result)
	return &resp, nil
}

func toStatus(err error) *status.Status {
	ae := apperr.Wrap(err)

	var code codes.Code
	switch ae.Kind {
	case apperr.Validation:
		code = codes.InvalidArgument
	case apperr.Signature:
		code = codes.Unauthenticated
	case apperr.Configuration:
		code = codes.FailedPrecondition
	case apperr.Upstream:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}

	st := status.New(code, ae.Msg)
	if len(ae.Fields) == 0 {
		return st
	}

	br := &errdetails.BadRequest{}
	for _, f := range ae.Fields {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       f,
			Description: ae.Msg,
		})
	}
	if withDetails, err := st.WithDetails(br); err == nil {
		return withDetails
	}
	return st
}
