package grpc

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/model"
)

const studentStandingMethod = "/" + ServiceName + "/StudentStanding"

// StandingReader is the slice of the ledger the internal query service needs.
type StandingReader interface {
	StudentStanding(ctx context.Context, user guard.AuthenticatedUser, tenant *uuid.UUID, studentID uuid.UUID) (model.StudentBalance, error)
}

// LedgerQueryServer answers internal callers that already passed the service
// token. They read across tenants, so requests name the tenant explicitly.
type LedgerQueryServer interface {
	StudentStanding(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type LedgerServer struct {
	ledger StandingReader
	log    *zap.Logger
}

func NewLedgerServer(ledger StandingReader, log *zap.Logger) *LedgerServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerServer{ledger: ledger, log: log}
}

// serviceCaller is the principal internal requests run as.
var serviceCaller = guard.AuthenticatedUser{Role: model.RolePlatformSuper, Email: "service"}

func (s *LedgerServer) StudentStanding(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := parseUUID(req, "tenant_id")
	if err != nil {
		return nil, err
	}
	studentID, err := parseUUID(req, "student_id")
	if err != nil {
		return nil, err
	}

	standing, err := s.ledger.StudentStanding(ctx, serviceCaller, &tenantID, studentID)
	if err != nil {
		return nil, s.statusError(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"tenant_id":        tenantID.String(),
		"student_id":       standing.StudentID.String(),
		"billed":           standing.Billed.StringFixed(2),
		"paid":             standing.Paid.StringFixed(2),
		"outstanding":      standing.Outstanding.StringFixed(2),
		"obligations":      standing.Obligations,
		"overdue":          standing.Overdue,
		"in_good_standing": standing.Overdue == 0,
	})
}

// Register exposes the ledger query service on server.
func (s *LedgerServer) Register(server *grpc.Server) {
	server.RegisterService(&ledgerServiceDesc, s)
}

func (s *LedgerServer) statusError(err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case apperr.KindNotFound:
		return status.Error(codes.NotFound, "not found")
	case apperr.KindAuthorization:
		return status.Error(codes.PermissionDenied, "access denied")
	case apperr.KindTransientStore:
		return status.Error(codes.Unavailable, "store unavailable")
	default:
		s.log.Error("grpc ledger query failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

func parseUUID(req *structpb.Struct, field string) (uuid.UUID, error) {
	raw := req.GetFields()[field].GetStringValue()
	if raw == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, field+" required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, "invalid "+field)
	}
	return id, nil
}

func studentStandingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerQueryServer).StudentStanding(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: studentStandingMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerQueryServer).StudentStanding(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StudentStanding", Handler: studentStandingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bursar/ledger",
}

// StudentStanding calls the ledger query service over conn.
func StudentStanding(ctx context.Context, conn grpc.ClientConnInterface, tenantID, studentID uuid.UUID, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"tenant_id":  tenantID.String(),
		"student_id": studentID.String(),
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, studentStandingMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
