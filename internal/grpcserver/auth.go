package grpcserver

import (
	"context"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationMetadataKey = "authorization"
	errorUnauthenticated     = "unauthenticated"
)

// SessionAuthenticator turns an authorization header into a verified session.
type SessionAuthenticator interface {
	SessionFromAuthorization(header string) (loyalty.Session, error)
}

type sessionContextKey struct{}

// UnaryAuthInterceptor rejects calls without a valid terminal token and
// attaches the verified session to the handler context.
func UnaryAuthInterceptor(authenticator SessionAuthenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		incoming, _ := metadata.FromIncomingContext(ctx)
		values := incoming.Get(authorizationMetadataKey)
		if len(values) != 1 {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		session, err := authenticator.SessionFromAuthorization(values[0])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		return handler(context.WithValue(ctx, sessionContextKey{}, session), request)
	}
}

func sessionFromContext(ctx context.Context) (loyalty.Session, error) {
	session, ok := ctx.Value(sessionContextKey{}).(loyalty.Session)
	if !ok {
		return loyalty.Session{}, status.Error(codes.Unauthenticated, errorUnauthenticated)
	}
	return session, nil
}
