// Package posapi is the HTTP API used by point-of-sale terminals. It forwards
// the terminal's bearer token to the loyalty gRPC service, which verifies it.
package posapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	loyaltyv1 "github.com/MarkoPoloResearchLab/loyalty/api/loyalty/v1"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	headerAuthorization   = "Authorization"
	headerIdempotencyKey  = "Idempotency-Key"
	contextKeyBearer      = "terminal_authorization"
	metadataAuthorization = "authorization"
	shutdownTimeout       = 5 * time.Second
)

// Run boots the HTTP API and blocks until ctx is cancelled or the server fails.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	dialOptions := []grpc.DialOption{}
	if cfg.LoyaltyInsecure {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	conn, err := grpc.NewClient(cfg.LoyaltyAddress, dialOptions...)
	if err != nil {
		return fmt.Errorf("connect loyalty: %w", err)
	}
	conn.Connect()
	if err := waitForClientReady(ctx, conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("connect loyalty: %w", err)
	}
	defer conn.Close()

	handler := &httpHandler{
		logger: logger,
		client: loyaltyv1.NewLoyaltyServiceClient(conn),
		cfg:    cfg,
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           setupRouter(cfg, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("posapi listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	})
	return group.Wait()
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", headerAuthorization, headerIdempotencyKey},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(requireBearer)

	api.POST("/accounts/resolve", handler.handleResolve)
	api.POST("/accounts", handler.handleEnroll)
	api.GET("/accounts/:id", handler.handleGetAccount)
	api.GET("/accounts/:id/balance", handler.handleBalance)
	api.GET("/accounts/:id/history", handler.handleHistory)
	api.POST("/accounts/:id/accruals", handler.handleAccrue)
	api.POST("/accounts/:id/redemptions", handler.handleRedeem)
	api.POST("/accounts/:id/adjustments", handler.handleAdjust)

	return router
}

type httpHandler struct {
	logger *zap.Logger
	client loyaltyv1.LoyaltyServiceClient
	cfg    Config
}

func requireBearer(ctx *gin.Context) {
	header := strings.TrimSpace(ctx.GetHeader(headerAuthorization))
	if header == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing terminal token"))
		return
	}
	ctx.Set(contextKeyBearer, header)
	ctx.Next()
}

func (handler *httpHandler) handleResolve(ctx *gin.Context) {
	var request resolveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.loyaltyContext(ctx)
	defer cancel()
	response, err := handler.client.Resolve(requestCtx, &loyaltyv1.ResolveRequest{Identifier: request.Identifier})
	if err != nil {
		if statusInfo, ok := status.FromError(err); ok && statusInfo.Code() == codes.NotFound {
			body := errorResponse(statusInfo.Message(), "no account matches the identifier")
			body["enrollment_available"] = true
			ctx.JSON(http.StatusNotFound, body)
			return
		}
		handler.respondError(ctx, "resolve", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": response.GetAccount()})
}

func (handler *httpHandler) handleEnroll(ctx *gin.Context) {
	var request enrollRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.loyaltyContext(ctx)
	defer cancel()
	response, err := handler.client.Enroll(requestCtx, &loyaltyv1.EnrollRequest{DisplayName: request.DisplayName, Identifier: request.Identifier})
	if err != nil {
		handler.respondError(ctx, "enroll", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"account": response.GetAccount()})
}

func (handler *httpHandler) handleGetAccount(ctx *gin.Context) {
	requestCtx, cancel := handler.loyaltyContext(ctx)
	defer cancel()
	response, err := handler.client.GetAccount(requestCtx, &loyaltyv1.GetAccountRequest{AccountId: ctx.Param("id")})
	if err != nil {
		handler.respondError(ctx, "get account", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": response.GetAccount()})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	requestCtx, cancel := handler.loyaltyContext(ctx)
	defer cancel()
	response, err := handler.client.GetBalance(requestCtx, &loyaltyv1.BalanceRequest{AccountId: ctx.Param("id")})
	if err != nil {
		handler.respondError(ctx, "balance", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance_points": response.BalancePoints})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	limit := handler.cfg.HistoryLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_history_limit", "limit must be an integer"))
			return
		}
		limit = int32(parsed)
	}
	requestCtx, cancel := handler.loyaltyContext(ctx)
	defer cancel()
	response, err := handler.client.ListHistory(requestCtx, &loyaltyv1.ListHistoryRequest{
		AccountId:     ctx.Param("id"),
		Limit:         limit,
		BeforeEntryId: ctx.Query("before"),
	})
	if err != nil {
		handler.respondError(ctx, "history", err)
		return
	}
	entries := make([]entryPayload, 0, len(response.Entries))
	for _, entry := range response.Entries {
		entries = append(entries, toEntryPayload(entry))
	}
	ctx.JSON(http.StatusOK, historyResponse{Entries: entries, Next: response.NextEntryId})
}

func (handler *httpHandler) handleAccrue(ctx *gin.Context) {
	idempotencyKey, ok := requireIdempotencyKey(ctx)
	if !ok {
		return
	}
	var request accrueRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.loyaltyContext(ctx)
	defer cancel()
	response, err := handler.client.Accrue(requestCtx, &loyaltyv1.AccrueRequest{
		AccountId:      ctx.Param("id"),
		SpendAmount:    request.SpendAmount,
		Rate:           request.Rate,
		IdempotencyKey: idempotencyKey,
		Description:    request.Description,
	})
	if err != nil {
		handler.respondError(ctx, "accrue", err)
		return
	}
	ctx.JSON(http.StatusOK, accrualResponse{
		Entry:            toEntryPayload(response.Entry),
		PointsAwarded:    response.PointsAwarded,
		NewBalance:       response.NewBalance,
		NewLifetimeSpend: response.NewLifetimeSpend,
		NewTier:          response.NewTier,
		PreviousTier:     response.PreviousTier,
		TierChanged:      response.TierChanged,
		Replayed:         response.Replayed,
	})
}

func (handler *httpHandler) handleRedeem(ctx *gin.Context) {
	idempotencyKey, ok := requireIdempotencyKey(ctx)
	if !ok {
		return
	}
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.loyaltyContext(ctx)
	defer cancel()
	response, err := handler.client.Redeem(requestCtx, &loyaltyv1.RedeemRequest{
		AccountId:      ctx.Param("id"),
		Points:         request.Points,
		IdempotencyKey: idempotencyKey,
		Description:    request.Description,
	})
	if err != nil {
		handler.respondError(ctx, "redeem", err)
		return
	}
	ctx.JSON(http.StatusOK, toMutationPayload(response))
}

func (handler *httpHandler) handleAdjust(ctx *gin.Context) {
	idempotencyKey, ok := requireIdempotencyKey(ctx)
	if !ok {
		return
	}
	var request adjustRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.loyaltyContext(ctx)
	defer cancel()
	response, err := handler.client.Adjust(requestCtx, &loyaltyv1.AdjustRequest{
		AccountId:      ctx.Param("id"),
		PointDelta:     request.PointDelta,
		IdempotencyKey: idempotencyKey,
		Reason:         request.Reason,
	})
	if err != nil {
		handler.respondError(ctx, "adjust", err)
		return
	}
	ctx.JSON(http.StatusOK, toMutationPayload(response))
}

// loyaltyContext bounds the RPC and forwards the terminal token as gRPC metadata.
func (handler *httpHandler) loyaltyContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LoyaltyTimeout)
	return metadata.AppendToOutgoingContext(requestCtx, metadataAuthorization, ctx.GetString(contextKeyBearer)), cancel
}

func (handler *httpHandler) respondError(ctx *gin.Context, action string, err error) {
	statusInfo, ok := status.FromError(err)
	if !ok {
		handler.logger.Error(action+" failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("loyalty_error", action+" failed"))
		return
	}
	switch statusInfo.Code() {
	case codes.Unauthenticated:
		ctx.JSON(http.StatusUnauthorized, errorResponse(statusInfo.Message(), "terminal token rejected"))
	case codes.InvalidArgument:
		ctx.JSON(http.StatusBadRequest, errorResponse(statusInfo.Message(), action+" rejected"))
	case codes.NotFound:
		ctx.JSON(http.StatusNotFound, errorResponse(statusInfo.Message(), "account not found"))
	case codes.AlreadyExists:
		ctx.JSON(http.StatusConflict, errorResponse(statusInfo.Message(), action+" conflicts with an earlier request"))
	case codes.FailedPrecondition:
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse(statusInfo.Message(), action+" cannot be applied"))
	case codes.Unavailable:
		if statusInfo.Message() == "code_unavailable" {
			ctx.JSON(http.StatusServiceUnavailable, errorResponse(statusInfo.Message(), action+" can be retried"))
			return
		}
		handler.logger.Error(action+" failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("loyalty_error", action+" failed"))
	default:
		handler.logger.Error(action+" failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("loyalty_error", action+" failed"))
	}
}

func requireIdempotencyKey(ctx *gin.Context) (string, bool) {
	key := strings.TrimSpace(ctx.GetHeader(headerIdempotencyKey))
	if key == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_idempotency_key", "Idempotency-Key header is required"))
		return "", false
	}
	return key, true
}

func toEntryPayload(entry *loyaltyv1.Entry) entryPayload {
	if entry == nil {
		return entryPayload{Metadata: json.RawMessage("{}")}
	}
	metadataJSON := entry.MetadataJson
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	return entryPayload{
		EntryID:        entry.EntryId,
		Kind:           entry.Kind,
		PointDelta:     entry.PointDelta,
		SpendAmount:    entry.SpendAmount,
		IdempotencyKey: entry.IdempotencyKey,
		RecordedBy:     entry.RecordedBy,
		Description:    entry.Description,
		Metadata:       json.RawMessage(metadataJSON),
		CreatedUnixUTC: entry.CreatedUnixUtc,
	}
}

func toMutationPayload(response *loyaltyv1.MutationResponse) mutationResponse {
	return mutationResponse{
		Entry:      toEntryPayload(response.Entry),
		NewBalance: response.NewBalance,
		Replayed:   response.Replayed,
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}

type resolveRequest struct {
	Identifier string `json:"identifier"`
}

type enrollRequest struct {
	DisplayName string `json:"display_name"`
	Identifier  string `json:"identifier"`
}

type accrueRequest struct {
	SpendAmount string `json:"spend_amount"`
	Rate        string `json:"rate"`
	Description string `json:"description"`
}

type redeemRequest struct {
	Points      int64  `json:"points"`
	Description string `json:"description"`
}

type adjustRequest struct {
	PointDelta int64  `json:"point_delta"`
	Reason     string `json:"reason"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Kind           string          `json:"kind"`
	PointDelta     int64           `json:"point_delta"`
	SpendAmount    string          `json:"spend_amount"`
	IdempotencyKey string          `json:"idempotency_key"`
	RecordedBy     string          `json:"recorded_by"`
	Description    string          `json:"description,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type historyResponse struct {
	Entries []entryPayload `json:"entries"`
	Next    string         `json:"next,omitempty"`
}

type accrualResponse struct {
	Entry            entryPayload `json:"entry"`
	PointsAwarded    int64        `json:"points_awarded"`
	NewBalance       int64        `json:"new_balance"`
	NewLifetimeSpend string       `json:"new_lifetime_spend"`
	NewTier          string       `json:"new_tier"`
	PreviousTier     string       `json:"previous_tier"`
	TierChanged      bool         `json:"tier_changed"`
	Replayed         bool         `json:"replayed"`
}

type mutationResponse struct {
	Entry      entryPayload `json:"entry"`
	NewBalance int64        `json:"new_balance"`
	Replayed   bool         `json:"replayed"`
}
