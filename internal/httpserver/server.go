package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/campuscoin/ledger/internal/catalog"
	"github.com/campuscoin/ledger/pkg/coin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the REST facade over the coin and catalog services.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	coins   *coin.Service
	catalog *catalog.Service
	metrics *metrics
}

// New wires a Server. The configuration must already be validated.
func New(cfg Config, logger *zap.Logger, coins *coin.Service, catalogService *catalog.Service) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		coins:   coins,
		catalog: catalogService,
		metrics: newMetrics(),
	}
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http server listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

var ginModeOnce sync.Once

// Router assembles the gin engine; exposed for tests.
func (server *Server) Router() *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(server.metrics.middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", server.metrics.handler())

	api := router.Group("/api")
	api.Use(authMiddleware([]byte(server.cfg.TokenSigningKey), server.cfg.TokenIssuer))

	api.POST("/accounts", server.handleOpenAccount)
	api.GET("/accounts/:id", server.handleGetAccount)
	api.POST("/transfers", server.handleTransfer)
	api.POST("/credits", server.handleCredit)
	api.POST("/redemptions", server.handleRedeem)
	api.GET("/transactions", server.handleListTransactions)
	api.POST("/coupons/:code/use", server.handleUseCoupon)
	api.GET("/advantages", server.handleListAdvantages)
	api.GET("/advantages/:id", server.handleGetAdvantage)
	api.POST("/companies/:companyID/advantages", server.handleCreateAdvantage)
	api.GET("/companies/:companyID/advantages", server.handleListCompanyAdvantages)
	api.PUT("/companies/:companyID/advantages/:id", server.handleUpdateAdvantage)
	api.DELETE("/companies/:companyID/advantages/:id", server.handleDeleteAdvantage)

	return router
}

func (server *Server) handleOpenAccount(ctx *gin.Context) {
	var request openAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	kind, err := coin.ParseOwnerKind(request.OwnerKind)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	account, err := server.coins.OpenAccount(ctx.Request.Context(), kind, request.DisplayName)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, mapAccountPayload(account))
}

func (server *Server) handleGetAccount(ctx *gin.Context) {
	accountID, err := coin.NewAccountID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	account, err := server.coins.GetAccount(ctx.Request.Context(), accountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, mapAccountPayload(account))
}

func (server *Server) handleTransfer(ctx *gin.Context) {
	var request transferRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	sourceID, err := coin.NewAccountID(request.SourceID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	destinationID, err := coin.NewAccountID(request.DestinationID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	amount, err := parseCoinAmount(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	reason, err := coin.NewReason(request.Reason)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	metadata, err := coin.NewMetadataJSON(metadataString(request.Metadata))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	transactionID, err := server.coins.Transfer(ctx.Request.Context(), sourceID, destinationID, amount, reason, metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"transaction_id": transactionID,
		"source_id":      sourceID.String(),
		"destination_id": destinationID.String(),
		"kind":           coin.KindTransfer.String(),
		"amount":         formatCoinAmount(amount.Int64()),
		"reason":         reason.String(),
	})
}

func (server *Server) handleCredit(ctx *gin.Context) {
	var request creditRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	accountID, err := coin.NewAccountID(request.AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	amount, err := parseCoinAmount(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	reason, err := coin.NewReason(request.Reason)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	metadata, err := coin.NewMetadataJSON(metadataString(request.Metadata))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	transactionID, err := server.coins.Credit(ctx.Request.Context(), accountID, amount, reason, metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"transaction_id": transactionID,
		"source_id":      accountID.String(),
		"kind":           coin.KindCredit.String(),
		"amount":         formatCoinAmount(amount.Int64()),
		"reason":         reason.String(),
	})
}

func (server *Server) handleRedeem(ctx *gin.Context) {
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	accountID, err := coin.NewAccountID(request.AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	advantageID, err := coin.NewAdvantageID(request.AdvantageID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	metadata, err := coin.NewMetadataJSON(metadataString(request.Metadata))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	receipt, err := server.coins.Redeem(ctx.Request.Context(), accountID, advantageID, metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, mapReceiptPayload(receipt))
}

func (server *Server) handleListTransactions(ctx *gin.Context) {
	accountValue := ctx.Query("account_id")
	kindValue := ctx.Query("kind")
	if (accountValue == "") == (kindValue == "") {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidQuery, "exactly one of account_id or kind is required"))
		return
	}
	before, limit, err := listWindow(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidQuery, err.Error()))
		return
	}

	var records []coin.TransactionRecord
	if accountValue != "" {
		accountID, err := coin.NewAccountID(accountValue)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		records, err = server.coins.ListTransactions(ctx.Request.Context(), accountID, before, limit)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
	} else {
		kind, err := coin.ParseTransactionKind(kindValue)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		records, err = server.coins.ListTransactionsByKind(ctx.Request.Context(), kind, before, limit)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
	}

	payloads := make([]transactionPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, mapTransactionPayload(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payloads})
}

func (server *Server) handleUseCoupon(ctx *gin.Context) {
	code, err := coin.NewCouponCode(ctx.Param("code"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	consumed, err := server.coins.UseCoupon(ctx.Request.Context(), code)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, consumedCouponPayload{
		Code:        consumed.Code.String(),
		AdvantageID: consumed.AdvantageID.String(),
		UsedUnix:    consumed.UsedAtUnixUTC,
	})
}

func (server *Server) handleListAdvantages(ctx *gin.Context) {
	before, limit, err := listWindow(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidQuery, err.Error()))
		return
	}
	advantages, err := server.catalog.List(ctx.Request.Context(), before, limit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondAdvantageList(ctx, advantages)
}

func (server *Server) handleListCompanyAdvantages(ctx *gin.Context) {
	companyID, err := coin.NewCompanyID(ctx.Param("companyID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	before, limit, err := listWindow(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidQuery, err.Error()))
		return
	}
	advantages, err := server.catalog.ListByCompany(ctx.Request.Context(), companyID, before, limit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondAdvantageList(ctx, advantages)
}

func (server *Server) handleGetAdvantage(ctx *gin.Context) {
	advantageID, err := coin.NewAdvantageID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	advantage, err := server.catalog.Get(ctx.Request.Context(), advantageID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, mapAdvantagePayload(advantage))
}

func (server *Server) handleCreateAdvantage(ctx *gin.Context) {
	companyID, input, err := server.bindAdvantageRequest(ctx)
	if err != nil {
		return
	}
	advantage, err := server.catalog.Create(ctx.Request.Context(), companyID, input)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, mapAdvantagePayload(advantage))
}

func (server *Server) handleUpdateAdvantage(ctx *gin.Context) {
	companyID, input, err := server.bindAdvantageRequest(ctx)
	if err != nil {
		return
	}
	advantageID, err := coin.NewAdvantageID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	advantage, err := server.catalog.Update(ctx.Request.Context(), companyID, advantageID, input)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, mapAdvantagePayload(advantage))
}

func (server *Server) handleDeleteAdvantage(ctx *gin.Context) {
	companyID, err := coin.NewCompanyID(ctx.Param("companyID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	advantageID, err := coin.NewAdvantageID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if err := server.catalog.Delete(ctx.Request.Context(), companyID, advantageID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (server *Server) bindAdvantageRequest(ctx *gin.Context) (coin.CompanyID, catalog.AdvantageInput, error) {
	companyID, err := coin.NewCompanyID(ctx.Param("companyID"))
	if err != nil {
		server.respondError(ctx, err)
		return coin.CompanyID{}, catalog.AdvantageInput{}, err
	}
	var request advantageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return coin.CompanyID{}, catalog.AdvantageInput{}, err
	}
	cost, err := parseCoinAmount(request.Cost)
	if err != nil {
		server.respondError(ctx, err)
		return coin.CompanyID{}, catalog.AdvantageInput{}, err
	}
	return companyID, catalog.AdvantageInput{Description: request.Description, CostCents: cost}, nil
}

func (server *Server) respondAdvantageList(ctx *gin.Context, advantages []coin.Advantage) {
	payloads := make([]advantagePayload, 0, len(advantages))
	for _, advantage := range advantages {
		payloads = append(payloads, mapAdvantagePayload(advantage))
	}
	ctx.JSON(http.StatusOK, gin.H{"advantages": payloads})
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	status, code := httpStatusCode(err)
	if status >= http.StatusInternalServerError {
		server.logger.Error("request failed",
			zap.String("route", ctx.FullPath()),
			zap.String("caller", callerSubject(ctx)),
			zap.Error(err),
		)
		ctx.JSON(status, errorResponse(code, "internal error"))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func listWindow(ctx *gin.Context) (int64, int, error) {
	before := int64(0)
	if raw := ctx.Query("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return 0, 0, errors.New("before must be a unix timestamp")
		}
		before = parsed
	}
	limit := defaultListLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return before, limit, nil
}
