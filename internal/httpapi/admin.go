package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/scriptorium-ai/creditd/pkg/credits"
)

const adminRole = "admin"

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// adminAuthMiddleware validates an HS256 bearer token carrying role=admin.
func adminAuthMiddleware(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "bearer token required"))
			return
		}
		claims := &adminClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !parsed.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		if claims.Role != adminRole {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
			return
		}
		ctx.Next()
	}
}

func (handler *httpHandler) handleAdminApprove(ctx *gin.Context) {
	orderID := ctx.Param("orderID")
	if err := handler.processor.Settle(ctx.Request.Context(), orderID); err != nil {
		handler.respondSettlementError(ctx, err)
		return
	}
	record, err := handler.store.GetPaymentByOrderID(ctx.Request.Context(), orderID)
	if err != nil {
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_order", "no such order"))
		return
	}
	ctx.JSON(http.StatusOK, paymentPayload(record))
}

type adminGrantRequest struct {
	UserID         string `json:"user_id"`
	Category       string `json:"category"`
	Amount         int64  `json:"amount"`
	Source         string `json:"source"`
	ExpiresUnixUTC int64  `json:"expires_unix_utc"`
	Description    string `json:"description"`
	Metadata       string `json:"metadata"`
}

// handleAdminGrant credits a user outside the payment pipeline. Admin grants
// land in the admin bucket; trial grants carry an expiry.
func (handler *httpHandler) handleAdminGrant(ctx *gin.Context) {
	var request adminGrantRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := credits.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user", "user_id is required"))
		return
	}
	category, err := credits.ParseCategory(request.Category)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_category", "category must be words, books, or offers"))
		return
	}
	amount, err := credits.NewAmount(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be positive"))
		return
	}
	metadata, err := credits.NewMetadataJSON(request.Metadata)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "metadata must be valid json"))
		return
	}

	requestCtx := ctx.Request.Context()
	switch credits.BucketSource(request.Source) {
	case credits.SourceTrial:
		err = handler.ledger.GrantTrial(requestCtx, userID, category, amount, request.ExpiresUnixUTC, metadata)
	case credits.SourceAdmin, "":
		_, err = handler.ledger.Credit(requestCtx, userID, category, amount, credits.SourceAdmin, credits.TxnAdminAllocation, request.Description, metadata)
	default:
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_source", "source must be admin or trial"))
		return
	}
	if err != nil {
		handler.logger.Error("admin grant failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "grant failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "granted"})
}
