package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"rentmarket/api/internal/api/middleware"
	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/utils"
)

var validate = validator.New()

// writeError maps err to its kind's status. Unclassified errors are logged.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		_ = c.Error(err)
		log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"error": apperr.Message(err), "kind": kind})
}

// bindJSON decodes the body into dst and validates it. It writes the error
// response and returns false on failure.
func bindJSON(c *gin.Context, log *zap.Logger, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, log, apperr.InvalidInput("Invalid request body: %v", err))
		return false
	}
	return validateStruct(c, log, dst)
}

func validateStruct(c *gin.Context, log *zap.Logger, dst interface{}) bool {
	if err := validate.Struct(dst); err != nil {
		writeError(c, log, apperr.InvalidInput("%s", validationMessage(err)))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, field+" must be one of: "+fe.Param())
		case "min", "gte":
			parts = append(parts, field+" must be at least "+fe.Param())
		case "max", "lte":
			parts = append(parts, field+" must be at most "+fe.Param())
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

// pathID parses the :name path parameter as a SixID.
func pathID(c *gin.Context, log *zap.Logger, name string) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param(name))
	if err != nil {
		writeError(c, log, apperr.InvalidInput("Invalid %s format", name))
		return utils.SixID{}, false
	}
	return id, true
}

func principal(c *gin.Context, log *zap.Logger) (middleware.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		writeError(c, log, &apperr.Error{Kind: apperr.KindUnauthorized, Message: "Authentication required"})
	}
	return p, ok
}

func queryInt64(c *gin.Context, key string, def int64) int64 {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}
