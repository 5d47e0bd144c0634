package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/phambaophuc/image-relay/internal/models"
)

// RequireContentType rejects requests with a body whose Content-Type does
// not start with one of the allowed media types.
func RequireContentType(allowed ...string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.ContentLength == 0 {
			ctx.Next()
			return
		}

		contentType := strings.ToLower(ctx.GetHeader("Content-Type"))
		for _, a := range allowed {
			if strings.HasPrefix(contentType, a) {
				ctx.Next()
				return
			}
		}

		ctx.AbortWithStatusJSON(http.StatusUnsupportedMediaType, models.APIResponse{
			Success: false,
			Error:   "unsupported content type " + contentType,
		})
	}
}
