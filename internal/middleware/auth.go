package middleware

import (
	"net/http"
	"strings"

	"unideploy/internal/clients"
	"unideploy/internal/db"
	"unideploy/internal/logging"
	"unideploy/pkg/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm/clause"
)

const userContextKey = "current_user"

// Authenticate validates the bearer token through the injected verifier
// and upserts the User row keyed by the verifier's external id.
func Authenticate(database *db.Database, verifier clients.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		ident, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "invalid token"})
			return
		}

		user := models.User{
			ExternalID: ident.ExternalID,
			Email:      ident.Email,
			Username:   ident.Name,
		}
		err = database.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "username"}),
		}).Create(&user).Error
		if err != nil {
			logging.S().Errorw("user upsert failed", "external_id", ident.ExternalID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "internal server error"})
			return
		}
		// OnConflict updates leave ID unset on some drivers.
		if user.ID == 0 {
			database.DB.Where("external_id = ?", ident.ExternalID).First(&user)
		}

		c.Set(userContextKey, &user)
		c.Next()
	}
}

// CurrentUser returns the authenticated user for the request.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}
