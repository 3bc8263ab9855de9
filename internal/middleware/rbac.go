package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
)

// RequireStudent admits only student tokens.
func RequireStudent() gin.HandlerFunc {
	return requireRole(response.ErrStudentAccessOnly, model.RoleStudent)
}

// RequireStaff admits teacher and admin tokens. Ownership of the exam is
// checked by the service.
func RequireStaff() gin.HandlerFunc {
	return requireRole(response.ErrStaffAccessOnly, model.RoleTeacher, model.RoleAdmin)
}

func requireRole(denied response.ErrCode, roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !slices.Contains(roles, claims.Role) {
			response.AbortFail(c, http.StatusForbidden, denied)
			return
		}
		c.Next()
	}
}
