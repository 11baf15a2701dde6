package syncapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vaultmesh/vaultmesh/internal/httputil"
)

// handleErrorGin maps a domain error to a response via httputil.HandleError;
// gin.Context.Writer already satisfies http.ResponseWriter.
func handleErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	httputil.HandleError(c.Writer, err, logger)
}

func writeJSON(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// badRequest writes a 400 for malformed request bodies (unparseable JSON,
// missing required fields), per §6.1's "400 missing fields".
func badRequest(c *gin.Context, message string) {
	writeJSON(c, http.StatusBadRequest, gin.H{"error": "bad_request", "message": message})
}
