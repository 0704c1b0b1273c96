package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xeonx/timeago"
)

// handleStatus reports operational state for a human operator: directory
// freshness and which accounts hold credentials.
func (s *Server) handleStatus(c *gin.Context) {
	now := s.now()
	payload := gin.H{"time": now}

	if s.directory != nil {
		payload["directory"] = gin.H{
			"aliases":  s.directory.Len(),
			"loaded":   timeago.English.Format(now.Add(-s.directory.Age())),
			"age_secs": int64(s.directory.Age().Seconds()),
		}
	}

	accounts := []gin.H{}
	ids, err := s.store.List()
	if err == nil {
		for _, id := range ids {
			bundle, err := s.store.Get(id)
			if err != nil {
				continue
			}
			entry := gin.H{
				"account": id,
				"usable":  bundle.Usable(now),
			}
			if !bundle.ExpiresAt.IsZero() {
				entry["expires"] = timeago.English.Format(bundle.ExpiresAt)
			}
			accounts = append(accounts, entry)
		}
	}
	payload["credentials"] = accounts

	c.JSON(http.StatusOK, payload)
}
