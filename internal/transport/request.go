package transport

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tidegate/tidegate/internal/subscription"
)

// accessToken resolves the bearer token from, in order, the Authorization
// header, the Sec-WebSocket-Protocol header (the only place a browser
// WebSocket client can carry a credential), and the access_token query
// parameter.
func accessToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimPrefix(auth, prefix)
		}
	}
	if proto := c.GetHeader("Sec-WebSocket-Protocol"); proto != "" {
		return strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return c.Query("access_token")
}

// wsRequest builds a subscription.Request from a single-stream WebSocket
// handshake: GET /api/v1/streaming?stream=<name>[&tag=][&list=][&access_token=].
func wsRequest(c *gin.Context) subscription.Request {
	req := subscription.Request{
		StreamName:  c.Query("stream"),
		Hashtag:     c.Query("tag"),
		AccessToken: accessToken(c),
		MediaFlag:   c.Query("only_media") == "true",
	}
	if listID := c.Query("list"); listID != "" {
		if id, err := strconv.ParseInt(listID, 10, 64); err == nil {
			req.ListID = id
			req.HasListID = true
		}
	}
	return req
}

// sseRequest builds a subscription.Request for a path-routed SSE endpoint;
// streamName is the tag bound to the matched subscription.Route.
func sseRequest(c *gin.Context, streamName string) subscription.Request {
	req := subscription.Request{
		StreamName:  streamName,
		Hashtag:     c.Query("tag"),
		AccessToken: accessToken(c),
		MediaFlag:   c.Query("only_media") == "true",
	}
	if listID := c.Query("list"); listID != "" {
		if id, err := strconv.ParseInt(listID, 10, 64); err == nil {
			req.ListID = id
			req.HasListID = true
		}
	}
	return req
}
