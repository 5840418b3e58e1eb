package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/tidegate/tidegate/internal/bus"
	"github.com/tidegate/tidegate/internal/router"
	"github.com/tidegate/tidegate/internal/timeline"
)

type fakeBusSink struct{}

func (fakeBusSink) Send(op bus.Op, channel string) error   { return nil }
func (fakeBusSink) ReadAvailable(buf *[]byte) (int, error) { return 0, nil }

func TestStatsHandlerReportsRouterSnapshot(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	r, err := router.New(router.Config{PollInterval: 0, CacheSize: 10}, fakeBusSink{}, logger)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}

	tl := timeline.ID{Stream: timeline.StreamPublic, Reach: timeline.ReachFederated, Content: timeline.ContentAll}
	if err := r.Register(uuid.New(), tl, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s := NewServer(r, nil, logger, 0)

	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	s.StatsHandler(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var stats router.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if stats.ActiveQueues != 1 {
		t.Fatalf("ActiveQueues = %d, want 1", stats.ActiveQueues)
	}
	if got := stats.TimelineRefcounts["timeline:public"]; got != 1 {
		t.Fatalf("TimelineRefcounts[timeline:public] = %d, want 1", got)
	}
}
