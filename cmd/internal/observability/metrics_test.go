package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRefresh_Increments(t *testing.T) {
	before := testutil.ToFloat64(refreshCalls.WithLabelValues("ok"))
	RecordRefresh("ok")
	RecordRefresh("ok")
	got := testutil.ToFloat64(refreshCalls.WithLabelValues("ok"))
	if got-before != 2 {
		t.Fatalf("refresh_total{ok} delta=%v want=2", got-before)
	}
}

func TestSetChannelState_OneHot(t *testing.T) {
	all := []string{"disconnected", "connecting", "connected", "reconnecting"}
	SetChannelState("metrics-test", "connected", all)

	for _, s := range all {
		want := 0.0
		if s == "connected" {
			want = 1
		}
		if got := testutil.ToFloat64(channelState.WithLabelValues("metrics-test", s)); got != want {
			t.Fatalf("state{%s}=%v want=%v", s, got, want)
		}
	}
}

func TestHandler_ExposesNamespace(t *testing.T) {
	RecordDroppedFrame("metrics-test")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "arclink_channel_dropped_frames_total") {
		t.Fatalf("metrics output missing arclink_channel_dropped_frames_total")
	}
}
