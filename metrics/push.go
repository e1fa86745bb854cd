package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// StartPushingMetrics begins pushing metrics to url with the given period.
// Node and network identity are attached as grouping labels.
func StartPushingMetrics(
	logger *zap.Logger,
	url, username, password string,
	headers map[string]string,
	period time.Duration,
	nodeID, networkID string,
) {
	header := http.Header{}
	for k, v := range headers {
		header.Add(k, v)
	}
	pusher := push.New(url, Namespace).
		Grouping("node", nodeID).
		Grouping("network", networkID).
		Header(header)
	if username != "" && password != "" {
		pusher = pusher.BasicAuth(username, password)
	}
	go func() {
		ticker := time.NewTicker(period)
		for range ticker.C {
			if err := pusher.Push(); err != nil {
				logger.Warn("failed to push metrics", zap.Error(err))
			}
		}
	}()
}
