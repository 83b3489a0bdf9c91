package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evcsms/internal/config"
)

// Listen serves the Prometheus scrape endpoint on its own address.
func Listen(conf *config.Config) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf("%s:%s", conf.Metrics.BindIP, conf.Metrics.Port)
	return http.ListenAndServe(addr, mux)
}
