package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
)

type RouterConfig struct {
	CORSOrigin string
	Gatherer   prometheus.Gatherer
}

func SetupRoutes(crudHandler *CRUDHandler, db *bun.DB, cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	r.Use(WideEventMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(CORSMiddleware(cfg.CORSOrigin))

	r.HandleFunc("/api/v1/{entity}/{action:read|create|update|delete}", crudHandler.Execute).
		Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/healthz", Health(db)).Methods(http.MethodGet)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}
