// Copyright 2018-2021 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// antboxd is the multi-tenant node management daemon. It wires one
// repository, storage provider, config store and event store per tenant from
// a TOML configuration and serves the WebDAV and CMIS bindings.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kindalus/antbox/internal/http/services/cmis"
	"github.com/kindalus/antbox/internal/http/services/webdav"
	"github.com/kindalus/antbox/pkg/appctx"
	"github.com/kindalus/antbox/pkg/logger"

	// Load the driver registries.
	_ "github.com/kindalus/antbox/pkg/configstore/loader"
	_ "github.com/kindalus/antbox/pkg/eventstore/loader"
	_ "github.com/kindalus/antbox/pkg/repository/loader"
	_ "github.com/kindalus/antbox/pkg/storage/loader"
)

func main() {
	confFile := flag.String("c", "/etc/antbox/antboxd.toml", "configuration file")
	flag.Parse()

	conf, err := readConfig(*confFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "antboxd:", err)
		os.Exit(1)
	}

	log := logger.New(
		logger.WithLevel(conf.Log.Level),
		logger.WithPretty(conf.Log.Pretty),
	)

	tenants, closers, err := buildTenants(context.Background(), conf)
	if err != nil {
		log.Fatal().Err(err).Msg("tenant wiring failed")
	}
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()

	davTenants := map[string]*webdav.Tenant{}
	cmisTenants := map[string]*cmis.Tenant{}
	for name, t := range tenants {
		davTenants[name] = &webdav.Tenant{Nodes: t.nodes, Resolver: t.resolver, Config: t.config}
		cmisTenants[name] = &cmis.Tenant{Nodes: t.nodes, Resolver: t.resolver, Config: t.config}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := appctx.WithLogger(req.Context(), log)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/dav", webdav.New(davTenants))
	r.Mount("/cmis", cmis.New(cmisTenants))

	srv := &http.Server{
		Addr:              conf.HTTP.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", conf.HTTP.Address).
			Int("tenants", len(tenants)).Msg("antboxd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
