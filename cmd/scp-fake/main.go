/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package main runs the fake netcup end user webservice for local development.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup/scpfake"
	"github.com/dom-porter/iaas-provider-lib/internal/version"
)

func main() {
	var addr string

	rootCmd := &cobra.Command{
		Use:   "scp-fake",
		Short: "Fake netcup SCP webservice",
		Long: `scp-fake serves the netcup end user SOAP webservice with two seeded vservers.
Credentials and failure injection are read from FAKE_SCP_* environment variables.`,
		Version:      version.String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), addr)
		},
	}
	rootCmd.Flags().StringVar(&addr, "addr", getEnvWithDefault("FAKE_SCP_ADDR", ":8080"), "Listen address")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string) error {
	logger, err := logging.Setup(logging.DefaultConfig())
	if err != nil {
		return err
	}
	logger = logger.WithName("scp-fake")

	fake := scpfake.NewServer()
	server := &http.Server{
		Addr:              addr,
		Handler:           fake,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting fake webservice", "addr", addr, "endpoint", scpfake.EndpointPath,
			"login", fake.Config().LoginName, "failureMode", fake.Config().FailureMode)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down fake webservice")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
