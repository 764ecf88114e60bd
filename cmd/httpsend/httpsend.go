package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/nhaquet-w6d/opa-httpsend/internal/config"
	"github.com/nhaquet-w6d/opa-httpsend/internal/dispatch"
	"github.com/nhaquet-w6d/opa-httpsend/internal/logging"
	"github.com/nhaquet-w6d/opa-httpsend/internal/respcache"
)

var (
	configPathFlag string
	queryFlag      string
	timeoutFlag    time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "httpsend",
	Short:        "Execute http.send request descriptors outside the policy engine",
	SilenceUsage: true,
}

var sendCmd = &cobra.Command{
	Use:   "send [file]",
	Short: "Dispatch a request descriptor and print the response",
	Long: `Dispatch a request descriptor, read from a file or stdin, and print the
normalized response as JSON. The descriptor may be written in JSON or YAML.

Examples:
  echo '{"method": "GET", "url": "https://example.org"}' | httpsend send
  httpsend send request.yaml --query status_code`,
	Args: cobra.MaximumNArgs(1),
	RunE: sendCommand,
}

func init() {
	sendCmd.Flags().StringVar(&configPathFlag, "config", "", "Path to the configuration file")
	sendCmd.Flags().StringVar(&queryFlag, "query", "", "Print only the given path of the response")
	sendCmd.Flags().
		DurationVar(&timeoutFlag, "timeout", 2*time.Minute, "Overall deadline for the dispatch")

	rootCmd.AddCommand(sendCmd)
}

func loadConfig() (*config.Config, error) {
	configPath := configPathFlag
	if configPath == "" {
		if env, ok := os.LookupEnv("HTTPSEND_CONFIG_PATH"); ok {
			configPath = env
		}
	}
	if configPath == "" {
		return config.Default(os.LookupEnv), nil
	}

	conf, err := config.Parse(configPath, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}

func readDescriptor(args []string) (map[string]any, error) {
	var data []byte
	var err error

	if len(args) == 1 {
		data, err = os.ReadFile(args[0]) //nolint:gosec
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read the request descriptor: %w", err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("the request descriptor is not valid JSON or YAML: %w", err)
	}
	return raw, nil
}

func sendCommand(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	logLevel, err := zerolog.ParseLevel(conf.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.CreateLogger(logLevel, conf.Log.Format, os.Stderr)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	raw, err := readDescriptor(args)
	if err != nil {
		return err
	}

	cache, err := respcache.New(conf.Cache, &logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Error().Err(err).Msg("Couldn't close the cache properly")
		}
	}()

	dispatcher := dispatch.New(dispatch.Options{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          20,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		Cache:    cache,
		Config:   conf,
		Logger:   &logger,
		Registry: prometheus.NewRegistry(),
	})

	ctx := cmd.Context()
	if timeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeoutFlag)
		defer cancel()
	}

	record, err := dispatcher.Send(ctx, raw)
	if err != nil {
		return err
	}

	output, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to serialize the response: %w", err)
	}

	if queryFlag != "" {
		result := gjson.GetBytes(output, queryFlag)
		if !result.Exists() {
			return fmt.Errorf("no value at path %q in the response", queryFlag)
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.String())
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
