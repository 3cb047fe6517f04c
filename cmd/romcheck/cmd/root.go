package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/anupcshan/romcheck/diag"
	"github.com/anupcshan/romcheck/metrics"
	"github.com/anupcshan/romcheck/profile"
	"github.com/anupcshan/romcheck/session"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "romcheck",
	Short: "Inspect and patch microcontroller firmware images",
	Long: `romcheck loads Intel HEX and raw binary firmware images into a virtual ROM,
verifies the checksums the bootloader and application expect, patches them and
writes the result back out as Intel HEX ready for flashing.

The memory layout comes from a product profile. Without --profile the built-in
P21 ODP (STM32F301, 64 KiB) layout is used.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("profile", "", "Product profile JSON file (default: built-in p21odp)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("mqtt-broker", "", "MQTT broker to publish diagnostics to, e.g. tcp://localhost:1883")
	rootCmd.PersistentFlags().String("mqtt-topic", "romcheck/diag", "MQTT topic for diagnostics")
	rootCmd.PersistentFlags().String("metrics-file", "", "Write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(pagesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(showReportCmd)
}

// env is what every subcommand needs to run sessions.
type env struct {
	profile   *profile.Profile
	logger    *slog.Logger
	sink      diag.Sink
	registry  *prometheus.Registry
	collector *metrics.Collector

	mqttSink    *diag.MQTTSink
	metricsFile string
}

func newEnv(cmd *cobra.Command) (*env, error) {
	profilePath, _ := cmd.Flags().GetString("profile")
	logLevel, _ := cmd.Flags().GetString("log-level")
	mqttBroker, _ := cmd.Flags().GetString("mqtt-broker")
	mqttTopic, _ := cmd.Flags().GetString("mqtt-topic")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, errors.Wrap(err, "--log-level")
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	p, err := profile.Load(profilePath)
	if err != nil {
		return nil, err
	}

	e := &env{
		profile:     p,
		logger:      logger,
		sink:        diag.NewSlogSink(logger, slog.LevelInfo),
		registry:    prometheus.NewRegistry(),
		metricsFile: metricsFile,
	}
	e.collector = metrics.NewCollector(e.registry)

	if mqttBroker != "" {
		e.mqttSink = diag.NewMQTTSink(mqttBroker, mqttTopic)
		if err := e.mqttSink.Connect("romcheck-" + uuid.NewString()); err != nil {
			return nil, err
		}
		e.sink = diag.Tee(e.sink, e.mqttSink)
	}

	logger.Debug("Loaded profile", "name", p.Name, "processor", p.Processor, "regions", len(p.Regions))
	return e, nil
}

func (e *env) newSession() (*session.Session, error) {
	return session.New(e.profile, session.WithSink(e.sink), session.WithMetrics(e.collector))
}

func (e *env) Close() error {
	if e.mqttSink != nil {
		e.mqttSink.Close()
	}
	if e.metricsFile != "" {
		return metrics.WriteTextfile(e.metricsFile, e.registry)
	}
	return nil
}

// formatPages renders sorted page numbers as ranges, e.g. "0-2,5".
func formatPages(pages []int) string {
	if len(pages) == 0 {
		return "none"
	}

	var parts []string
	for i := 0; i < len(pages); {
		j := i
		for j+1 < len(pages) && pages[j+1] == pages[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, strconv.Itoa(pages[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", pages[i], pages[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}
