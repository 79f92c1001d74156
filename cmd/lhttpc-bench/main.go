package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dhull/lhttpc/pkg/lhttpc/client"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	destFlag    string
	pathFlag    string
	countFlag   int
	tlsFlag     bool
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "lhttpc-bench",
	Short: "Drive repeated HTTP/1.1 requests through a pooled client",
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Issue count GET requests against --dest and print pool counts",
	RunE:  runGet,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Issue one GET request and dump its destination's statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&destFlag, "dest", "", "host:port to connect to (required)")
	rootCmd.PersistentFlags().StringVar(&pathFlag, "path", "/", "request path")
	rootCmd.PersistentFlags().BoolVar(&tlsFlag, "tls", false, "connect with TLS")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	rootCmd.MarkPersistentFlagRequired("dest")

	getCmd.Flags().IntVar(&countFlag, "count", 1, "number of sequential requests to issue")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lhttpc-bench:", err)
		os.Exit(1)
	}
}

func parseDest() (client.Destination, error) {
	host, portStr, ok := strings.Cut(destFlag, ":")
	if !ok {
		return client.Destination{}, fmt.Errorf("--dest must be host:port, got %q", destFlag)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return client.Destination{}, fmt.Errorf("--dest port %q: %w", portStr, err)
	}
	return client.Destination{Host: host, Port: port, TLS: tlsFlag}, nil
}

func newClient() *client.Client {
	var logger zerolog.Logger
	if verboseFlag {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = zerolog.Nop()
	}
	return client.NewClient(client.ClientConfig{StatsEnabled: true, Logger: &logger})
}

func runGet(cmd *cobra.Command, args []string) error {
	dest, err := parseDest()
	if err != nil {
		return err
	}
	c := newClient()
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < countFlag; i++ {
		start := time.Now()
		resp, err := c.Get(ctx, dest, pathFlag)
		if err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
		n, _ := io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		active, idle, _ := c.ConnectionCount(dest)
		fmt.Printf("%d: %s %d bytes in %s (active=%d idle=%d)\n",
			i+1, resp.Status, n, time.Since(start), active, idle)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	dest, err := parseDest()
	if err != nil {
		return err
	}
	c := newClient()
	defer c.Close()

	resp, err := c.Get(context.Background(), dest, pathFlag)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	for name, snap := range c.Stats() {
		fmt.Printf("%s: requests=%d conns=%d errors=%d remote_closes=%d local_closes=%d lifetime=%s\n",
			name, snap.RequestCount, snap.ConnectionCount, snap.ConnectionErrorCount,
			snap.ConnectionRemoteCloseCount, snap.ConnectionLocalCloseCount, snap.CumulativeLifetime)
	}
	if hs, ok := c.Health(dest); ok {
		fmt.Printf("idle scans=%d dead_rate=%.2f\n", hs.Scans, hs.DeadRate())
	}
	return nil
}
