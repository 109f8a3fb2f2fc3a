// Command blefiled serves the file transfer protocol over a
// newline-framed TCP transport, standing in for the wireless link
// during development and bench testing.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/blefile"
	"github.com/opd-ai/blefile/protocol"
	"github.com/opd-ai/blefile/transport"
)

var (
	listenAddr  string
	storageRoot string
	quotaBytes  uint64
	chunkSize   int
	idleTimeout time.Duration
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "blefiled",
	Short: "Single-peer file transfer service over a line-oriented transport",
	Long: `blefiled exposes a directory of files to one remote peer through the
blefile command protocol: list, upload, download, delete, with chunked
base64 framing and coalesced progress events.`,
	RunE: runServe,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":7345", "TCP listen address")
	rootCmd.Flags().StringVar(&storageRoot, "root", "files", "storage root directory")
	rootCmd.Flags().Uint64Var(&quotaBytes, "quota", 0, "storage quota in bytes (0 = unlimited)")
	rootCmd.Flags().IntVar(&chunkSize, "chunk-size", blefile.DefaultChunkSize, "raw chunk size in bytes")
	rootCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 30*time.Second, "stalled upload eviction timeout (0 = disabled)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	tr, err := transport.NewTCPTransport(listenAddr)
	if err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	options := blefile.NewOptions()
	options.StorageRoot = storageRoot
	options.QuotaBytes = quotaBytes
	options.ChunkSize = chunkSize
	options.IdleTimeout = idleTimeout

	svc, err := blefile.New(tr, options)
	if err != nil {
		tr.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}

	svc.OnTransferComplete(func(res protocol.TransferResult) {
		logrus.WithFields(logrus.Fields{
			"direction": res.Direction,
			"file_name": res.Name,
			"bytes":     res.Bytes,
		}).Info("Transfer complete")
	})
	svc.OnTransferFailed(func(name string, err error) {
		logrus.WithFields(logrus.Fields{
			"file_name": name,
			"error":     err.Error(),
		}).Warn("Transfer failed")
	})

	logrus.WithFields(logrus.Fields{
		"listen": tr.LocalAddr().String(),
		"root":   storageRoot,
	}).Info("blefiled serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	svc.Kill()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
