package main

import (
	"encoding/hex"
	"fmt"

	"qtxng"
	"qtxng/internal/sink"
	"qtxng/internal/wire"

	"github.com/spf13/cobra"
)

func init() {
	capCmd.SilenceErrors = true
	capCmd.SilenceUsage = true
	rootCmd.AddCommand(capCmd)

	capCmd.Flags().StringVar(&capSuite, "suite", "aes128gcm", "aes128gcm, aes256gcm, or chacha20poly1305")
	capCmd.Flags().StringVar(&capSecret, "secret", "", "1-RTT traffic secret, hex-encoded (required)")
	capCmd.Flags().StringVar(&capDCID, "dcid", "00010203", "destination connection ID, hex-encoded")
	capCmd.Flags().IntVar(&capMDPL, "mdpl", 1200, "maximum datagram payload length")
	capCmd.Flags().IntVar(&capCount, "count", 3, "number of 1-RTT packets to seal (each ends its own datagram)")
	capCmd.Flags().StringVar(&capPayload, "payload", "hello qtx", "packet payload")
	_ = capCmd.MarkFlagRequired("secret")
}

var (
	capSuite   string
	capSecret  string
	capDCID    string
	capMDPL    int
	capCount   int
	capPayload string
)

var capCmd = &cobra.Command{
	Use:   "cap",
	Short: "Seal 1-RTT packets through the coalescer without a network, dumping the resulting datagrams",
	RunE:  runCap,
}

func runCap(cmd *cobra.Command, args []string) error {
	suiteID, err := parseSuite(capSuite)
	if err != nil {
		return err
	}
	secret, err := parseHex("--secret", capSecret)
	if err != nil {
		return err
	}
	dcid, err := parseHex("--dcid", capDCID)
	if err != nil {
		return err
	}

	conn, err := qtx.New(qtx.Config{MDPL: capMDPL})
	if err != nil {
		return err
	}
	if err := conn.ProvideSecret(qtx.OneRTT, suiteID, secret); err != nil {
		return fmt.Errorf("provisioning 1-RTT keys: %w", err)
	}

	capture := sink.NewCapture()
	conn.SetSink(capture)

	payload := []byte(capPayload)
	for i := 0; i < capCount; i++ {
		header := wire.Header{Type: wire.OneRTT, DCID: dcid, PNLen: 1}
		pkt := qtx.LogicalPacket{
			Level:       qtx.OneRTT,
			Header:      header,
			Payload:     [][]byte{payload},
			PN:          uint64(i),
			DCIDLenHint: len(dcid),
			Coalesce:    i < capCount-1,
		}
		if _, err := conn.WritePacket(pkt); err != nil {
			return fmt.Errorf("sealing packet %d: %w", i, err)
		}
	}
	conn.FinishDatagram()
	if err := conn.FlushNet(); err != nil {
		return fmt.Errorf("flushing to capture sink: %w", err)
	}

	for i, d := range capture.Sent {
		fmt.Fprintf(cmd.OutOrStdout(), "datagram %d: %d bytes\n%s\n", i, len(d.Bytes), hex.Dump(d.Bytes))
	}
	return nil
}
