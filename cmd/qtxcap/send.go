package main

import (
	"fmt"
	"net"

	"qtxng"
	"qtxng/internal/sink"
	"qtxng/internal/wire"

	"github.com/spf13/cobra"
)

func init() {
	sendCmd.SilenceErrors = true
	sendCmd.SilenceUsage = true
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendAddr, "addr", "", "peer address, host:port (required)")
	sendCmd.Flags().StringVar(&sendSuite, "suite", "aes128gcm", "aes128gcm, aes256gcm, or chacha20poly1305")
	sendCmd.Flags().StringVar(&sendSecret, "secret", "", "1-RTT traffic secret, hex-encoded (required)")
	sendCmd.Flags().StringVar(&sendDCID, "dcid", "00010203", "destination connection ID, hex-encoded")
	sendCmd.Flags().IntVar(&sendMDPL, "mdpl", 1200, "maximum datagram payload length")
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "number of 1-RTT packets to send")
	sendCmd.Flags().StringVar(&sendPayload, "payload", "hello qtx", "packet payload")
	_ = sendCmd.MarkFlagRequired("addr")
	_ = sendCmd.MarkFlagRequired("secret")
}

var (
	sendAddr    string
	sendSuite   string
	sendSecret  string
	sendDCID    string
	sendMDPL    int
	sendCount   int
	sendPayload string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Seal and send 1-RTT packets over a real UDP socket",
	RunE:  runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	peer, err := net.ResolveUDPAddr("udp", sendAddr)
	if err != nil {
		return fmt.Errorf("resolving --addr: %w", err)
	}
	suiteID, err := parseSuite(sendSuite)
	if err != nil {
		return err
	}
	secret, err := parseHex("--secret", sendSecret)
	if err != nil {
		return err
	}
	dcid, err := parseHex("--dcid", sendDCID)
	if err != nil {
		return err
	}

	conn, err := qtx.New(qtx.Config{MDPL: sendMDPL})
	if err != nil {
		return err
	}
	if err := conn.ProvideSecret(qtx.OneRTT, suiteID, secret); err != nil {
		return fmt.Errorf("provisioning 1-RTT keys: %w", err)
	}

	udp, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("opening socket: %w", err)
	}
	defer udp.Close()
	conn.SetSink(sink.NewUDPSink(udp, true))

	payload := []byte(sendPayload)
	for i := 0; i < sendCount; i++ {
		header := wire.Header{Type: wire.OneRTT, DCID: dcid, PNLen: 1}
		pkt := qtx.LogicalPacket{
			Level:       qtx.OneRTT,
			Header:      header,
			Payload:     [][]byte{payload},
			PN:          uint64(i),
			DCIDLenHint: len(dcid),
			Peer:        peer,
			Coalesce:    i < sendCount-1,
		}
		n, err := conn.WritePacket(pkt)
		if err != nil {
			return fmt.Errorf("sealing packet %d: %w", i, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sealed packet %d: %d bytes\n", i, n)
	}
	conn.FinishDatagram()

	if err := conn.FlushNet(); err != nil {
		return fmt.Errorf("flushing to socket: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "flushed, %d datagrams still queued\n", conn.QueueLenDatagrams())
	return nil
}
