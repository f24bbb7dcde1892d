// Command noisewire provides key generation plus a minimal encrypted
// echo listener and dialer for exercising authenticated transports from
// the command line.
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/noisewire/crypto"
	"github.com/opd-ai/noisewire/transport"
)

var (
	flagConfig  string
	flagKey     string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "noisewire",
		Short: "Authenticated encrypted point-to-point transport over TCP",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to TOML configuration file")
	root.PersistentFlags().StringVar(&flagKey, "key", "", "local static secret key (64 hex characters)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(keygenCmd(), listenCmd(), dialCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadKeys returns the keypair for the --key flag, or a fresh ephemeral
// identity when the flag is absent.
func loadKeys() (*crypto.KeyPair, error) {
	if flagKey == "" {
		return crypto.GenerateKeyPair()
	}
	raw, err := hex.DecodeString(flagKey)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	if len(raw) != crypto.KeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", crypto.KeySize, len(raw))
	}
	var secret [crypto.KeySize]byte
	copy(secret[:], raw)
	defer crypto.ZeroBytes(raw)
	defer crypto.ZeroBytes(secret[:])
	return crypto.FromSecretKey(secret)
}

// loadConfig returns the configuration from --config, or the defaults.
func loadConfig() (transport.Config, error) {
	if flagConfig == "" {
		return transport.DefaultConfig(), nil
	}
	return transport.LoadConfig(flagConfig)
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a static identity keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			defer crypto.WipeKeyPair(keys)
			fmt.Printf("public:  %s\n", keys.Public.String())
			fmt.Printf("secret:  %s\n", hex.EncodeToString(keys.Private[:]))
			return nil
		},
	}
}

func listenCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept authenticated sessions and echo their payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := loadKeys()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			acceptor, err := transport.Bind(addr, keys, cfg)
			if err != nil {
				return err
			}
			defer acceptor.Disconnect()

			fmt.Printf("listening on %s@%s\n", keys.Public.String(), acceptor.LocalAddr())
			runEchoLoop(acceptor, cfg)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:0", "address to listen on")
	return cmd
}

// runEchoLoop polls the acceptor and every live transport in turn,
// echoing received payloads back to their sender. Single-threaded by
// construction: each readiness target is serviced serially.
func runEchoLoop(acceptor *transport.NetAccept, cfg transport.Config) {
	var transports []*transport.NetTransport
	for {
		switch ev := acceptor.HandleIO(transport.IOEvent{Readable: true}).(type) {
		case transport.Accepted:
			nt, err := transport.Accept(ev.Session, cfg)
			if err != nil {
				logrus.WithError(err).Warn("Failed to wrap accepted session")
				continue
			}
			transports = append(transports, nt)
		case transport.Failure:
			logrus.WithError(ev.Err).Warn("Accept failed")
		}

		live := transports[:0]
		for _, nt := range transports {
			switch ev := nt.HandleIO(transport.IOEvent{Readable: true}).(type) {
			case transport.Established:
				fmt.Printf("session established with %s\n", ev.PeerKey)
			case transport.Data:
				if _, err := nt.Write(ev.Payload); err != nil {
					logrus.WithError(err).Warn("Echo write failed")
				}
			case transport.Terminated:
				fmt.Printf("session terminated: %v\n", ev.Err)
				continue
			}
			if nt.State() != transport.StateTerminated {
				live = append(live, nt)
			}
		}
		transports = live
	}
}

func dialCmd() *cobra.Command {
	var peerSpec string
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Dial a peer and relay stdin lines over the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := transport.ParsePeerAddr(peerSpec)
			if err != nil {
				return err
			}
			keys, err := loadKeys()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			nt, err := transport.Connect(peer, keys, cfg)
			if err != nil {
				return err
			}
			defer nt.Disconnect()

			return runDialLoop(nt)
		},
	}
	cmd.Flags().StringVar(&peerSpec, "peer", "", "peer as <64-hex-key>@host:port")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

// runDialLoop drives the session to establishment, then relays stdin
// lines outbound and prints decrypted replies.
func runDialLoop(nt *transport.NetTransport) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		switch ev := nt.HandleIO(transport.IOEvent{Readable: true}).(type) {
		case transport.Established:
			fmt.Printf("session established with %s\n", ev.PeerKey)
		case transport.Data:
			fmt.Printf("< %s\n", ev.Payload)
		case transport.Terminated:
			return ev.Err
		}
		if nt.State() != transport.StateActive {
			continue
		}

		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if _, err := nt.Write([]byte(line)); err != nil {
				return err
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
}
