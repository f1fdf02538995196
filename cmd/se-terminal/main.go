// se-terminal runs a secure element terminal against an emulated card
// and walks through the access control flow end to end: rule fetch
// from the card's rule authority, a channel open gated by those rules,
// a filtered transmit, and teardown.
//
// Usage:
//
//	se-terminal [options]
//
// Options:
//
//	--config   Path to a YAML reader configuration
//	--verbose  Enable debug logging
package main

import (
	"encoding/hex"
	"fmt"
	"log"

	"github.com/pion/logging"
	"github.com/spf13/pflag"

	"github.com/openmobile/omapi/pkg/access"
	"github.com/openmobile/omapi/pkg/apdu"
	"github.com/openmobile/omapi/pkg/cardlink"
	"github.com/openmobile/omapi/pkg/config"
	"github.com/openmobile/omapi/pkg/identity"
	"github.com/openmobile/omapi/pkg/rules"
	"github.com/openmobile/omapi/pkg/terminal"
)

// demoCertificate stands in for the signing certificate of the client
// application. The card's rules are keyed on its digests.
var demoCertificate = []byte("se-terminal demo certificate")

// paymentAID is the applet the demo client talks to.
var paymentAID = []byte{0xA0, 0x00, 0x00, 0x00, 0x63, 0x50, 0x41, 0x59}

func main() {
	configPath := pflag.String("config", "", "path to reader configuration")
	verbose := pflag.Bool("verbose", false, "enable debug logging")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	lf := logging.NewDefaultLoggerFactory()
	if *verbose {
		lf.DefaultLogLevel = logging.LogLevelDebug
	} else {
		lf.DefaultLogLevel = levelFromConfig(cfg.LogLevel)
	}

	if err := run(cfg, lf); err != nil {
		log.Fatalf("se-terminal: %v", err)
	}
}

func run(cfg *config.Config, lf *logging.DefaultLoggerFactory) error {
	hashes := identity.CertificateHashes(demoCertificate)

	card, err := buildCard(cfg, hashes)
	if err != nil {
		return err
	}

	simIO, err := cfg.SimIORanges()
	if err != nil {
		return fmt.Errorf("simIO allowlist: %w", err)
	}
	var files []terminal.FileRange
	for _, r := range simIO {
		files = append(files, terminal.FileRange{From: r.From, To: r.To})
	}

	araAID, err := cfg.ARAAIDBytes()
	if err != nil {
		return fmt.Errorf("rule authority aid: %w", err)
	}
	arfPath, err := cfg.ARFPathIDs()
	if err != nil {
		return fmt.Errorf("rule file path: %w", err)
	}

	term, err := terminal.New(terminal.Config{
		Name:               cfg.Reader,
		Link:               cardlink.WithTimeout(card, cfg.TransmitTimeout, lf),
		LoggerFactory:      lf,
		MaxLogicalChannels: cfg.MaxLogicalChannels,
		Rules: rules.Config{
			ARAAID:        araAID,
			ARFPath:       arfPath,
			LoggerFactory: lf,
		},
		SimIOFiles: files,
	})
	if err != nil {
		return err
	}
	defer term.Shutdown()

	fmt.Printf("reader %s, card ATR % X\n", term.Name(), term.ATR())

	term.InitializeAccessControl(true)
	fmt.Printf("access rules loaded from %s\n", term.Enforcer().Source())

	resolver := identity.StaticResolver{"com.example.pay": hashes}
	decision, err := term.SetUpChannelAccess(resolver, paymentAID, "com.example.pay")
	if err != nil {
		return fmt.Errorf("channel access: %w", err)
	}
	fmt.Printf("decision for com.example.pay -> %s: %s\n",
		hex.EncodeToString(paymentAID), decision.Access)

	session := &terminal.Session{ID: "demo", Hashes: hashes}
	ch, err := term.OpenLogicalChannel(session, paymentAID)
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	fmt.Printf("opened logical channel %d (handle %d)\n", ch.Number(), ch.Handle())

	// GET DATA is on the rule's allowlist; READ BINARY is not.
	resp, err := term.Transmit(ch.Handle(), session, []byte{0x00, 0xCA, 0x00, 0x66, 0x00})
	if err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	fmt.Printf("GET DATA response: % X\n", resp)

	if _, err := term.Transmit(ch.Handle(), session, []byte{0x00, 0xB0, 0x00, 0x00, 0x10}); err != nil {
		fmt.Printf("READ BINARY blocked as expected: %v\n", err)
	} else {
		return fmt.Errorf("READ BINARY passed a filter that should block it")
	}

	if err := term.Close(ch.Handle(), session); err != nil {
		return fmt.Errorf("closing channel: %w", err)
	}
	fmt.Println("channel closed")
	return nil
}

// buildCard assembles the emulated secure element: a rule authority
// applet granting the demo identity filtered access to the payment
// applet, and the payment applet itself.
func buildCard(cfg *config.Config, hashes [][]byte) (*cardlink.EmulatedCard, error) {
	araAID, err := cfg.ARAAIDBytes()
	if err != nil {
		return nil, fmt.Errorf("rule authority aid: %w", err)
	}

	ruleSet := []access.Rule{{
		Hash: access.HashRef(hashes[0]),
		AID:  access.AIDRef(paymentAID),
		Access: access.ChannelAccess{
			Access: access.PolicyAllowed,
			Filters: []access.FilterEntry{{
				Filter: access.APDUFilter{
					Header: apdu.Header{0x00, 0xCA, 0x00, 0x00},
					Mask:   apdu.Header{0xFF, 0xFF, 0x00, 0x00},
				},
				Allow: true,
			}},
		},
	}}

	card := cardlink.NewEmulatedCard(cardlink.EmulatedCardConfig{
		MaxLogicalChannels: cfg.MaxLogicalChannels,
	})
	card.Install(araAID, cardlink.NewARAApplet(rules.BuildBlob(ruleSet), 0))
	card.Install(paymentAID, &cardlink.Applet{
		SelectResponse: []byte{0x6F, 0x00},
		Process: func(cmd *apdu.Command) *apdu.Response {
			if cmd.Ins == apdu.InsGetData {
				return &apdu.Response{
					Data: []byte{byte(cmd.P1), byte(cmd.P2)},
					SW1:  0x90, SW2: 0x00,
				}
			}
			return &apdu.Response{SW1: 0x6D, SW2: 0x00}
		},
	})
	return card, nil
}

func levelFromConfig(level string) logging.LogLevel {
	switch level {
	case "trace":
		return logging.LogLevelTrace
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
