// Package integration contains end-to-end tests exercising the full
// terminal stack: configuration, card link, rule fetch, enforcement
// and channel lifecycle against an emulated secure element.
package integration

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/openmobile/omapi/pkg/access"
	"github.com/openmobile/omapi/pkg/apdu"
	"github.com/openmobile/omapi/pkg/cardlink"
	"github.com/openmobile/omapi/pkg/config"
	"github.com/openmobile/omapi/pkg/identity"
	"github.com/openmobile/omapi/pkg/rules"
	"github.com/openmobile/omapi/pkg/terminal"
)

var (
	payAID  = []byte{0xA0, 0x00, 0x00, 0x00, 0x63, 0x50, 0x41, 0x59}
	demoDER = []byte("integration test certificate")
)

// installPayApplet installs an applet answering GET DATA with its
// parameter bytes.
func installPayApplet(card *cardlink.EmulatedCard) {
	card.Install(payAID, &cardlink.Applet{
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
}

func filteredRuleSet(hash []byte) []access.Rule {
	return []access.Rule{{
		Hash: access.HashRef(hash),
		AID:  access.AIDRef(payAID),
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
}

func newTerminal(t *testing.T, cfg *config.Config, link cardlink.Link, lf logging.LoggerFactory) *terminal.Terminal {
	t.Helper()
	araAID, err := cfg.ARAAIDBytes()
	if err != nil {
		t.Fatalf("ARAAIDBytes() error: %v", err)
	}
	arfPath, err := cfg.ARFPathIDs()
	if err != nil {
		t.Fatalf("ARFPathIDs() error: %v", err)
	}
	ranges, err := cfg.SimIORanges()
	if err != nil {
		t.Fatalf("SimIORanges() error: %v", err)
	}
	var files []terminal.FileRange
	for _, r := range ranges {
		files = append(files, terminal.FileRange{From: r.From, To: r.To})
	}
	term, err := terminal.New(terminal.Config{
		Name:               cfg.Reader,
		Link:               link,
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
		t.Fatalf("terminal.New() error: %v", err)
	}
	t.Cleanup(term.Shutdown)
	return term
}

// TestE2E_ARAFlow drives the full flow with rules served by the
// authority applet in chained fragments: fetch, decision, gated open,
// filtered transmit, close.
func TestE2E_ARAFlow(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	lf := logging.NewDefaultLoggerFactory()
	hashes := identity.CertificateHashes(demoDER)

	card := cardlink.NewEmulatedCard(cardlink.EmulatedCardConfig{})
	araAID, _ := cfg.ARAAIDBytes()
	blob := rules.BuildBlob(filteredRuleSet(hashes[0]))
	// Serve the blob in small fragments to exercise GET DATA [Next].
	card.Install(araAID, cardlink.NewARAApplet(blob, 7))
	installPayApplet(card)

	term := newTerminal(t, cfg, cardlink.WithTimeout(card, cfg.TransmitTimeout, lf), lf)
	term.InitializeAccessControl(true)

	if src := term.Enforcer().Source(); src != rules.SourceARA {
		t.Fatalf("rule source = %s, want %s", src, rules.SourceARA)
	}

	resolver := identity.StaticResolver{"com.example.pay": hashes}
	decision, err := term.SetUpChannelAccess(resolver, payAID, "com.example.pay")
	if err != nil {
		t.Fatalf("SetUpChannelAccess() error: %v", err)
	}
	if decision.Access != access.PolicyAllowed {
		t.Fatalf("decision = %s, want allowed", decision.Access)
	}

	session := &terminal.Session{ID: "e2e", Hashes: hashes}
	ch, err := term.OpenLogicalChannel(session, payAID)
	if err != nil {
		t.Fatalf("OpenLogicalChannel() error: %v", err)
	}

	resp, err := term.Transmit(ch.Handle(), session, []byte{0x00, 0xCA, 0x00, 0x66, 0x00})
	if err != nil {
		t.Fatalf("Transmit() error: %v", err)
	}
	if !bytes.Equal(resp, []byte{0x00, 0x66, 0x90, 0x00}) {
		t.Fatalf("Transmit() = % X", resp)
	}

	if _, err := term.Transmit(ch.Handle(), session, []byte{0x00, 0xB0, 0x00, 0x00, 0x10}); !errors.Is(err, terminal.ErrAccessDenied) {
		t.Fatalf("filtered transmit error = %v, want ErrAccessDenied", err)
	}

	if err := term.Close(ch.Handle(), session); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if card.OpenChannelCount() != 0 {
		t.Fatalf("card holds %d channels after close", card.OpenChannelCount())
	}
}

// TestE2E_ARFFallback serves the rules from the rule file instead of
// the authority applet and verifies the same decisions come out.
func TestE2E_ARFFallback(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	lf := logging.NewDefaultLoggerFactory()
	hashes := identity.CertificateHashes(demoDER)

	card := cardlink.NewEmulatedCard(cardlink.EmulatedCardConfig{})
	blob := rules.BuildBlob(filteredRuleSet(hashes[0]))
	arfPath, _ := cfg.ARFPathIDs()
	files := map[uint16][]byte{}
	for _, fid := range arfPath[:len(arfPath)-1] {
		files[fid] = nil
	}
	files[arfPath[len(arfPath)-1]] = blob
	card.Install(nil, cardlink.NewFileSystemApplet(files))
	installPayApplet(card)

	term := newTerminal(t, cfg, card, lf)
	term.InitializeAccessControl(true)

	if src := term.Enforcer().Source(); src != rules.SourceARF {
		t.Fatalf("rule source = %s, want %s", src, rules.SourceARF)
	}

	session := &terminal.Session{ID: "e2e", Hashes: hashes}
	ch, err := term.OpenLogicalChannel(session, payAID)
	if err != nil {
		t.Fatalf("OpenLogicalChannel() error: %v", err)
	}
	if _, err := term.Transmit(ch.Handle(), session, []byte{0x00, 0xCA, 0x00, 0x66, 0x00}); err != nil {
		t.Fatalf("Transmit() error: %v", err)
	}
	if _, err := term.Transmit(ch.Handle(), session, []byte{0x80, 0xF2, 0x00, 0x00}); !errors.Is(err, terminal.ErrAccessDenied) {
		t.Fatalf("filtered transmit error = %v, want ErrAccessDenied", err)
	}
}

// TestE2E_CardSwap removes the card mid-session and inserts one with a
// different rule set; after a reset the enforcer follows the new card.
func TestE2E_CardSwap(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	lf := logging.NewDefaultLoggerFactory()
	hashes := identity.CertificateHashes(demoDER)

	card := cardlink.NewEmulatedCard(cardlink.EmulatedCardConfig{})
	araAID, _ := cfg.ARAAIDBytes()
	card.Install(araAID, cardlink.NewARAApplet(rules.BuildBlob(filteredRuleSet(hashes[0])), 0))
	installPayApplet(card)

	term := newTerminal(t, cfg, cardlink.WithTimeout(card, time.Second, lf), lf)
	session := &terminal.Session{ID: "swap", Hashes: hashes}

	if _, err := term.OpenLogicalChannel(session, payAID); err != nil {
		t.Fatalf("OpenLogicalChannel() error: %v", err)
	}

	// Swap in a card whose rules deny the applet outright.
	card.SetPresent(false)
	card.Install(araAID, cardlink.NewARAApplet(rules.BuildBlob([]access.Rule{{
		AID: access.AIDRef(payAID),
		Access: access.ChannelAccess{
			Access:     access.PolicyDenied,
			APDUAccess: access.PolicyDenied,
		},
	}}), 0))
	card.SetPresent(true)

	if err := term.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if _, err := term.OpenLogicalChannel(session, payAID); !errors.Is(err, terminal.ErrAccessDenied) {
		t.Fatalf("open after swap error = %v, want ErrAccessDenied", err)
	}
}
