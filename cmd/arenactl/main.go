package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"moltcombat/pkg/attest"
	"moltcombat/pkg/domain"
	"moltcombat/pkg/ethsign"
	"moltcombat/pkg/sim"
)

const usage = "usage: arenactl keygen | arenactl attest verify --attestation <path> [--match <path>] [--trust-signer <address>] | arenactl match check --match <path>"

func main() {
	if len(os.Args) < 2 {
		failSummary(usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "keygen":
		runKeygen()
	case "attest":
		runAttest(os.Args[2:])
	case "match":
		runMatch(os.Args[2:])
	default:
		failSummary("unknown command")
		os.Exit(2)
	}
}

func runKeygen() {
	signer, err := ethsign.GenerateSigner()
	if err != nil {
		failSummary("keygen failed: " + err.Error())
		os.Exit(1)
	}
	writeJSON(map[string]any{
		"ok":          true,
		"private_key": signer.PrivateKeyHex(),
		"address":     signer.Address().Hex(),
	})
}

func runAttest(args []string) {
	if len(args) < 1 || args[0] != "verify" {
		failSummary(usage)
		os.Exit(2)
	}
	fs := flag.NewFlagSet("attest verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	attPath := fs.String("attestation", "", "path to attestation record json")
	matchPath := fs.String("match", "", "optional path to match record json")
	trustSigner := fs.String("trust-signer", "", "required attestor address")
	if err := fs.Parse(args[1:]); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*attPath) == "" {
		failSummary("--attestation is required")
		os.Exit(2)
	}

	var att domain.MatchAttestationRecord
	if err := readJSONFile(*attPath, &att); err != nil {
		failSummary("read attestation failed: " + err.Error())
		os.Exit(1)
	}
	var match *domain.MatchRecord
	if strings.TrimSpace(*matchPath) != "" {
		match = &domain.MatchRecord{}
		if err := readJSONFile(*matchPath, match); err != nil {
			failSummary("read match failed: " + err.Error())
			os.Exit(1)
		}
	}

	res := attest.Verify(&att, match)
	if res.Valid && *trustSigner != "" && !ethsign.SameAddress(res.Signer, *trustSigner) {
		res = attest.VerifyResult{Reason: attest.ReasonSignerMismatch}
	}
	writeJSON(map[string]any{
		"ok":              res.Valid,
		"reason":          res.Reason,
		"signer":          res.Signer,
		"match_id":        att.Payload.MatchID,
		"strict_verified": att.Payload.StrictVerified,
	})
	if !res.Valid {
		os.Exit(1)
	}
}

// match check recomputes the scorecard hash of a stored match record and
// reports whether the replay still agrees with it.
func runMatch(args []string) {
	if len(args) < 1 || args[0] != "check" {
		failSummary(usage)
		os.Exit(2)
	}
	fs := flag.NewFlagSet("match check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	matchPath := fs.String("match", "", "path to match record json")
	if err := fs.Parse(args[1:]); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*matchPath) == "" {
		failSummary("--match is required")
		os.Exit(2)
	}

	var m domain.MatchRecord
	if err := readJSONFile(*matchPath, &m); err != nil {
		failSummary("read match failed: " + err.Error())
		os.Exit(1)
	}
	recomputed := sim.ScorecardHash(&m)
	ok := m.ScorecardHash != "" && recomputed == m.ScorecardHash
	writeJSON(map[string]any{
		"ok":               ok,
		"match_id":         m.ID,
		"stored_scorecard": m.ScorecardHash,
		"recomputed":       recomputed,
	})
	if !ok {
		os.Exit(1)
	}
}

func readJSONFile(path string, dst any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func writeJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func failSummary(msg string) {
	writeJSON(map[string]any{"ok": false, "error": msg})
}
