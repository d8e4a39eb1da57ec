// witnessctl is the operator control CLI for witnessd. It reads the same
// on-disk state (checkpoint chains, the secure event store, enrollment
// identity, attestation log) that witnessd writes, and adds reporting,
// independent verification and attestation tooling on top of it.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"witnessd/internal/attestation"
	"witnessd/internal/checkpoint"
	"witnessd/internal/config"
	"witnessd/internal/declaration"
	"witnessd/internal/evidence"
	"witnessd/internal/keyhierarchy"
	"witnessd/internal/mmr"
	"witnessd/internal/store"
	"witnessd/internal/vdf"
	"witnessd/internal/verify"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

var (
	configPath  = flag.String("config", "", "path to config file")
	noColor     = flag.Bool("no-color", false, "disable colored output")
	showVersion = flag.Bool("version", false, "show version information")
	quiet       = flag.Bool("q", false, "suppress banner")
)

// ANSI color codes
type colors struct {
	Reset   string
	Bold    string
	Dim     string
	Red     string
	Green   string
	Yellow  string
	Blue    string
	Magenta string
	Cyan    string
	White   string
}

var c colors

func initColors() {
	if *noColor || os.Getenv("NO_COLOR") != "" || !isTerminal() {
		c = colors{}
		return
	}

	c = colors{
		Reset:   "\033[0m",
		Bold:    "\033[1m",
		Dim:     "\033[2m",
		Red:     "\033[31m",
		Green:   "\033[32m",
		Yellow:  "\033[33m",
		Blue:    "\033[34m",
		Magenta: "\033[35m",
		Cyan:    "\033[36m",
		White:   "\033[37m",
	}
}

func isTerminal() bool {
	if runtime.GOOS == "windows" {
		return os.Getenv("TERM") != "" || os.Getenv("WT_SESSION") != ""
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

const banner = `
%s          ╦ ╦╦╔╦╗╔╗╔╔═╗╔═╗╔═╗%s
%s          ║║║║ ║ ║║║║╣ ╚═╗╚═╗%s
%s          ╚╩╝╩ ╩ ╝╚╝╚═╝╚═╝╚═╝%s%sctl%s
%s    ─────────────────────────────────%s
%s       Kinetic Proof of Provenance%s

`

func printBanner() {
	fmt.Fprintf(os.Stderr, banner,
		c.Cyan+c.Bold, c.Reset,
		c.Cyan+c.Bold, c.Reset,
		c.Cyan+c.Bold, c.Reset, c.Dim, c.Reset,
		c.Dim, c.Reset,
		c.Dim, c.Reset,
	)
}

func printVersion() {
	fmt.Printf("%switnessctl%s %s%s%s\n", c.Bold, c.Reset, c.Cyan, Version, c.Reset)
	fmt.Printf("  %sBuild%s       %s\n", c.Dim, c.Reset, BuildTime)
	fmt.Printf("  %sCommit%s      %s\n", c.Dim, c.Reset, Commit)
	fmt.Printf("  %sPlatform%s    %s/%s\n", c.Dim, c.Reset, runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  %sGo%s          %s\n", c.Dim, c.Reset, runtime.Version())
}

func main() {
	flag.Parse()
	initColors()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		if !*quiet {
			printBanner()
		}
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	if !*quiet && cmd != "help" && cmd != "version" {
		printBanner()
	}

	switch cmd {
	case "status":
		cmdStatus()
	case "history":
		cmdHistory()
	case "verify":
		if flag.NArg() < 2 {
			printError("Usage: witnessctl verify [-level quick|standard|forensic] <file>")
			os.Exit(1)
		}
		cmdVerify(flag.Args()[1:])
	case "export":
		if flag.NArg() < 2 {
			printError("Usage: witnessctl export <file> [output.json]")
			os.Exit(1)
		}
		output := ""
		if flag.NArg() >= 3 {
			output = flag.Arg(2)
		}
		cmdExport(flag.Arg(1), output)
	case "attestation":
		cmdAttestation(flag.Args()[1:])
	case "help":
		if !*quiet {
			printBanner()
		}
		usage()
	case "version":
		printVersion()
	default:
		printError(fmt.Sprintf("Unknown command: %s", cmd))
		usage()
		os.Exit(1)
	}
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s ERROR %s %s\n", c.Bold, c.Red, c.Reset, msg)
}

func printSection(title string) {
	fmt.Printf("\n%s%s %s %s\n\n", c.Bold, c.Cyan, title, c.Reset)
}

func usage() {
	fmt.Fprintf(os.Stderr, `%sUSAGE%s
    witnessctl [options] <command> [arguments]

%sCOMMANDS%s
    %sstatus%s                 Show identity, store and chain statistics
    %shistory%s                List all witnessed document chains
    %sverify%s     <file>      Independently verify a document or evidence packet
    %sexport%s     <file>      Export and grade cryptographic evidence for a file
    %sattestation%s            Mint a hardware/software attestation binding
    %shelp%s                   Show this help message
    %sversion%s                Show version information

%sOPTIONS%s
    -config <path>   Path to config file (default: ~/.witnessd/config.toml)
    -no-color        Disable colored output
    -q               Suppress banner

%sEXAMPLES%s
    witnessctl status
    witnessctl history
    witnessctl verify -level forensic manuscript.docx
    witnessctl verify report.evidence.json
    witnessctl export report.pdf evidence.json
    witnessctl attestation -out attestation.json

%sLEARN MORE%s
    https://github.com/writerslogic/witnessd

`,
		c.Bold+c.White, c.Reset,
		c.Bold+c.White, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Bold+c.White, c.Reset,
		c.Bold+c.White, c.Reset,
		c.Bold+c.White, c.Reset,
	)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		printError(fmt.Sprintf("loading config: %v", err))
		os.Exit(1)
	}
	return cfg
}

// Shared on-disk layout helpers. These mirror witnessd's own paths so both
// binaries operate on the same enrollment and chain state.

func witnessdDir() string {
	return config.WitnessdDir()
}

func masterSeedPath() string {
	return filepath.Join(witnessdDir(), "master_seed")
}

func identityPath() string {
	return filepath.Join(witnessdDir(), "identity.json")
}

func attestationLogPath(docID string) string {
	return filepath.Join(witnessdDir(), "attestations", docID+".json")
}

func documentID(absPath string) string {
	h := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(h[:8])
}

func loadIdentity() (*keyhierarchy.Identity, error) {
	data, err := os.ReadFile(identityPath())
	if err != nil {
		return nil, err
	}
	var identity keyhierarchy.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func mustReadSeed(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		printError(fmt.Sprintf("reading enrollment seed: %v (run: witnessd init)", err))
		os.Exit(1)
	}
	return data
}

func loadSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	seed := mustReadSeed(masterSeedPath())
	pub, priv := keyhierarchy.DeriveSigningKeypair(seed)
	keyhierarchy.SecureWipeBytes(seed, keyhierarchy.DefaultWipeConfig())
	return pub, priv, nil
}

func loadAttestationBindings(docID string) []attestation.Binding {
	data, err := os.ReadFile(attestationLogPath(docID))
	if err != nil {
		return nil
	}
	var bindings []attestation.Binding
	if err := json.Unmarshal(data, &bindings); err != nil {
		return nil
	}
	return bindings
}

func openSecureStore(cfg *config.Config) (*store.SecureStore, error) {
	seed := mustReadSeed(masterSeedPath())
	hmacKey := keyhierarchy.DeriveHMACKey(seed)
	keyhierarchy.SecureWipeBytes(seed, keyhierarchy.DefaultWipeConfig())
	return store.OpenSecure(cfg.EventStorePath, hmacKey[:])
}

func cmdStatus() {
	cfg := loadConfig()

	printSection("IDENTITY")
	identity, err := loadIdentity()
	if err != nil {
		fmt.Printf("  %sStatus%s        %s%sNOT ENROLLED%s\n", c.Dim, c.Reset, c.Bold, c.Yellow, c.Reset)
		fmt.Printf("  %sTip%s           Run: witnessd init\n", c.Dim, c.Reset)
	} else {
		fmt.Printf("  %sFingerprint%s   %s%s%s\n", c.Dim, c.Reset, c.Cyan, identity.Fingerprint, c.Reset)
		fmt.Printf("  %sDevice ID%s     %s\n", c.Dim, c.Reset, identity.DeviceID)
		fmt.Printf("  %sPublic Key%s    %s...\n", c.Dim, c.Reset, hex.EncodeToString(identity.PublicKey[:8]))
		fmt.Printf("  %sEnrolled%s      %s\n", c.Dim, c.Reset, identity.CreatedAt.Format("2006-01-02 15:04"))
	}

	printSection("SECURE EVENT STORE")
	secureDB, err := openSecureStore(cfg)
	if err != nil {
		fmt.Printf("  %sStatus%s        %s%sUNAVAILABLE%s (%v)\n", c.Dim, c.Reset, c.Bold, c.Yellow, c.Reset, err)
	} else {
		defer secureDB.Close()
		stats, err := secureDB.GetStats()
		if err != nil {
			fmt.Printf("  %sError%s         %v\n", c.Red, c.Reset, err)
		} else {
			if stats.IntegrityOK {
				fmt.Printf("  %sIntegrity%s     %s%sVERIFIED%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
			} else {
				fmt.Printf("  %sIntegrity%s     %s%sFAILED%s\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset)
			}
			fmt.Printf("  %sEvents%s        %d\n", c.Dim, c.Reset, stats.EventCount)
			fmt.Printf("  %sFiles%s         %d\n", c.Dim, c.Reset, stats.FileCount)
			if stats.EventCount > 0 {
				fmt.Printf("  %sFirst event%s   %s\n", c.Dim, c.Reset, stats.OldestEvent.Format("2006-01-02 15:04"))
				fmt.Printf("  %sLast event%s    %s\n", c.Dim, c.Reset, stats.NewestEvent.Format("2006-01-02 15:04"))
			}
			fmt.Printf("  %sSize%s          %s\n", c.Dim, c.Reset, formatBytes(stats.DatabaseSize))
		}
	}

	chainsDir := filepath.Join(witnessdDir(), "chains")
	chains, _ := filepath.Glob(filepath.Join(chainsDir, "*.json"))
	printSection("CHECKPOINT CHAINS")
	fmt.Printf("  %sChains%s        %d documents\n", c.Dim, c.Reset, len(chains))

	if _, err := os.Stat(cfg.DatabasePath); err == nil {
		printSection("LEGACY DATABASE")
		mmrStore, err := mmr.OpenFileStore(cfg.DatabasePath)
		if err != nil {
			fmt.Printf("  %sError%s         %v\n", c.Red, c.Reset, err)
		} else {
			defer mmrStore.Close()
			m, err := mmr.New(mmrStore)
			if err != nil {
				fmt.Printf("  %sError%s         %v\n", c.Red, c.Reset, err)
			} else {
				fmt.Printf("  %sNodes%s         %d\n", c.Dim, c.Reset, m.Size())
				fmt.Printf("  %sWitnesses%s     %d\n", c.Dim, c.Reset, m.LeafCount())
				fmt.Printf("  %sNote%s          %spre-checkpoint-chain format, read-only%s\n", c.Dim, c.Reset, c.Dim, c.Reset)
			}
		}
	}

	fmt.Println()
}

func cmdHistory() {
	chainsDir := filepath.Join(witnessdDir(), "chains")
	paths, err := filepath.Glob(filepath.Join(chainsDir, "*.json"))
	if err != nil || len(paths) == 0 {
		fmt.Printf("  %sNo witnessed documents found.%s\n", c.Dim, c.Reset)
		return
	}

	printSection("WITNESS HISTORY")
	fmt.Printf("  %s%-10s  %-8s  %-20s  %s%s\n", c.Dim, "ORDINALS", "VDF", "LAST COMMIT", "DOCUMENT", c.Reset)
	fmt.Printf("  %s%s%s\n", c.Dim, strings.Repeat("─", 70), c.Reset)

	for _, p := range paths {
		chain, err := checkpoint.Load(p)
		if err != nil {
			continue
		}
		latest := chain.Latest()
		if latest == nil {
			continue
		}
		fmt.Printf("  %-10d  %s%-8s%s  %-20s  %s\n",
			len(chain.Checkpoints), c.Cyan, chain.TotalElapsedTime().Round(time.Second), c.Reset,
			latest.Timestamp.Format("2006-01-02 15:04"), chain.DocumentPath)
	}
	fmt.Println()
}

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	levelStr := fs.String("level", "standard", "verification depth: quick, standard, forensic, paranoid")
	fs.Parse(args)
	if fs.NArg() < 1 {
		printError("Usage: witnessctl verify [-level quick|standard|forensic|paranoid] <file>")
		os.Exit(1)
	}
	filePath := fs.Arg(0)

	level, err := parseLevel(*levelStr)
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	if strings.HasSuffix(filePath, ".json") {
		if data, err := os.ReadFile(filePath); err == nil {
			if packet, err := evidence.Decode(data); err == nil {
				runPacketVerification(packet, level)
				return
			}
		}
	}

	verifyChain(filePath)
}

func runPacketVerification(packet *evidence.Packet, level verify.VerificationLevel) {
	v := verify.NewPacketVerifier(verify.WithLevel(level), verify.WithVDFParams(vdf.DefaultParameters()))
	report, err := v.Verify(context.Background(), packet)
	if err != nil {
		printError(fmt.Sprintf("verification error: %v", err))
		os.Exit(1)
	}

	gen := verify.NewReportGenerator(verify.FormatText).WithVerbose(true)
	if err := gen.Generate(report, os.Stdout); err != nil {
		printError(fmt.Sprintf("generating report: %v", err))
		os.Exit(1)
	}

	if !report.Valid {
		os.Exit(1)
	}
}

func verifyChain(filePath string) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		printError(fmt.Sprintf("resolving path: %v", err))
		os.Exit(1)
	}

	chainPath, err := checkpoint.FindChain(absPath, witnessdDir())
	if err != nil {
		printError(fmt.Sprintf("no chain found for %s: %v", filePath, err))
		os.Exit(1)
	}

	chain, err := checkpoint.Load(chainPath)
	if err != nil {
		printError(fmt.Sprintf("loading chain: %v", err))
		os.Exit(1)
	}

	identity, err := loadIdentity()
	if err != nil {
		printError(fmt.Sprintf("loading identity: %v (run: witnessd init)", err))
		os.Exit(1)
	}

	verifySig := func(hash [32]byte, sig []byte) bool {
		return keyhierarchy.VerifySignature(identity.PublicKey, hash[:], sig)
	}

	if err := chain.Verify(verifySig); err != nil {
		fmt.Printf("\n%s%s VERIFICATION FAILED %s\n\n", c.Bold, c.Red, c.Reset)
		fmt.Printf("  %sError%s  %v\n\n", c.Red, c.Reset, err)
		os.Exit(1)
	}

	fmt.Printf("\n%s%s VERIFICATION PASSED %s\n\n", c.Bold, c.Green, c.Reset)
	fmt.Printf("  %sDocument%s       %s\n", c.Dim, c.Reset, chain.DocumentPath)
	fmt.Printf("  %sCheckpoints%s    %d\n", c.Dim, c.Reset, len(chain.Checkpoints))
	fmt.Printf("  %sVDF elapsed%s    %s\n", c.Dim, c.Reset, chain.TotalElapsedTime().Round(time.Second))
	fmt.Println()
}

func parseLevel(s string) (verify.VerificationLevel, error) {
	switch s {
	case "quick":
		return verify.LevelQuick, nil
	case "standard":
		return verify.LevelStandard, nil
	case "forensic":
		return verify.LevelForensic, nil
	case "paranoid":
		return verify.LevelParanoid, nil
	default:
		return 0, fmt.Errorf("unknown level: %s (use quick, standard, forensic, or paranoid)", s)
	}
}

func cmdExport(filePath, outputPath string) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		printError(fmt.Sprintf("resolving path: %v", err))
		os.Exit(1)
	}

	chainPath, err := checkpoint.FindChain(absPath, witnessdDir())
	if err != nil {
		printError(fmt.Sprintf("no chain found for %s: %v", filePath, err))
		os.Exit(1)
	}

	chain, err := checkpoint.Load(chainPath)
	if err != nil {
		printError(fmt.Sprintf("loading chain: %v", err))
		os.Exit(1)
	}

	_, priv, err := loadSigningKey()
	if err != nil {
		printError(fmt.Sprintf("loading signing key: %v", err))
		os.Exit(1)
	}

	decl, err := collectDeclaration(chain, absPath, priv)
	if err != nil {
		printError(fmt.Sprintf("collecting declaration: %v", err))
		os.Exit(1)
	}

	builder := evidence.NewBuilder(filepath.Base(absPath), chain).WithDeclaration(decl)

	if identity, err := loadIdentity(); err == nil {
		builder = builder.WithKeyHierarchy(identity)
	}

	docID := documentID(absPath)
	if bindings := loadAttestationBindings(docID); len(bindings) > 0 {
		builder = builder.WithHardware(bindings, hex.EncodeToString(bindings[0].DeviceID))
	}

	packet, err := builder.Build()
	if err != nil {
		printError(fmt.Sprintf("building evidence packet: %v", err))
		os.Exit(1)
	}

	if outputPath == "" {
		outputPath = filepath.Base(filePath) + ".evidence.json"
	}
	data, err := packet.Encode()
	if err != nil {
		printError(fmt.Sprintf("encoding evidence packet: %v", err))
		os.Exit(1)
	}
	if err := os.WriteFile(outputPath, data, 0600); err != nil {
		printError(fmt.Sprintf("writing evidence packet: %v", err))
		os.Exit(1)
	}

	fmt.Printf("\n%s%s EVIDENCE EXPORTED %s\n\n", c.Bold, c.Green, c.Reset)
	fmt.Printf("  %sOutput%s         %s\n", c.Dim, c.Reset, outputPath)
	fmt.Printf("  %sStrength%s       %s\n", c.Dim, c.Reset, packet.Strength)
	fmt.Printf("  %sCheckpoints%s    %d\n", c.Dim, c.Reset, len(packet.Checkpoints))

	printSection("FORENSIC GRADE")
	v := verify.NewPacketVerifier(verify.WithLevel(verify.LevelForensic))
	report, err := v.Verify(context.Background(), packet)
	if err != nil {
		fmt.Printf("  %sError%s  %v\n", c.Red, c.Reset, err)
		return
	}
	fmt.Printf("  %sClass%s          %s%s%s — %s\n", c.Dim, c.Reset, c.Bold+c.Cyan, report.EvidenceClass, c.Reset, report.ClassReason)
	fmt.Printf("  %sConfidence%s     %.0f%%\n", c.Dim, c.Reset, report.Confidence*100)
	fmt.Println()
}

func collectDeclaration(chain *checkpoint.Chain, filePath string, privKey ed25519.PrivateKey) (*declaration.Declaration, error) {
	latest := chain.Latest()
	if latest == nil {
		return nil, fmt.Errorf("chain has no checkpoints")
	}

	b := declaration.NewDeclaration(latest.ContentHash, latest.Hash, filepath.Base(filePath)).
		WithStatement("Exported via witnessctl for independent audit.")

	return b.Sign(privKey)
}

func cmdAttestation(args []string) {
	fs := flag.NewFlagSet("attestation", flag.ExitOnError)
	filePath := fs.String("file", "", "file whose content hash should be bound (default: random nonce)")
	outPath := fs.String("out", "", "output file (default stdout)")
	fs.Parse(args)

	var data []byte
	if *filePath != "" {
		contents, err := os.ReadFile(*filePath)
		if err != nil {
			printError(fmt.Sprintf("read %s: %v", *filePath, err))
			os.Exit(1)
		}
		hash := sha256.Sum256(contents)
		data = hash[:]
	} else {
		nonce := sha256.Sum256([]byte(time.Now().Format(time.RFC3339Nano)))
		data = nonce[:]
	}

	provider := attestation.DetectProvider()
	defer provider.Close()

	if !provider.Available() {
		printError("no attestation provider available on this device")
		os.Exit(1)
	}

	binding, err := provider.Bind(data)
	if err != nil {
		printError(fmt.Sprintf("binding attestation: %v", err))
		os.Exit(1)
	}

	output, err := binding.Encode()
	if err != nil {
		printError(fmt.Sprintf("encoding binding: %v", err))
		os.Exit(1)
	}

	if *outPath == "" {
		os.Stdout.Write(append(output, '\n'))
		return
	}

	if err := os.WriteFile(*outPath, append(output, '\n'), 0644); err != nil {
		printError(fmt.Sprintf("write output file: %v", err))
		os.Exit(1)
	}
	fmt.Printf("%sWrote attestation binding to%s %s (provider: %s)\n", c.Green, c.Reset, *outPath, provider.Name())
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
