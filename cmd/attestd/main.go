package main

import (
	"encoding/json"
	"fmt"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"github.com/nordbid/attest-core/attest"
	"github.com/nordbid/attest-core/cmd/attestd/httpapi"
	"github.com/nordbid/attest-core/cmd/attestd/service"
	"github.com/nordbid/attest-core/cmd/attestd/service/store"
	"github.com/nordbid/attest-core/cmd/common"
	"github.com/nordbid/attest-core/docextract"
	"github.com/nordbid/attest-core/dshelper/txndswrap"
	"github.com/nordbid/attest-core/finalizer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	badger "github.com/textileio/go-ds-badger3"
	golog "github.com/textileio/go-log/v2"
)

var (
	cliName           = "attestd"
	defaultConfigPath = filepath.Join(os.Getenv("HOME"), "."+cliName)
	log               = golog.Logger(cliName)
	v                 = viper.New()
)

func init() {
	rootCmd.AddCommand(initCmd, daemonCmd)

	flags := []common.Flag{
		{Name: "http-addr", DefValue: ":8085", Description: "HTTP API listen address"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{
			Name:        "proof-ttl",
			DefValue:    attest.DefaultProofTTL,
			Description: "How long a recorded financing proof demonstrates capacity",
		},
		{
			Name:        "bid-ttl",
			DefValue:    attest.DefaultBidTTL,
			Description: "How long a bid reference code stays redeemable",
		},
		{
			Name:        "sweep-interval",
			DefValue:    time.Minute * 10,
			Description: "How often expired bids and proofs are reclaimed; 0 disables sweeping",
		},
		{
			Name:        "amount-keyword",
			DefValue:    "",
			Description: "Extra financing-limit keyword phrase; repeatable",
			Repeatable:  true,
		},
		{Name: "pdftotext-bin", DefValue: "pdftotext", Description: "pdftotext binary used for PDF extraction"},
		{Name: "tesseract-bin", DefValue: "tesseract", Description: "tesseract binary used for image OCR"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level log"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cobra.OnInitialize(func() {
		v.SetConfigType("json")
		v.SetConfigName("config")
		v.AddConfigPath(os.Getenv("ATTESTD_PATH"))
		v.AddConfigPath(defaultConfigPath)
		_ = v.ReadInConfig()
	})

	common.ConfigureCLI(v, "ATTESTD", flags, rootCmd.PersistentFlags())
}

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "attestd verifies financing documents behind monetary bids",
	Long: `attestd verifies financing documents behind monetary bids.

A bidder attaches a financing-capacity document (PDF or scanned image) to a
bid. attestd checks that the document supports the claimed amount and mints a
short-lived, single-use reference code a broker can redeem to review and
approve or reject the bid.

To get started, run 'attestd init' followed by 'attestd daemon'.
`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes attestd configuration file",
	Long: `Initializes attestd configuration file.

attestd uses a repository in the local file system. By default, the repo is
located at ~/.attestd. To change the repo location, set the $ATTESTD_PATH
environment variable:

    export ATTESTD_PATH=/path/to/attestdrepo
`,
	Run: func(c *cobra.Command, args []string) {
		path := os.Getenv("ATTESTD_PATH")
		if path == "" {
			path = defaultConfigPath
		}
		common.CheckErrf("creating repo: %v", os.MkdirAll(path, 0o755))

		settings, err := json.MarshalIndent(v.AllSettings(), "", "  ")
		common.CheckErrf("marshaling config: %v", err)

		file := filepath.Join(path, "config")
		common.CheckErrf("writing config: %v", os.WriteFile(file, settings, 0o644))
		fmt.Println(string(settings))
		fmt.Printf("Initialized configuration file: %s\n", file)
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the bid attestation daemon",
	Long:  "Run the bid attestation daemon serving the verification HTTP API.",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		common.ExpandEnvVars(v, v.AllSettings())
		err := common.ConfigureLogging(v, []string{
			"attestd",
			"attestd/service",
			"attestd/store",
			"attestd/api",
			"docproof",
			"docextract",
		})
		common.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := json.MarshalIndent(v.AllSettings(), "", "  ")
		common.CheckErr(err)
		log.Infof("loaded config: %s", string(settings))

		err = common.SetupInstrumentation(v.GetString("metrics-addr"))
		common.CheckErrf("booting instrumentation: %v", err)

		repoPath := os.Getenv("ATTESTD_PATH")
		if repoPath == "" {
			repoPath = defaultConfigPath
		}
		fin := finalizer.NewFinalizer()

		dstore, err := badger.NewDatastore(filepath.Join(repoPath, "store"), &badger.DefaultOptions)
		common.CheckErrf("opening datastore: %v", err)
		fin.Add(dstore)

		scratchDir := filepath.Join(repoPath, "tmp")
		common.CheckErrf("creating scratch dir: %v", os.MkdirAll(scratchDir, 0o755))
		extractor := docextract.NewCLIExtractor(scratchDir,
			docextract.WithBinaries(v.GetString("pdftotext-bin"), v.GetString("tesseract-bin")))

		serv, err := service.New(service.Config{
			Store: store.Config{
				ProofTTL:      v.GetDuration("proof-ttl"),
				BidTTL:        v.GetDuration("bid-ttl"),
				SweepInterval: v.GetDuration("sweep-interval"),
			},
			ExtraAmountKeywords: common.ParseStringSlice(v, "amount-keyword"),
		}, txndswrap.Wrap(dstore), extractor)
		common.CheckErrf("starting service: %v", err)
		fin.Add(serv)

		server, err := httpapi.NewServer(v.GetString("http-addr"), serv)
		common.CheckErrf("creating http server: %v", err)
		fin.Add(server)

		common.HandleInterrupt(func() {
			if err := fin.Cleanup(nil); err != nil {
				log.Errorf("cleanup: %v", err)
			}
		})
	},
}

func main() {
	common.CheckErr(rootCmd.Execute())
}
