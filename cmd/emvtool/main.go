// Command emvtool works with EMV CA public-key registries: verifying
// and printing registry entries, and generating fresh CA keys.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/emvkit/emvpki/config"
	"github.com/emvkit/emvpki/crypto"
	"github.com/emvkit/emvpki/pki"
	"github.com/emvkit/emvpki/registry"
	"github.com/emvkit/emvpki/types"
)

func main() {
	var (
		cfgPath  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "emvtool",
		Short: "EMV PKI utilities: CA public-key registry and key generation",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(level)
			log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

			var cfg *config.Config
			if cfgPath != "" {
				cfg, err = config.GetConfig(cfgPath)
			} else {
				cfg, err = config.GetConfig()
			}
			if err != nil {
				return err
			}
			appConfig = cfg
			return config.Apply(cfg)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file or directory")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level")

	rootCmd.AddCommand(capkCmd(), gencaCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var appConfig *config.Config

func capkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capk",
		Short: "Inspect a CA public-key registry",
	}

	var file string

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity hash of every registry entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := registry.NewFileSource(registryPath(file), log.Logger)
			keys, err := src.All()
			if err != nil {
				return err
			}
			bad := 0
			for _, pk := range keys {
				ok := pk.Verify()
				status := "ok"
				if !ok {
					status = "FAILED"
					bad++
				}
				fmt.Printf("%s %02x %4d bits  %s\n",
					types.HexBytes(pk.RID[:]), pk.Index, len(pk.Modulus)*8, status)
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d keys failed verification", bad, len(keys))
			}
			log.Info().Int("keys", len(keys)).Msg("registry verified")
			return nil
		},
	}

	var (
		ridStr   string
		indexStr string
		jsonOut  bool
	)
	show := &cobra.Command{
		Use:   "show",
		Short: "Look up one CA key by RID and index and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rid, err := parseRID(ridStr)
			if err != nil {
				return err
			}
			index, err := hex.DecodeString(indexStr)
			if err != nil || len(index) != 1 {
				return fmt.Errorf("index must be one hex byte")
			}
			src := registry.NewFileSource(registryPath(file), log.Logger)
			pk, err := src.Lookup(rid, index[0])
			if err != nil {
				return err
			}
			if jsonOut {
				out, err := json.MarshalIndent(pk, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			fmt.Println(pk.RegistryLine())
			return nil
		},
	}
	show.Flags().StringVar(&ridStr, "rid", "", "5-byte RID, e.g. a0:00:00:00:03")
	show.Flags().StringVar(&indexStr, "index", "", "Key index, one hex byte")
	show.Flags().BoolVar(&jsonOut, "json", false, "Print the key as JSON instead of a registry line")

	cmd.PersistentFlags().StringVarP(&file, "file", "f", "", "Registry file (defaults to capk_file from config)")
	cmd.AddCommand(verify, show)
	return cmd
}

func gencaCmd() *cobra.Command {
	var (
		ridStr string
		index  uint8
		bits   int
		expire string
	)

	cmd := &cobra.Command{
		Use:   "genca",
		Short: "Generate a CA RSA key and print its registry line",
		RunE: func(cmd *cobra.Command, args []string) error {
			rid, err := parseRID(ridStr)
			if err != nil {
				return err
			}
			exp, err := parseExpireArg(expire)
			if err != nil {
				return err
			}

			log.Info().Int("bits", bits).Msg("generating CA key")
			key, err := crypto.GenerateKey(crypto.PKRSA, bits)
			if err != nil {
				return err
			}
			pk, err := pki.MakeCA(key, rid, index, exp, crypto.HashSHA1)
			if err != nil {
				return err
			}
			fmt.Println(pk.RegistryLine())
			return nil
		},
	}
	cmd.Flags().StringVar(&ridStr, "rid", "a0:00:00:00:03", "5-byte RID")
	cmd.Flags().Uint8Var(&index, "index", 0x92, "Key index")
	cmd.Flags().IntVar(&bits, "bits", 1024, "Modulus size in bits")
	cmd.Flags().StringVar(&expire, "expire", "991231", "Expiry as YYMMDD")
	return cmd
}

func registryPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return appConfig.CAPKFile
}

func parseRID(s string) ([]byte, error) {
	rid, err := types.HexToBytes(strings.ReplaceAll(s, ":", ""))
	if err != nil || len(rid) != 5 {
		return nil, fmt.Errorf("RID must be 5 hex bytes")
	}
	return rid, nil
}

func parseExpireArg(s string) (uint32, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("expiry must be six digits YYMMDD")
	}
	var out uint32
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("expiry must be six digits YYMMDD")
		}
		out = out<<4 | uint32(c-'0')
	}
	return out, nil
}
