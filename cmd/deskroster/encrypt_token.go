package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alecgard/deskroster/internal/config"
	"github.com/alecgard/deskroster/internal/crypto"
)

var encryptTokenCmd = &cobra.Command{
	Use:   "encrypt-token <plaintext>",
	Short: "Encrypt an API token for use in the instances file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		c, err := crypto.NewCipher(cfg.TokenKey)
		if err != nil {
			return err
		}
		if c == nil {
			return errors.New("token_key is not set; configure it or export DESKROSTER_TOKEN_KEY")
		}

		ct, err := c.Encrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), config.EncryptedTokenPrefix+ct)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encryptTokenCmd)
}
